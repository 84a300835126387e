package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/labrat-lab/labrat/pkg/query"
	"github.com/labrat-lab/labrat/pkg/resultindex"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// resultsResponse is the payload of GET /results.
type resultsResponse struct {
	Count   int                  `json:"count"`
	Results []resultindex.Record `json:"results"`
}

// filesResponse is the payload of GET /files.
type filesResponse struct {
	Files []string `json:"files"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleResults runs a query. Parameters: repeated filter=key=value,
// squash=<bool> and where=<expression>.
func (s *server) handleResults(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()

	filter, err := query.ParseFilter(params["filter"])
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	var squash bool

	if raw := params.Get("squash"); raw != "" {
		squash, err = strconv.ParseBool(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid squash value: " + raw})

			return
		}
	}

	records, err := s.source.Records(r.Context(), filter)
	if err != nil {
		s.log.WithError(err).Error("Failed to load records")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"loading records failed"})

		return
	}

	// The source has already applied the equality filter.
	res, err := query.Run(records, query.Options{
		Where:  params.Get("where"),
		Squash: squash,
	})
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	writeJSON(w, http.StatusOK, resultsResponse{
		Count:   res.Count,
		Results: res.Records,
	})
}

// handleFiles lists the merged package names.
func (s *server) handleFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.source.Files(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to load files")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"loading files failed"})

		return
	}

	writeJSON(w, http.StatusOK, filesResponse{Files: files})
}
