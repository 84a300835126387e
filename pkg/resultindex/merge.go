package resultindex

import (
	"github.com/labrat-lab/labrat/pkg/runpkg"
)

// MergeMetadata appends one record per test in md to idx, each carrying the
// run attributes and name as its source file, then records name in
// idx.Files. Merging the same package twice duplicates its records.
func MergeMetadata(idx *Index, md *runpkg.Metadata, name string) {
	for _, test := range md.Tests {
		idx.Results = append(idx.Results, Record{
			Name:      test.Name,
			Result:    test.Result,
			Notes:     copyString(test.Notes),
			User:      copyString(md.User),
			Board:     copyString(md.Board),
			HWID:      copyString(md.HWID),
			Variant:   copyString(md.Variant),
			OS:        copyString(md.OS),
			FW:        copyString(md.FW),
			Command:   copyString(md.Command),
			Remote:    copyString(md.Remote),
			StartTime: copyInt64(md.StartTime),
			EndTime:   copyInt64(md.EndTime),
			File:      name,
		})
	}

	idx.Files = append(idx.Files, name)
}

// MergePackage reads the run package at path and merges it into idx under
// name. On error idx is left unchanged and the *runpkg.PackageError is
// returned.
func MergePackage(idx *Index, path, name string) error {
	md, err := runpkg.ReadMetadata(path)
	if err != nil {
		return err
	}

	MergeMetadata(idx, md, name)

	return nil
}
