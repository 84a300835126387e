package resultindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/labrat-lab/labrat/pkg/runpkg"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func int64Ptr(v int64) *int64 { return &v }

func testLogger() logrus.FieldLogger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	return log
}

// writePackage creates a run package in dir and returns its path.
func writePackage(t *testing.T, dir, name string, md *runpkg.Metadata) string {
	t.Helper()

	path := filepath.Join(dir, name)

	_, err := runpkg.Create(path, md, runpkg.CreateOptions{})
	require.NoError(t, err)

	return path
}

func twoTestRun() *runpkg.Metadata {
	return &runpkg.Metadata{
		Tests: []runpkg.TestResult{
			{Name: "t1", Result: runpkg.ResultPass},
			{Name: "t2", Result: runpkg.ResultFail},
		},
		User:      runpkg.String("alice"),
		Board:     runpkg.String("rpi4"),
		HWID:      runpkg.String("h1"),
		Variant:   runpkg.String("debug"),
		OS:        runpkg.String("linux"),
		FW:        runpkg.String("1.2"),
		Command:   runpkg.String("run-suite"),
		Remote:    runpkg.String("lab-3"),
		StartTime: int64Ptr(90),
		EndTime:   int64Ptr(100),
	}
}

func TestNew_FreshValues(t *testing.T) {
	a := New()
	b := New()

	a.Files = append(a.Files, "x.zip")

	assert.Equal(t, Version, b.Version)
	assert.Empty(t, b.Files)
	assert.Empty(t, b.Results)
}

func TestMergePackage_CopiesRunAttributes(t *testing.T) {
	dir := t.TempDir()
	path := writePackage(t, dir, "run-1.zip", twoTestRun())

	idx := New()
	require.NoError(t, MergePackage(idx, path, "run-1.zip"))

	assert.Equal(t, []string{"run-1.zip"}, idx.Files)
	require.Len(t, idx.Results, 2)

	for i, name := range []string{"t1", "t2"} {
		rec := idx.Results[i]
		assert.Equal(t, name, rec.Name)
		assert.Equal(t, "h1", *rec.HWID)
		assert.Equal(t, "alice", *rec.User)
		assert.Equal(t, "rpi4", *rec.Board)
		assert.Equal(t, "debug", *rec.Variant)
		assert.Equal(t, "linux", *rec.OS)
		assert.Equal(t, "1.2", *rec.FW)
		assert.Equal(t, "run-suite", *rec.Command)
		assert.Equal(t, "lab-3", *rec.Remote)
		assert.Equal(t, int64(90), *rec.StartTime)
		assert.Equal(t, int64(100), *rec.EndTime)
		assert.Equal(t, "run-1.zip", rec.File)
	}

	assert.Equal(t, runpkg.ResultPass, idx.Results[0].Result)
	assert.Equal(t, runpkg.ResultFail, idx.Results[1].Result)
}

func TestMergePackage_KeepsPresentEmptyValues(t *testing.T) {
	md, err := runpkg.DecodeMetadata([]byte(
		`{"tests":[{"name":"t1","result":"PASS","notes":""}],"user":"","hwid":"h1"}`,
	))
	require.NoError(t, err)

	dir := t.TempDir()
	path := writePackage(t, dir, "run-1.zip", md)

	idx := New()
	require.NoError(t, MergePackage(idx, path, "run-1.zip"))
	require.Len(t, idx.Results, 1)

	rec := idx.Results[0]

	user, ok := rec.FieldString(FieldUser)
	require.True(t, ok)
	assert.Equal(t, "", user)

	notes, ok := rec.FieldString(FieldNotes)
	require.True(t, ok)
	assert.Equal(t, "", notes)

	_, ok = rec.FieldString(FieldBoard)
	assert.False(t, ok)

	data, err := Encode(idx)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"user": ""`)
	assert.Contains(t, string(data), `"notes": ""`)
	assert.NotContains(t, string(data), `"board"`)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, idx.Results, decoded.Results)
}

func TestMergePackage_NotIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := writePackage(t, dir, "run-1.zip", twoTestRun())

	idx := New()
	require.NoError(t, MergePackage(idx, path, "run-1.zip"))
	require.NoError(t, MergePackage(idx, path, "run-1.zip"))

	assert.Equal(t, []string{"run-1.zip", "run-1.zip"}, idx.Files)
	assert.Len(t, idx.Results, 4)
}

func TestMergePackage_ErrorLeavesIndexUnchanged(t *testing.T) {
	idx := New()

	err := MergePackage(idx, filepath.Join(t.TempDir(), "missing.zip"), "missing.zip")
	require.Error(t, err)

	var pkgErr *runpkg.PackageError
	assert.ErrorAs(t, err, &pkgErr)
	assert.Empty(t, idx.Files)
	assert.Empty(t, idx.Results)
}

func TestMergeMetadata_DoesNotAliasTimes(t *testing.T) {
	md := twoTestRun()

	idx := New()
	MergeMetadata(idx, md, "run-1.zip")

	*md.EndTime = 999

	assert.Equal(t, int64(100), *idx.Results[0].EndTime)
	assert.NotSame(t, idx.Results[0].EndTime, idx.Results[1].EndTime)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writePackage(t, dir, "run-1.zip", twoTestRun())

	idx, report, err := BuildIndex(context.Background(), testLogger(), nil, []string{path}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Records)

	indexPath := filepath.Join(dir, "index.json")
	require.NoError(t, Save(indexPath, idx, nil))

	loaded, err := Load(indexPath)
	require.NoError(t, err)

	assert.Equal(t, Version, loaded.Version)
	assert.Equal(t, []string{"run-1.zip"}, loaded.Files)
	require.Len(t, loaded.Results, 2)
	assert.Equal(t, idx.Results, loaded.Results)
	assert.Equal(t, "h1", *loaded.Results[1].HWID)
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr error
		files   int
	}{
		{
			name:  "empty v1",
			data:  `{"version":1,"files":[],"results":[]}`,
			files: 0,
		},
		{
			name:  "null lists become empty",
			data:  `{"version":1}`,
			files: 0,
		},
		{
			name:  "with files",
			data:  `{"version":1,"files":["a.zip","b.zip"],"results":[]}`,
			files: 2,
		},
		{
			name:    "future version",
			data:    `{"version":2,"files":[],"results":[]}`,
			wantErr: ErrUnsupportedVersion,
		},
		{
			name:    "missing version",
			data:    `{"files":[],"results":[]}`,
			wantErr: ErrUnsupportedVersion,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			idx, err := Decode([]byte(tt.data))
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, idx.Files)
			assert.NotNil(t, idx.Results)
			assert.Len(t, idx.Files, tt.files)
		})
	}

	_, err := Decode([]byte(`{"version":`))
	assert.Error(t, err)
}

func TestLoadOrNew(t *testing.T) {
	dir := t.TempDir()

	idx, err := LoadOrNew(filepath.Join(dir, "absent.json"))
	require.NoError(t, err)
	assert.Equal(t, New(), idx)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o644))

	_, err = LoadOrNew(bad)
	assert.Error(t, err)
}

func TestBuild_PartialFailure(t *testing.T) {
	dir := t.TempDir()

	first := twoTestRun()
	third := &runpkg.Metadata{
		Tests:   []runpkg.TestResult{{Name: "t3", Result: runpkg.ResultSkip}},
		HWID:    runpkg.String("h2"),
		EndTime: int64Ptr(300),
	}

	writePackage(t, dir, "a.zip", first)
	writePackage(t, dir, "c.zip", third)

	refs := []string{"a.zip", "b.zip", "c.zip"}

	idx, report, err := BuildIndex(context.Background(), testLogger(), nil, refs, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.zip", "c.zip"}, idx.Files)
	require.Len(t, idx.Results, 3)
	assert.Equal(t, "a.zip", idx.Results[0].File)
	assert.Equal(t, "a.zip", idx.Results[1].File)
	assert.Equal(t, "c.zip", idx.Results[2].File)

	assert.Equal(t, []string{"a.zip", "c.zip"}, report.Merged)
	require.Len(t, report.Failed, 1)
	assert.Equal(t, "b.zip", report.Failed[0].Ref)
	assert.Contains(t, report.Failed[0].Err.Error(), filepath.Join(dir, "b.zip"))
}

func TestBuild_AppendsToExisting(t *testing.T) {
	dir := t.TempDir()
	writePackage(t, dir, "a.zip", twoTestRun())
	writePackage(t, dir, "b.zip", twoTestRun())

	existing, _, err := BuildIndex(context.Background(), testLogger(), nil, []string{"a.zip"}, dir)
	require.NoError(t, err)

	idx, _, err := BuildIndex(context.Background(), testLogger(), existing, []string{"b.zip"}, dir)
	require.NoError(t, err)

	assert.Equal(t, []string{"a.zip", "b.zip"}, idx.Files)
	assert.Len(t, idx.Results, 4)
}

func TestBuild_DeterministicOrder(t *testing.T) {
	dir := t.TempDir()

	refs := make([]string, 0, 12)

	for i := range 12 {
		name := filepath.Join(dir, "run-"+string(rune('a'+i))+".zip")
		writePackage(t, dir, filepath.Base(name), &runpkg.Metadata{
			Tests:   []runpkg.TestResult{{Name: "t", Result: runpkg.ResultPass}},
			EndTime: int64Ptr(int64(1000 - i)),
		})

		refs = append(refs, name)
	}

	b := NewBuilder(testLogger(), &LocalSource{}, 8)

	for range 3 {
		idx := New()

		_, err := b.Build(context.Background(), idx, refs)
		require.NoError(t, err)

		require.Len(t, idx.Files, len(refs))

		for i, ref := range refs {
			assert.Equal(t, filepath.Base(ref), idx.Files[i])
		}
	}
}

func TestBuild_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	b := NewBuilder(testLogger(), &LocalSource{}, 1)

	_, err := b.Build(ctx, New(), []string{"a.zip"})
	assert.ErrorIs(t, err, context.Canceled)
}

// watchingSource records how many packages were merged when each ref was
// fetched. Fetches of a window start after the previous window is merged.
type watchingSource struct {
	LocalSource

	idx      *Index
	cancelAt string
	cancel   context.CancelFunc

	mu       sync.Mutex
	mergedAt map[string]int
}

func (s *watchingSource) Fetch(ctx context.Context, ref string) (*Package, error) {
	s.mu.Lock()
	s.mergedAt[ref] = len(s.idx.Files)
	s.mu.Unlock()

	if ref == s.cancelAt {
		s.cancel()
	}

	return s.LocalSource.Fetch(ctx, ref)
}

func writeRuns(t *testing.T, dir string, n int) []string {
	t.Helper()

	refs := make([]string, 0, n)

	for i := range n {
		name := fmt.Sprintf("run-%02d.zip", i)
		writePackage(t, dir, name, &runpkg.Metadata{
			Tests: []runpkg.TestResult{{Name: "t", Result: runpkg.ResultPass}},
		})

		refs = append(refs, name)
	}

	return refs
}

func TestBuild_BoundsUnmergedPackages(t *testing.T) {
	dir := t.TempDir()
	refs := writeRuns(t, dir, 10)

	for _, concurrency := range []int{1, 3, 16} {
		t.Run(fmt.Sprintf("concurrency %d", concurrency), func(t *testing.T) {
			idx := New()
			src := &watchingSource{
				LocalSource: LocalSource{ResultsDir: dir},
				idx:         idx,
				mergedAt:    make(map[string]int, len(refs)),
			}

			report, err := NewBuilder(testLogger(), src, concurrency).
				Build(context.Background(), idx, refs)
			require.NoError(t, err)

			assert.Equal(t, refs, idx.Files)
			assert.Equal(t, refs, report.Merged)

			for i, ref := range refs {
				assert.GreaterOrEqual(t, src.mergedAt[ref], i-concurrency+1,
					"%s fetched with too many packages pending", ref)
			}
		})
	}
}

func TestBuild_CancelMidwayLeavesIndexUnchanged(t *testing.T) {
	dir := t.TempDir()
	refs := writeRuns(t, dir, 6)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	existing := New()
	MergeMetadata(existing, twoTestRun(), "old.zip")

	src := &watchingSource{
		LocalSource: LocalSource{ResultsDir: dir},
		idx:         existing,
		cancelAt:    refs[2],
		cancel:      cancel,
		mergedAt:    make(map[string]int, len(refs)),
	}

	_, err := NewBuilder(testLogger(), src, 2).Build(ctx, existing, refs)
	require.ErrorIs(t, err, context.Canceled)

	assert.Equal(t, []string{"old.zip"}, existing.Files)
	assert.Len(t, existing.Results, 2)
}

func TestLocalSource_Fetch(t *testing.T) {
	tests := []struct {
		name       string
		resultsDir string
		ref        string
		wantPath   string
		wantName   string
	}{
		{
			name:     "verbatim",
			ref:      "/data/runs/run-1.zip",
			wantPath: "/data/runs/run-1.zip",
			wantName: "run-1.zip",
		},
		{
			name:       "prefixed",
			resultsDir: "/data/runs",
			ref:        "2024/run-2.zip",
			wantPath:   "/data/runs/2024/run-2.zip",
			wantName:   "run-2.zip",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &LocalSource{ResultsDir: tt.resultsDir}

			pkg, err := src.Fetch(context.Background(), tt.ref)
			require.NoError(t, err)
			defer pkg.Close()

			assert.Equal(t, tt.wantPath, pkg.Path)
			assert.Equal(t, tt.wantName, pkg.Name)
		})
	}
}

func TestReadPackageList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packages.txt")
	require.NoError(t, os.WriteFile(path, []byte("  a.zip\n\nb.zip  \n\t\nc.zip"), 0o644))

	refs, err := ReadPackageList(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.zip", "b.zip", "c.zip"}, refs)

	_, err = ReadPackageList(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestRecord_Field(t *testing.T) {
	rec := Record{
		Name:    "t1",
		Result:  runpkg.ResultFail,
		HWID:    runpkg.String("h1"),
		User:    runpkg.String(""),
		EndTime: int64Ptr(100),
		File:    "run-1.zip",
	}

	v, ok := rec.Field(FieldEndTime)
	require.True(t, ok)
	assert.Equal(t, int64(100), v)

	s, ok := rec.FieldString(FieldEndTime)
	require.True(t, ok)
	assert.Equal(t, "100", s)

	_, ok = rec.Field(FieldStartTime)
	assert.False(t, ok)

	_, ok = rec.Field(FieldNotes)
	assert.False(t, ok)

	s, ok = rec.FieldString(FieldUser)
	require.True(t, ok, "present empty value")
	assert.Equal(t, "", s)

	_, ok = rec.Field("unknown")
	assert.False(t, ok)

	assert.Equal(t, map[string]any{
		"name":    "t1",
		"result":  "FAIL",
		"user":    "",
		"hwid":    "h1",
		"endtime": int64(100),
		"file":    "run-1.zip",
	}, rec.Env())
}
