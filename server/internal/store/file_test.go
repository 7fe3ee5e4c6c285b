package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/zita-photo/zita/pkg/atomicfile"
	"github.com/zita-photo/zita/pkg/types"
	"github.com/zita-photo/zita/server/internal/metrics"
)

func TestOpenFile_LoadsExistingJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.json")
	writeFile(t, path, `{"a ~ 1": ["Good"], "a ~ 2": [], "b ~ 1": ["Bad", "Fair"]}`)

	s := openFileForTest(t, Options{Output: path})
	wantCount(t, s, "a", 1)
	wantCount(t, s, "b", 1)

	got, _ := s.Get(context.Background(), "b ~ 1")
	if !got.Equal(types.TagSet{"Bad", "Fair"}) {
		t.Errorf("Get: got %v", got)
	}
}

func TestOpenFile_LoadsCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.csv")
	writeFile(t, path, "a ~ 1,Good||Fair\r\n\na ~ 2,\nb ~ 1,Bad")

	s := openFileForTest(t, Options{Output: path})
	m, err := s.Dump(context.Background(), types.AlbumAll)
	if err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if len(m) != 2 {
		t.Errorf("Dump: got %d entries, want 2", len(m))
	}
	wantCount(t, s, "a", 1)
}

func TestOpenFile_RecoversMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.json")
	writeFile(t, path, `{"a ~ 1": ["Good"`)
	rec := metrics.New(false)

	s := openFileForTest(t, Options{Output: path, Metrics: rec})
	m, _ := s.Dump(context.Background(), "")
	if len(m) != 0 {
		t.Errorf("Dump after recovery: got %d entries, want 0", len(m))
	}
	if _, err := os.Stat(path + quarantineSuffix); err != nil {
		t.Errorf("malformed file not kept aside: %v", err)
	}
	if got := counterValue(t, rec, "zita_store_malformed_recoveries_total"); got != 1 {
		t.Errorf("recoveries: got %v, want 1", got)
	}

	// The store is usable and overwrites the bad content.
	mustTag(t, s, "a ~ 1", "Good")
	if _, err := s.Persist(context.Background(), true); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, _, err := readSnapshot(path); err != nil {
		t.Errorf("persisted file unreadable: %v", err)
	}
}

func TestOpenFile_ReadErrorPropagates(t *testing.T) {
	// A directory where the file should be cannot be read.
	dir := filepath.Join(t.TempDir(), "tags.json")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	_, err := OpenFile(Options{Output: dir})
	if !errors.Is(err, ErrStorageIO) {
		t.Fatalf("OpenFile: got %v, want ErrStorageIO", err)
	}
	if errors.Is(err, ErrMalformedPersisted) {
		t.Error("read failure must not be reported as malformed content")
	}
}

func TestPersist_WritesFileAndCSVExport(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "tags.json")
	csv := filepath.Join(dir, "export", "labels.csv")

	s := openFileForTest(t, Options{Output: out, LabelsCSV: csv})
	mustTag(t, s, "b ~ 2", "Bad")
	mustTag(t, s, "a ~ 1", "Good", "Fair")

	changed, err := s.Persist(context.Background(), true)
	if err != nil || !changed {
		t.Fatalf("Persist: got %v, %v", changed, err)
	}
	if got := readFile(t, csv); got != "a ~ 1,Good||Fair\nb ~ 2,Bad" {
		t.Errorf("csv export: got %q", got)
	}
	if !strings.Contains(readFile(t, out), `"a ~ 1": [`) {
		t.Errorf("json output: got %q", readFile(t, out))
	}
	if _, err := os.Stat(out + atomicfile.WorkInProgressSuffix); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestPersist_WithoutExportSkipsCSV(t *testing.T) {
	dir := t.TempDir()
	csv := filepath.Join(dir, "labels.csv")
	s := openFileForTest(t, Options{Output: filepath.Join(dir, "tags.json"), LabelsCSV: csv})
	mustTag(t, s, "a ~ 1", "Good")

	if _, err := s.Persist(context.Background(), false); err != nil {
		t.Fatalf("Persist: %v", err)
	}
	if _, err := os.Stat(csv); !os.IsNotExist(err) {
		t.Errorf("csv export written without alsoExport: %v", err)
	}
}

func TestPersist_EmptyCSVStoreWritesNothing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.csv")
	s := openFileForTest(t, Options{Output: path})

	changed, err := s.Persist(context.Background(), true)
	if err != nil || changed {
		t.Fatalf("Persist: got %v, %v, want false, nil", changed, err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("empty store created %s", path)
	}
}

func TestPersist_Debounced(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.csv")
	s := openFileForTest(t, Options{Output: path, SyncWait: 50 * time.Millisecond})
	mustTag(t, s, "a ~ 1", "Good")

	require.Eventually(t, func() bool {
		b, err := os.ReadFile(path)
		return err == nil && string(b) == "a ~ 1,Good"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestShutdown_WritesFinalState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tags.json")
	s, err := OpenFile(Options{Output: path, SyncWait: time.Hour})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	mustTag(t, s, "a ~ 1", "Good")
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	reopened := openFileForTest(t, Options{Output: path})
	wantCount(t, reopened, "a", 1)

	// A second shutdown must not persist again.
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("second Shutdown wrote the file again")
	}
}

func TestShutdown_ReportsWriteFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tags.json")
	s, err := OpenFile(Options{Output: path, SyncWait: time.Hour})
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	mustTag(t, s, "a ~ 1", "Good")
	// Occupy the output path with a non-empty directory so rename fails.
	if err := os.MkdirAll(filepath.Join(path, "x"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := s.Shutdown(context.Background()); !errors.Is(err, ErrStorageIO) {
		t.Errorf("Shutdown: got %v, want ErrStorageIO", err)
	}
}

// --- helpers ---

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func counterValue(t *testing.T, rec *metrics.Recorder, name string) float64 {
	t.Helper()
	mfs, err := rec.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	return 0
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}
