package replay

import (
	"os"
	"path/filepath"
	"testing"
)

func TestListMatchFilesFilters(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Game_20240101T010000.slp", "game_lower.slp", "Game_x.slp.bak", "notes.txt", "Game_b.slp")
	if err := os.Mkdir(filepath.Join(dir, "Game_dir.slp"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	files := ListMatchFiles(dir)
	if len(files) != 2 {
		t.Fatalf("expected 2 files, got %v", files)
	}
	for _, f := range files {
		if filepath.Dir(f.Path()) != dir {
			t.Fatalf("expected path joined with dir, got %s", f)
		}
	}
}

func TestListMatchFilesMissingDir(t *testing.T) {
	if files := ListMatchFiles(filepath.Join(t.TempDir(), "nope")); len(files) != 0 {
		t.Fatalf("expected no files, got %v", files)
	}
	if files := ListMatchFiles(t.TempDir()); len(files) != 0 {
		t.Fatalf("expected no files, got %v", files)
	}
}

func TestMostRecentSameLength(t *testing.T) {
	dir := t.TempDir()
	touch(t, dir, "Game_20240101T020000.slp", "Game_20240101T010000.slp")
	got, ok := MostRecent(ListMatchFiles(dir))
	if !ok || filepath.Base(got.Path()) != "Game_20240101T020000.slp" {
		t.Fatalf("unexpected most recent %q", got)
	}
}

func TestSortByLengthPrefersLongerNames(t *testing.T) {
	files := []FileRef{"/r/Game_9.slp", "/r/Game_10.slp", "/r/Game_2.slp"}
	SortByLength(files)
	want := []FileRef{"/r/Game_2.slp", "/r/Game_9.slp", "/r/Game_10.slp"}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, files)
		}
	}
}

func TestSortDescendingIgnoresLength(t *testing.T) {
	files := []FileRef{"/r/Game_10.slp", "/r/Game_9.slp", "/r/Game_2.slp"}
	SortDescending(files)
	want := []FileRef{"/r/Game_9.slp", "/r/Game_2.slp", "/r/Game_10.slp"}
	for i := range want {
		if files[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, files)
		}
	}
}
