// Package replay lists replay files and derives opponent history from them.
package replay

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var matchFilePattern = regexp.MustCompile(`^Game_.*\.slp$`)

// FileRef is the path of a replay file.
type FileRef string

// Path returns the file path.
func (f FileRef) Path() string {
	return string(f)
}

// ListMatchFiles returns the replay files in dir in directory order. A missing
// or unreadable directory yields no files.
func ListMatchFiles(dir string) []FileRef {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var files []FileRef
	for _, e := range entries {
		if e.IsDir() || !matchFilePattern.MatchString(e.Name()) {
			continue
		}
		files = append(files, FileRef(filepath.Join(dir, e.Name())))
	}
	return files
}

// SortByLength orders files by path length, then by name. It is how the most
// recent replay is picked; later timestamps in replay names sort last.
func SortByLength(files []FileRef) {
	sort.SliceStable(files, func(i, j int) bool {
		if len(files[i]) != len(files[j]) {
			return len(files[i]) < len(files[j])
		}
		return files[i] < files[j]
	})
}

// SortDescending orders files by plain descending string comparison.
func SortDescending(files []FileRef) {
	sort.Slice(files, func(i, j int) bool {
		return files[i] > files[j]
	})
}

// MostRecent returns the last file after SortByLength.
func MostRecent(files []FileRef) (FileRef, bool) {
	if len(files) == 0 {
		return "", false
	}
	sorted := append([]FileRef(nil), files...)
	SortByLength(sorted)
	return sorted[len(sorted)-1], true
}
