package tracking

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

// Stamp is the change indicator for one file. A path counts as changed when
// either the size or the mtime differs between snapshots.
type Stamp struct {
	Size       int64
	MTimeNanos int64
}

// Snapshot maps each regular file under the watched roots to its stamp.
type Snapshot map[string]Stamp

// TakeSnapshot walks the given roots recursively and records a stamp per
// regular file. Roots that do not exist are skipped. Excluded path prefixes
// are not descended into.
func TakeSnapshot(fs afero.Fs, roots []string, excluded []string) (Snapshot, error) {
	snap := make(Snapshot)
	for _, root := range roots {
		if isExcluded(root, excluded) {
			continue
		}
		err := afero.Walk(fs, root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				// A root vanishing mid-walk is not fatal; the diff just
				// reflects what was visible.
				return nil
			}
			if isExcluded(path, excluded) {
				if info.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if info.IsDir() || !info.Mode().IsRegular() {
				return nil
			}
			snap[path] = Stamp{Size: info.Size(), MTimeNanos: info.ModTime().UnixNano()}
			return nil
		})
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
	}
	return snap, nil
}

// Diff returns the paths whose stamp changed between before and after,
// together with paths present only in after. Deletions are not reported;
// a removed file has no content to persist.
func (before Snapshot) Diff(after Snapshot) []string {
	var changed []string
	for path, stamp := range after {
		prev, ok := before[path]
		if !ok || prev != stamp {
			changed = append(changed, path)
		}
	}
	sort.Strings(changed)
	return changed
}

// isExcluded reports whether path falls under any excluded prefix.
func isExcluded(path string, excluded []string) bool {
	for _, prefix := range excluded {
		if path == prefix || strings.HasPrefix(path, strings.TrimSuffix(prefix, "/")+"/") {
			return true
		}
	}
	return false
}
