package watch

import (
	"io/fs"
	"path/filepath"
)

// collectRecursiveDirs returns root and every directory below it that the
// filter does not ignore.
func collectRecursiveDirs(root string, filter Filter) ([]string, error) {
	dirs := []string{}
	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if path != root && filter.IgnoreDir(path) {
			return filepath.SkipDir
		}
		dirs = append(dirs, path)
		return nil
	})
	return dirs, err
}

// addRecursive watches root and its subdirectories. Already watched
// directories are skipped.
func (s *FSSource) addRecursive(root string) error {
	dirs, err := collectRecursiveDirs(root, s.filter)
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		s.mu.Lock()
		_, seen := s.watched[dir]
		s.mu.Unlock()
		if seen {
			continue
		}
		if err := s.watcher.Add(dir); err != nil {
			if dir == root {
				return err
			}
			s.logf("[watch] watch add failed for %s: %v", dir, err)
			continue
		}
		s.mu.Lock()
		s.watched[dir] = struct{}{}
		s.mu.Unlock()
	}
	return nil
}
