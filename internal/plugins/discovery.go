package plugins

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Discover returns the manifest files found under paths, sorted. Directories
// are walked recursively; plain files are returned when they are manifests.
// Missing paths are skipped.
func Discover(paths []string) ([]string, error) {
	seen := make(map[string]struct{})
	var found []string
	add := func(path string) {
		path = filepath.Clean(path)
		if _, dup := seen[path]; dup {
			return
		}
		seen[path] = struct{}{}
		found = append(found, path)
	}

	for _, root := range paths {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		info, err := os.Stat(root)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("stat extension path: %w", err)
		}
		if !info.IsDir() {
			if IsManifestFile(root) {
				add(root)
			}
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if path != root && strings.HasPrefix(d.Name(), ".") {
					return filepath.SkipDir
				}
				return nil
			}
			if IsManifestFile(d.Name()) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scan extension path %s: %w", root, err)
		}
	}

	sort.Strings(found)
	return found, nil
}
