package tshost

import (
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	ignore "github.com/sabhiram/go-gitignore"
)

var skipDirs = map[string]struct{}{
	"node_modules": {},
	".git":         {},
	".hg":          {},
	".svn":         {},
	"build":        {},
	"target":       {},
	"coverage":     {},
	".cache":       {},
	".es":          {},
}

// discovery is the outcome of walking a tree.
type discovery struct {
	files        []string // repo-relative, sorted
	manifestDirs []string // directories holding the unit manifest
}

// discover walks root for .ts and .tsx files. The root .gitignore is
// honoured; include (when non-empty) and exclude are gitignore patterns
// matched against repo-relative paths. Manifest directories are collected
// regardless of the filters.
func discover(root string, include, exclude []string, manifest string) (*discovery, error) {
	var gi *ignore.GitIgnore
	if g, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore")); err == nil {
		gi = g
	}
	var inc, exc *ignore.GitIgnore
	if len(include) > 0 {
		inc = ignore.CompileIgnoreLines(include...)
	}
	if len(exclude) > 0 {
		exc = ignore.CompileIgnoreLines(exclude...)
	}

	out := &discovery{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		name := d.Name()

		if d.IsDir() {
			if _, skip := skipDirs[name]; skip || strings.HasPrefix(name, "bazel-") {
				return filepath.SkipDir
			}
			if gi != nil && gi.MatchesPath(rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}
		if manifest != "" && name == manifest {
			out.manifestDirs = append(out.manifestDirs, path.Dir(rel))
			return nil
		}
		if !isSource(name) {
			return nil
		}
		if gi != nil && gi.MatchesPath(rel) {
			return nil
		}
		if inc != nil && !inc.MatchesPath(rel) {
			return nil
		}
		if exc != nil && exc.MatchesPath(rel) {
			return nil
		}
		out.files = append(out.files, rel)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(out.files)
	sort.Strings(out.manifestDirs)
	return out, nil
}

func isSource(name string) bool {
	return strings.HasSuffix(name, ".ts") || strings.HasSuffix(name, ".tsx")
}
