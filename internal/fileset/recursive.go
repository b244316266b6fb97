package fileset

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// expandRecursive evaluates a pattern containing a `**` segment, which
// fs.Glob does not understand. The prefix before `**` must be a literal
// directory; the remainder is matched against every trailing sub-path of
// the files below it, so `projects/**/*.yaml` finds manifests at any
// nesting depth including directly under projects/.
func expandRecursive(fsys fs.FS, pattern string) ([]string, error) {
	idx := strings.Index(pattern, "**")
	base := strings.TrimSuffix(pattern[:idx], "/")
	rest := strings.TrimPrefix(pattern[idx+2:], "/")

	if strings.Contains(rest, "**") {
		return nil, errors.New("at most one ** segment is supported")
	}
	if strings.ContainsAny(base, "*?[") {
		return nil, errors.New("the directory before ** must be literal")
	}
	if rest != "" {
		if _, err := path.Match(rest, ""); err != nil {
			return nil, fmt.Errorf("after **: %w", err)
		}
	}

	root := base
	if root == "" {
		root = "."
	}

	var matches []string
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel := p
		if base != "" {
			rel = strings.TrimPrefix(p, base+"/")
		}
		if matchTrailing(rest, rel) {
			matches = append(matches, p)
		}
		return nil
	})
	if err != nil {
		// A missing directory means no matches, same as fs.Glob.
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	return matches, nil
}

// matchTrailing reports whether any suffix of rel's path segments
// matches pattern. Pattern wildcards never cross a separator, so the
// `**` depth freedom comes entirely from choosing the suffix.
func matchTrailing(pattern, rel string) bool {
	if pattern == "" {
		return true
	}
	segments := strings.Split(rel, "/")
	for i := range segments {
		candidate := path.Join(segments[i:]...)
		if ok, _ := path.Match(pattern, candidate); ok {
			return true
		}
	}
	return false
}
