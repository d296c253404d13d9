// internal/projectpath/projectpath.go
package projectpath

import (
	"errors"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
)

var (
	// ErrOutsideProject is returned for paths that resolve outside the project root.
	ErrOutsideProject = errors.New("path is outside the project root")
	// ErrEmptyPath is returned for empty input and for the root itself.
	ErrEmptyPath = errors.New("empty path")
)

// Root is a project directory that tracked paths are resolved against.
// The zero value is not usable; construct with New or Lexical.
type Root struct {
	dir  string
	real string
}

// New returns a Root for dir, resolving symlinks so that both spellings of the
// directory (e.g. /var and /private/var on macOS) are recognised.
func New(dir string) (Root, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return Root{}, err
	}
	abs = filepath.Clean(abs)

	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		real = abs
	}

	return Root{dir: abs, real: real}, nil
}

// Lexical returns a Root without touching the file system.
func Lexical(dir string) Root {
	clean := filepath.Clean(dir)
	return Root{dir: clean, real: clean}
}

// Dir returns the absolute root directory.
func (r Root) Dir() string {
	return r.dir
}

// Rel normalises raw (absolute or relative) into a project-relative,
// slash-separated path with no leading or trailing separators.
func (r Root) Rel(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrEmptyPath
	}

	native := filepath.Clean(filepath.FromSlash(raw))

	var rel string
	if filepath.IsAbs(native) {
		var ok bool
		rel, ok = relTo(r.dir, native)
		if !ok && r.real != r.dir {
			rel, ok = relTo(r.real, native)
		}
		if !ok {
			return "", ErrOutsideProject
		}
	} else {
		rel = native
		if escapes(rel) {
			return "", ErrOutsideProject
		}
	}

	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return "", ErrEmptyPath
	}
	return rel, nil
}

// Abs joins a project-relative path onto the root.
func (r Root) Abs(rel string) string {
	return filepath.Join(r.dir, filepath.FromSlash(rel))
}

// Resolve joins rel onto the root and follows every symlink on the way.
// Components that do not exist yet are kept as written. The result must
// still lie under the root.
func (r Root) Resolve(rel string) (string, error) {
	return r.resolve(filepath.Clean(filepath.FromSlash(rel)))
}

// ResolveParent resolves the directory of rel and joins the last component
// without following it, so a rename or remove acts on a symlink itself.
func (r Root) ResolveParent(rel string) (string, error) {
	native := filepath.Clean(filepath.FromSlash(rel))
	dir, err := r.resolve(filepath.Dir(native))
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filepath.Base(native)), nil
}

func (r Root) resolve(native string) (string, error) {
	if filepath.IsAbs(native) || escapes(native) {
		return "", ErrOutsideProject
	}
	// Scoped to the volume root, SecureJoin is a plain symlink walk that
	// tolerates missing components; containment is checked afterwards.
	volume := filepath.VolumeName(r.real) + string(filepath.Separator)
	full, err := securejoin.SecureJoin(volume, filepath.Join(r.real, native))
	if err != nil {
		return "", err
	}
	for _, base := range []string{r.real, r.dir} {
		if _, ok := relTo(base, full); ok {
			return full, nil
		}
	}
	return "", ErrOutsideProject
}

func relTo(base, target string) (string, bool) {
	rel, err := filepath.Rel(base, target)
	if err != nil || escapes(rel) {
		return "", false
	}
	return rel, true
}

func escapes(rel string) bool {
	return rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
