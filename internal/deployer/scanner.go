package deployer

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// DefaultPattern selects the definitions deployed at startup.
const DefaultPattern = "service-orchestration/*.xml"

// Root is one place resources are looked up in: a directory, an archive or
// any fs.FS.
type Root struct {
	Name   string
	FS     fs.FS
	closer io.Closer
}

// FSRoot wraps an fs.FS, typically an embed.FS.
func FSRoot(name string, fsys fs.FS) Root {
	return Root{Name: name, FS: fsys}
}

// Resource is one matched definition document.
type Resource struct {
	// Name is the root name joined with the path inside the root.
	Name string
	fsys fs.FS
	path string
}

// Open opens the resource for reading. The caller closes the stream.
func (r Resource) Open() (io.ReadCloser, error) {
	return r.fsys.Open(r.path)
}

// Scanner resolves a glob pattern across an ordered list of roots.
type Scanner struct {
	roots   []Root
	pattern string
}

// ValidatePattern reports whether pattern is a well-formed glob. An empty
// pattern is valid and means DefaultPattern.
func ValidatePattern(pattern string) error {
	if strings.TrimSpace(pattern) == "" {
		return nil
	}
	if _, err := path.Match(pattern, ""); err != nil {
		return fmt.Errorf("deployer: pattern %q: %w", pattern, err)
	}
	return nil
}

// NewScanner returns a scanner over roots. An empty pattern means
// DefaultPattern. The scanner takes ownership of roots: they are released by
// Close, or right away when the pattern is rejected.
func NewScanner(pattern string, roots ...Root) (*Scanner, error) {
	if err := ValidatePattern(pattern); err != nil {
		closeRoots(roots)
		return nil, err
	}
	if strings.TrimSpace(pattern) == "" {
		pattern = DefaultPattern
	}
	return &Scanner{roots: roots, pattern: pattern}, nil
}

// OpenRoots turns configured locations into roots. Directories are read in
// place; .zip and .jar files are opened as archives. Missing locations are
// skipped.
func OpenRoots(locations []string) ([]Root, error) {
	var roots []Root
	for _, loc := range locations {
		info, err := os.Stat(loc)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			closeRoots(roots)
			return nil, fmt.Errorf("deployer: root %s: %w", loc, err)
		}
		if info.IsDir() {
			roots = append(roots, Root{Name: filepath.ToSlash(loc), FS: os.DirFS(loc)})
			continue
		}
		switch strings.ToLower(filepath.Ext(loc)) {
		case ".zip", ".jar":
			zr, err := zip.OpenReader(loc)
			if err != nil {
				closeRoots(roots)
				return nil, fmt.Errorf("deployer: open archive %s: %w", loc, err)
			}
			roots = append(roots, Root{Name: filepath.ToSlash(loc) + "!", FS: zr, closer: zr})
		default:
			closeRoots(roots)
			return nil, fmt.Errorf("deployer: root %s is neither a directory nor an archive", loc)
		}
	}
	return roots, nil
}

// Scan lists matching resources: roots in order, files within a root in
// lexical order.
func (s *Scanner) Scan() ([]Resource, error) {
	var out []Resource
	for _, root := range s.roots {
		matches, err := fs.Glob(root.FS, s.pattern)
		if err != nil {
			return nil, fmt.Errorf("deployer: scan %s: %w", root.Name, err)
		}
		for _, match := range matches {
			info, err := fs.Stat(root.FS, match)
			if err != nil {
				return nil, fmt.Errorf("deployer: stat %s/%s: %w", root.Name, match, err)
			}
			if info.IsDir() {
				continue
			}
			out = append(out, Resource{Name: path.Join(root.Name, match), fsys: root.FS, path: match})
		}
	}
	return out, nil
}

// Pattern returns the glob the scanner matches.
func (s *Scanner) Pattern() string {
	return s.pattern
}

// Close releases archive roots.
func (s *Scanner) Close() error {
	return closeRoots(s.roots)
}

func closeRoots(roots []Root) error {
	var errs []error
	for _, root := range roots {
		if root.closer != nil {
			if err := root.closer.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
