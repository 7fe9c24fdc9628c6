// Package format is the file-format collaborator: a registry of known
// data formats with detection by extension and magic bytes, and validation
// of a local path against a declared format tag. The compiler only ever
// asks "is this tag known" and "does this file look like that tag"; it
// never converts between formats.
package format

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
)

// Format describes one registered file or directory format.
type Format struct {
	// Name is the tag used in spec type expressions, e.g. "nifti-gz".
	Name string
	// Extensions are matched against the end of the file name, longest
	// first, e.g. ".nii.gz".
	Extensions []string
	// Magic, when non-empty, must appear at MagicOffset in the file.
	Magic       []byte
	MagicOffset int64
	// Directory marks formats whose objects are directories (e.g. dicom
	// series); validation then only checks the path is a directory.
	Directory bool
}

// Registry holds registered formats for one compiler instance.
type Registry struct {
	formats map[string]*Format
}

// NewRegistry creates an empty format registry.
func NewRegistry() *Registry {
	return &Registry{formats: make(map[string]*Format)}
}

// Builtin returns a registry pre-populated with the formats the stock
// task modules use.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(&Format{Name: "nifti", Extensions: []string{".nii"}, Magic: []byte("n+1"), MagicOffset: 344})
	r.Register(&Format{Name: "nifti-gz", Extensions: []string{".nii.gz"}, Magic: []byte{0x1f, 0x8b}})
	r.Register(&Format{Name: "dicom", Extensions: []string{".dcm"}, Magic: []byte("DICM"), MagicOffset: 128})
	r.Register(&Format{Name: "dicom-series", Directory: true})
	r.Register(&Format{Name: "json", Extensions: []string{".json"}})
	r.Register(&Format{Name: "csv", Extensions: []string{".csv"}})
	r.Register(&Format{Name: "text", Extensions: []string{".txt"}})
	r.Register(&Format{Name: "zip", Extensions: []string{".zip"}, Magic: []byte{'P', 'K', 0x03, 0x04}})
	r.Register(&Format{Name: "directory", Directory: true})
	return r
}

// Register adds a format. Registering the same tag twice is a programmer
// error and panics, matching task registration semantics.
func (r *Registry) Register(f *Format) {
	if _, exists := r.formats[f.Name]; exists {
		panic(fmt.Sprintf("format %q already registered", f.Name))
	}
	r.formats[f.Name] = f
}

// Lookup returns the format registered under the given tag.
func (r *Registry) Lookup(name string) (*Format, bool) {
	f, ok := r.formats[name]
	return f, ok
}

// Names returns all registered tags, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.formats))
	for name := range r.formats {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Detect determines the format of a local path, preferring extension
// matches (longest extension wins) and falling back to magic bytes.
func (r *Registry) Detect(path string) (*Format, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("detecting format: %w", err)
	}

	if info.IsDir() {
		if f, ok := r.formats["directory"]; ok {
			return f, nil
		}
		return nil, fmt.Errorf("no directory format registered")
	}

	var best *Format
	bestLen := 0
	lower := strings.ToLower(path)
	for _, f := range r.formats {
		for _, ext := range f.Extensions {
			if strings.HasSuffix(lower, ext) && len(ext) > bestLen {
				best, bestLen = f, len(ext)
			}
		}
	}
	if best != nil {
		return best, nil
	}

	for _, f := range r.formats {
		if len(f.Magic) == 0 {
			continue
		}
		ok, err := hasMagic(path, f.Magic, f.MagicOffset)
		if err != nil {
			return nil, err
		}
		if ok {
			return f, nil
		}
	}
	return nil, fmt.Errorf("could not detect format of %q", path)
}

// Validate checks that the object at path matches the declared format tag.
func (r *Registry) Validate(path, name string) error {
	f, ok := r.formats[name]
	if !ok {
		return fmt.Errorf("unknown format tag %q", name)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("validating format: %w", err)
	}

	if f.Directory {
		if !info.IsDir() {
			return fmt.Errorf("%q is declared %s but is not a directory", path, name)
		}
		return nil
	}
	if info.IsDir() {
		return fmt.Errorf("%q is declared %s but is a directory", path, name)
	}

	lower := strings.ToLower(path)
	extMatch := len(f.Extensions) == 0
	for _, ext := range f.Extensions {
		if strings.HasSuffix(lower, ext) {
			extMatch = true
			break
		}
	}
	if !extMatch {
		return fmt.Errorf("%q does not carry a %s extension (%s)", path, name, strings.Join(f.Extensions, ", "))
	}

	if len(f.Magic) > 0 {
		ok, err := hasMagic(path, f.Magic, f.MagicOffset)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%q does not match the %s signature", path, name)
		}
	}
	return nil
}

func hasMagic(path string, magic []byte, offset int64) (bool, error) {
	file, err := os.Open(path)
	if err != nil {
		return false, fmt.Errorf("reading magic bytes: %w", err)
	}
	defer file.Close()

	buf := make([]byte, len(magic))
	if _, err := file.ReadAt(buf, offset); err != nil {
		// A file shorter than offset+len(magic) simply does not match.
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, nil
		}
		return false, fmt.Errorf("reading magic bytes: %w", err)
	}
	return bytes.Equal(buf, magic), nil
}
