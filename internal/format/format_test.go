package format_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/pipecrate/internal/format"
)

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

// gzipHeader is enough of a gzip stream for magic-byte matching.
var gzipHeader = []byte{0x1f, 0x8b, 0x08, 0x00}

func TestDetectByExtension(t *testing.T) {
	r := format.Builtin()

	f, err := r.Detect(writeFile(t, "scan.nii.gz", gzipHeader))
	require.NoError(t, err)
	assert.Equal(t, "nifti-gz", f.Name)

	f, err = r.Detect(writeFile(t, "report.json", []byte("{}")))
	require.NoError(t, err)
	assert.Equal(t, "json", f.Name)
}

func TestDetectByMagic(t *testing.T) {
	r := format.Builtin()

	// No known extension, but a zip signature at offset zero.
	f, err := r.Detect(writeFile(t, "bundle.bin", []byte{'P', 'K', 0x03, 0x04, 0x00}))
	require.NoError(t, err)
	assert.Equal(t, "zip", f.Name)
}

func TestDetectDirectory(t *testing.T) {
	r := format.Builtin()
	f, err := r.Detect(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "directory", f.Name)
}

func TestDetectUnknown(t *testing.T) {
	r := format.Builtin()
	_, err := r.Detect(writeFile(t, "mystery.bin", []byte("plain text")))
	assert.ErrorContains(t, err, "could not detect")
}

func TestValidate(t *testing.T) {
	r := format.Builtin()

	ok := writeFile(t, "scan.nii.gz", gzipHeader)
	assert.NoError(t, r.Validate(ok, "nifti-gz"))

	// Right extension, wrong magic.
	bad := writeFile(t, "fake.nii.gz", []byte("not gzip"))
	assert.ErrorContains(t, r.Validate(bad, "nifti-gz"), "signature")

	// Wrong extension.
	assert.ErrorContains(t, r.Validate(ok, "csv"), "extension")

	// File where a directory format is declared.
	assert.ErrorContains(t, r.Validate(ok, "dicom-series"), "not a directory")
	assert.NoError(t, r.Validate(t.TempDir(), "dicom-series"))

	assert.ErrorContains(t, r.Validate(ok, "nope"), "unknown format tag")
}

func TestValidateFileShorterThanMagicOffset(t *testing.T) {
	r := format.Builtin()
	// The nifti magic sits at offset 344; a tiny file must fail cleanly.
	short := writeFile(t, "tiny.nii", []byte("ni"))
	assert.ErrorContains(t, r.Validate(short, "nifti"), "signature")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	r := format.NewRegistry()
	r.Register(&format.Format{Name: "x"})
	assert.Panics(t, func() {
		r.Register(&format.Format{Name: "x"})
	})
}

func TestNamesSorted(t *testing.T) {
	names := format.Builtin().Names()
	assert.Contains(t, names, "nifti")
	assert.IsIncreasing(t, names)
}
