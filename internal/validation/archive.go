// Package validation checks uploaded .nupkg archives and extracts their manifest,
// readme and icon. Every check runs before anything is persisted, so an invalid
// upload is rejected without consuming storage.
package validation

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
)

const (
	// MaxPackageSize is the default upper bound for an uploaded archive (250MB)
	MaxPackageSize = 250 * 1024 * 1024

	// maxEntrySize bounds the decompressed size of any single entry we read into memory
	maxEntrySize = 64 * 1024 * 1024

	manifestExtension = ".nuspec"
)

// ErrInvalidPackage is wrapped by every error caused by the content of an upload
var ErrInvalidPackage = errors.New("invalid package")

func invalidf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPackage, fmt.Sprintf(format, args...))
}

// Archive is an opened, path-checked package archive
type Archive struct {
	entries  map[string]*zip.File // keyed by lowercase, slash-separated name
	manifest *zip.File
}

// OpenArchive opens data as a zip archive, rejects unsafe entry names and locates
// the single root-level manifest.
func OpenArchive(data []byte) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, invalidf("not a zip archive: %v", err)
	}
	if len(zr.File) == 0 {
		return nil, invalidf("archive is empty")
	}

	a := &Archive{entries: make(map[string]*zip.File, len(zr.File))}
	for _, f := range zr.File {
		name := normalizeEntryName(f.Name)
		if err := validatePath(name); err != nil {
			return nil, invalidf("invalid file path in archive: %v", err)
		}
		if f.FileInfo().IsDir() {
			continue
		}

		key := strings.ToLower(name)
		a.entries[key] = f

		if !strings.Contains(key, "/") && strings.HasSuffix(key, manifestExtension) {
			if a.manifest != nil {
				return nil, invalidf("archive contains more than one manifest")
			}
			a.manifest = f
		}
	}

	if a.manifest == nil {
		return nil, invalidf("archive does not contain a .nuspec manifest")
	}
	return a, nil
}

// Manifest returns the raw bytes of the root-level .nuspec file
func (a *Archive) Manifest() ([]byte, error) {
	return readEntry(a.manifest)
}

// ReadFile returns the content of the entry at name, matched case-insensitively.
// Manifests reference files with either slash style.
func (a *Archive) ReadFile(name string) ([]byte, error) {
	key := strings.ToLower(normalizeEntryName(name))
	f, ok := a.entries[key]
	if !ok {
		return nil, invalidf("archive does not contain %q", name)
	}
	return readEntry(f)
}

// LibFrameworks returns the sorted, lowercase target framework folders under lib/
func (a *Archive) LibFrameworks() []string {
	seen := map[string]bool{}
	var out []string
	for key := range a.entries {
		parts := strings.Split(key, "/")
		if len(parts) < 3 || parts[0] != "lib" || parts[1] == "" {
			continue
		}
		if !seen[parts[1]] {
			seen[parts[1]] = true
			out = append(out, parts[1])
		}
	}
	sort.Strings(out)
	return out
}

func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, invalidf("%s exceeds maximum entry size of %d bytes", f.Name, maxEntrySize)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, invalidf("failed to open %s: %v", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxEntrySize+1))
	if err != nil {
		return nil, invalidf("failed to read %s: %v", f.Name, err)
	}
	if len(data) > maxEntrySize {
		return nil, invalidf("%s exceeds maximum entry size of %d bytes", f.Name, maxEntrySize)
	}
	return data, nil
}

func normalizeEntryName(name string) string {
	return strings.ReplaceAll(name, "\\", "/")
}

// validatePath rejects absolute names and any name that escapes the archive root
func validatePath(name string) error {
	if name == "" {
		return fmt.Errorf("empty file name")
	}
	if strings.HasPrefix(name, "/") {
		return fmt.Errorf("absolute paths not allowed: %s", name)
	}
	// Windows drive letters (C:/...) even on non-Windows hosts
	if len(name) >= 3 && name[1] == ':' && name[2] == '/' {
		return fmt.Errorf("absolute paths not allowed: %s", name)
	}
	for _, seg := range strings.Split(path.Clean(name), "/") {
		if seg == ".." {
			return fmt.Errorf("path traversal not allowed: %s", name)
		}
	}
	return nil
}
