// Package validationtest builds package archives for tests.
package validationtest

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/klauspost/compress/zip"
)

// Options customise a generated package
type Options struct {
	Description string
	Readme      string // embedded as README.md when set
	Icon        []byte // embedded as icon.png when set
	PackageType string
	Framework   string // lib/<framework>/ folder, default net8.0
	Filler      string // extra entry content to vary the archive bytes
}

// Nupkg returns the bytes of a minimal valid package for id and version
func Nupkg(t testing.TB, id, version string, opts Options) []byte {
	t.Helper()
	if opts.Description == "" {
		opts.Description = "Test package " + id
	}
	if opts.Framework == "" {
		opts.Framework = "net8.0"
	}

	var extra bytes.Buffer
	if opts.Readme != "" {
		extra.WriteString("    <readme>README.md</readme>\n")
	}
	if opts.Icon != nil {
		extra.WriteString("    <icon>icon.png</icon>\n")
	}
	if opts.PackageType != "" {
		fmt.Fprintf(&extra, "    <packageTypes><packageType name=%q /></packageTypes>\n", opts.PackageType)
	}

	nuspec := fmt.Sprintf(`<?xml version="1.0" encoding="utf-8"?>
<package xmlns="http://schemas.microsoft.com/packaging/2013/05/nuspec.xsd">
  <metadata>
    <id>%s</id>
    <version>%s</version>
    <authors>alice</authors>
    <description>%s</description>
%s  </metadata>
</package>`, id, version, opts.Description, extra.String())

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name string, data []byte) {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip Create %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip Write %s: %v", name, err)
		}
	}

	write(id+".nuspec", []byte(nuspec))
	write("lib/"+opts.Framework+"/"+id+".dll", []byte("MZ"+opts.Filler))
	if opts.Readme != "" {
		write("README.md", []byte(opts.Readme))
	}
	if opts.Icon != nil {
		write("icon.png", opts.Icon)
	}

	if err := zw.Close(); err != nil {
		t.Fatalf("zip Close: %v", err)
	}
	return buf.Bytes()
}

// PNG is a tiny PNG header, enough for content sniffing
var PNG = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
