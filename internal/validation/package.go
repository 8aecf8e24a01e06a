// package.go reads a complete uploaded package: archive checks, manifest parsing,
// and extraction of the embedded readme and icon.
package validation

import (
	"sort"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
)

// PackageContents is everything the indexing pipeline persists for one upload
type PackageContents struct {
	Package  *models.Package
	Archive  []byte
	Manifest []byte
	Readme   []byte // nil when the manifest declares no readme
	Icon     []byte // nil when the manifest declares no embedded icon
}

// ReadPackage validates data as a package archive. Errors caused by the upload
// wrap ErrInvalidPackage.
func ReadPackage(data []byte) (*PackageContents, error) {
	archive, err := OpenArchive(data)
	if err != nil {
		return nil, err
	}

	manifestBytes, err := archive.Manifest()
	if err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(manifestBytes)
	if err != nil {
		return nil, err
	}
	pkg, err := manifest.ToPackage()
	if err != nil {
		return nil, err
	}

	contents := &PackageContents{Package: pkg, Archive: data, Manifest: manifestBytes}

	if p := manifest.ReadmePath(); p != "" {
		if contents.Readme, err = archive.ReadFile(p); err != nil {
			return nil, err
		}
	}
	if p := manifest.IconPath(); p != "" {
		if contents.Icon, err = archive.ReadFile(p); err != nil {
			return nil, err
		}
	}

	pkg.TargetFrameworks = mergeFrameworks(archive.LibFrameworks(), manifest.DependencyFrameworks())

	return contents, nil
}

func mergeFrameworks(lists ...[]string) models.StringList {
	seen := map[string]bool{}
	out := models.StringList{}
	for _, list := range lists {
		for _, f := range list {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}
