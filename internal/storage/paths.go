// paths.go derives the deterministic content store keys for package artifacts.
// The layout is a stable contract: other tooling may read the store directly.
package storage

import (
	"path"
	"strings"
)

const (
	packagesPrefix = "packages"
	symbolsPrefix  = "symbols"
)

// PackagePath returns the key of the .nupkg archive for id and normalized version.
func PackagePath(id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	return path.Join(packagesPrefix, id, version, id+"."+version+".nupkg")
}

// ManifestPath returns the key of the extracted .nuspec manifest.
func ManifestPath(id, version string) string {
	id, version = strings.ToLower(id), strings.ToLower(version)
	return path.Join(packagesPrefix, id, version, id+".nuspec")
}

// ReadmePath returns the key of the extracted readme.
func ReadmePath(id, version string) string {
	return path.Join(packagesPrefix, strings.ToLower(id), strings.ToLower(version), "readme")
}

// IconPath returns the key of the extracted embedded icon.
func IconPath(id, version string) string {
	return path.Join(packagesPrefix, strings.ToLower(id), strings.ToLower(version), "icon")
}

// SymbolPath returns the key of a symbol file published for a package version.
func SymbolPath(id, version, file string) string {
	return path.Join(symbolsPrefix, strings.ToLower(id), strings.ToLower(version), strings.ToLower(path.Base(file)))
}

// PackageArtifactPaths lists every per-version key a push may write.
func PackageArtifactPaths(id, version string) []string {
	return []string{
		PackagePath(id, version),
		ManifestPath(id, version),
		ReadmePath(id, version),
		IconPath(id, version),
	}
}
