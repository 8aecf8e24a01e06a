// Package models - package.go defines the Package model, the canonical record for one
// published package version, together with its embedded dependency and package type lists.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Package represents one published version of a package in the feed
type Package struct {
	ID              string `db:"id" json:"id"`
	Version         string `db:"version" json:"version"`                   // Normalized, lowercase
	OriginalVersion string `db:"original_version" json:"original_version"` // As written in the manifest

	Listed                   bool `db:"listed" json:"listed"`
	IsPrerelease             bool `db:"is_prerelease" json:"is_prerelease"`
	SemVerLevel              int  `db:"semver_level" json:"semver_level"`
	HasReadme                bool `db:"has_readme" json:"has_readme"`
	HasEmbeddedIcon          bool `db:"has_embedded_icon" json:"has_embedded_icon"`
	RequireLicenseAcceptance bool `db:"require_license_acceptance" json:"require_license_acceptance"`
	IsDevelopmentDependency  bool `db:"is_development_dependency" json:"is_development_dependency"`

	Title            string     `db:"title" json:"title,omitempty"`
	Description      string     `db:"description" json:"description"`
	Summary          string     `db:"summary" json:"summary,omitempty"`
	Authors          StringList `db:"authors" json:"authors"`
	Tags             StringList `db:"tags" json:"tags"`
	IconURL          string     `db:"icon_url" json:"icon_url,omitempty"`
	LicenseURL       string     `db:"license_url" json:"license_url,omitempty"`
	ProjectURL       string     `db:"project_url" json:"project_url,omitempty"`
	RepositoryURL    string     `db:"repository_url" json:"repository_url,omitempty"`
	RepositoryType   string     `db:"repository_type" json:"repository_type,omitempty"`
	ReleaseNotes     string     `db:"release_notes" json:"release_notes,omitempty"`
	Language         string     `db:"language" json:"language,omitempty"`
	MinClientVersion string     `db:"min_client_version" json:"min_client_version,omitempty"`

	Dependencies     Dependencies `db:"dependencies" json:"dependencies"`
	PackageTypes     PackageTypes `db:"package_types" json:"package_types"`
	TargetFrameworks StringList   `db:"target_frameworks" json:"target_frameworks"`

	Downloads    int64     `db:"downloads" json:"downloads"`
	Hash         string    `db:"hash" json:"hash"` // SHA-256 hex of the .nupkg
	Size         int64     `db:"size" json:"size"`
	Published    time.Time `db:"published" json:"published"`
	LastModified time.Time `db:"last_modified" json:"last_modified"`
}

// LowerID returns the case-insensitive key form of the package id.
func (p *Package) LowerID() string {
	return strings.ToLower(p.ID)
}

// LowerVersion returns the key form of the normalized version.
func (p *Package) LowerVersion() string {
	return strings.ToLower(p.Version)
}

// Clone returns a deep copy so in-memory backends never share slices with callers.
func (p *Package) Clone() *Package {
	c := *p
	c.Authors = append(StringList(nil), p.Authors...)
	c.Tags = append(StringList(nil), p.Tags...)
	c.TargetFrameworks = append(StringList(nil), p.TargetFrameworks...)
	c.Dependencies = append(Dependencies(nil), p.Dependencies...)
	c.PackageTypes = append(PackageTypes(nil), p.PackageTypes...)
	return &c
}

// Dependency is a dependency on another package id, optionally scoped to a target framework.
// A dependency with an empty ID represents a framework group with no dependencies.
type Dependency struct {
	ID              string `json:"id,omitempty"`
	VersionRange    string `json:"version_range,omitempty"`
	TargetFramework string `json:"target_framework,omitempty"`
}

// PackageType is a declared package type such as "Dependency" or "DotnetTool".
type PackageType struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"`
}

// StringList is a list of strings stored as a JSONB array
type StringList []string

// Dependencies is stored as a JSONB array
type Dependencies []Dependency

// PackageTypes is stored as a JSONB array
type PackageTypes []PackageType

// Value implements driver.Valuer
func (s StringList) Value() (driver.Value, error) { return jsonValue(s) }

// Scan implements sql.Scanner
func (s *StringList) Scan(src interface{}) error { return jsonScan(src, s) }

// Value implements driver.Valuer
func (d Dependencies) Value() (driver.Value, error) { return jsonValue(d) }

// Scan implements sql.Scanner
func (d *Dependencies) Scan(src interface{}) error { return jsonScan(src, d) }

// Value implements driver.Valuer
func (p PackageTypes) Value() (driver.Value, error) { return jsonValue(p) }

// Scan implements sql.Scanner
func (p *PackageTypes) Scan(src interface{}) error { return jsonScan(src, p) }

func jsonValue(v interface{}) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	// nil slices marshal to null; store an empty array instead
	if string(b) == "null" {
		return []byte("[]"), nil
	}
	return b, nil
}

func jsonScan(src interface{}, dst interface{}) error {
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(v, dst)
	case string:
		return json.Unmarshal([]byte(v), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
