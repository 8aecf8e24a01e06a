// nuspec.go parses the XML manifest of a package into the package record.
package validation

import (
	"encoding/xml"
	"regexp"
	"strconv"
	"strings"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/version"
)

const maxIDLength = 100

var idPattern = regexp.MustCompile(`^\w+(?:[_.-]\w+)*$`)

// Manifest mirrors the <package><metadata> element of a .nuspec file. Element names
// are matched without regard to the schema namespace, which differs across versions.
type Manifest struct {
	XMLName  xml.Name         `xml:"package"`
	Metadata manifestMetadata `xml:"metadata"`
}

type manifestMetadata struct {
	MinClientVersion         string `xml:"minClientVersion,attr"`
	ID                       string `xml:"id"`
	Version                  string `xml:"version"`
	Title                    string `xml:"title"`
	Authors                  string `xml:"authors"`
	Description              string `xml:"description"`
	Summary                  string `xml:"summary"`
	ReleaseNotes             string `xml:"releaseNotes"`
	Language                 string `xml:"language"`
	Tags                     string `xml:"tags"`
	IconURL                  string `xml:"iconUrl"`
	Icon                     string `xml:"icon"`
	Readme                   string `xml:"readme"`
	LicenseURL               string `xml:"licenseUrl"`
	ProjectURL               string `xml:"projectUrl"`
	RequireLicenseAcceptance string `xml:"requireLicenseAcceptance"`
	DevelopmentDependency    string `xml:"developmentDependency"`

	Repository struct {
		Type string `xml:"type,attr"`
		URL  string `xml:"url,attr"`
	} `xml:"repository"`

	PackageTypes []struct {
		Name    string `xml:"name,attr"`
		Version string `xml:"version,attr"`
	} `xml:"packageTypes>packageType"`

	Dependencies struct {
		Groups []struct {
			TargetFramework string               `xml:"targetFramework,attr"`
			Dependencies    []manifestDependency `xml:"dependency"`
		} `xml:"group"`
		Flat []manifestDependency `xml:"dependency"`
	} `xml:"dependencies"`
}

type manifestDependency struct {
	ID      string `xml:"id,attr"`
	Version string `xml:"version,attr"`
}

// ParseManifest decodes a .nuspec document
func ParseManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := xml.Unmarshal(data, &m); err != nil {
		return nil, invalidf("malformed manifest: %v", err)
	}
	return &m, nil
}

// ReadmePath is the archive path of the embedded readme, or "" when none is declared
func (m *Manifest) ReadmePath() string {
	return strings.TrimSpace(m.Metadata.Readme)
}

// IconPath is the archive path of the embedded icon, or "" when none is declared
func (m *Manifest) IconPath() string {
	return strings.TrimSpace(m.Metadata.Icon)
}

// ToPackage validates the required fields and converts the manifest into a package
// record. Listed is true; hash, size and timestamps are left for the caller.
func (m *Manifest) ToPackage() (*models.Package, error) {
	md := m.Metadata

	id := strings.TrimSpace(md.ID)
	if id == "" {
		return nil, invalidf("manifest is missing <id>")
	}
	if len(id) > maxIDLength || !idPattern.MatchString(id) {
		return nil, invalidf("invalid package id %q", id)
	}

	rawVersion := strings.TrimSpace(md.Version)
	if rawVersion == "" {
		return nil, invalidf("manifest is missing <version>")
	}
	v, err := version.Parse(rawVersion)
	if err != nil {
		return nil, invalidf("invalid package version: %v", err)
	}

	description := strings.TrimSpace(md.Description)
	if description == "" {
		return nil, invalidf("manifest is missing <description>")
	}
	authors := splitList(md.Authors, ",")
	if len(authors) == 0 {
		return nil, invalidf("manifest is missing <authors>")
	}

	pkg := &models.Package{
		ID:                       id,
		Version:                  v.Normalized(),
		OriginalVersion:          rawVersion,
		Listed:                   true,
		IsPrerelease:             v.IsPrerelease(),
		SemVerLevel:              v.SemVerLevel(),
		HasReadme:                m.ReadmePath() != "",
		HasEmbeddedIcon:          m.IconPath() != "",
		RequireLicenseAcceptance: parseBool(md.RequireLicenseAcceptance),
		IsDevelopmentDependency:  parseBool(md.DevelopmentDependency),
		Title:                    strings.TrimSpace(md.Title),
		Description:              description,
		Summary:                  strings.TrimSpace(md.Summary),
		Authors:                  authors,
		Tags:                     splitList(md.Tags, " "),
		IconURL:                  strings.TrimSpace(md.IconURL),
		LicenseURL:               strings.TrimSpace(md.LicenseURL),
		ProjectURL:               strings.TrimSpace(md.ProjectURL),
		RepositoryURL:            strings.TrimSpace(md.Repository.URL),
		RepositoryType:           strings.TrimSpace(md.Repository.Type),
		ReleaseNotes:             strings.TrimSpace(md.ReleaseNotes),
		Language:                 strings.TrimSpace(md.Language),
		MinClientVersion:         strings.TrimSpace(md.MinClientVersion),
		Dependencies:             m.dependencies(),
		PackageTypes:             models.PackageTypes{},
		TargetFrameworks:         models.StringList{},
	}

	for _, t := range md.PackageTypes {
		if name := strings.TrimSpace(t.Name); name != "" {
			pkg.PackageTypes = append(pkg.PackageTypes, models.PackageType{Name: name, Version: strings.TrimSpace(t.Version)})
		}
	}
	return pkg, nil
}

// dependencies flattens grouped and ungrouped dependencies. A group without
// dependencies is kept as a single entry with only the framework set.
func (m *Manifest) dependencies() models.Dependencies {
	deps := models.Dependencies{}
	for _, d := range m.Metadata.Dependencies.Flat {
		deps = append(deps, models.Dependency{ID: strings.TrimSpace(d.ID), VersionRange: strings.TrimSpace(d.Version)})
	}
	for _, g := range m.Metadata.Dependencies.Groups {
		tfm := strings.ToLower(strings.TrimSpace(g.TargetFramework))
		if len(g.Dependencies) == 0 {
			deps = append(deps, models.Dependency{TargetFramework: tfm})
			continue
		}
		for _, d := range g.Dependencies {
			deps = append(deps, models.Dependency{
				ID:              strings.TrimSpace(d.ID),
				VersionRange:    strings.TrimSpace(d.Version),
				TargetFramework: tfm,
			})
		}
	}
	return deps
}

// DependencyFrameworks returns the distinct non-empty frameworks of the dependency groups
func (m *Manifest) DependencyFrameworks() []string {
	seen := map[string]bool{}
	var out []string
	for _, g := range m.Metadata.Dependencies.Groups {
		tfm := strings.ToLower(strings.TrimSpace(g.TargetFramework))
		if tfm != "" && !seen[tfm] {
			seen[tfm] = true
			out = append(out, tfm)
		}
	}
	return out
}

func splitList(s, sep string) models.StringList {
	out := models.StringList{}
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(s))
	return b
}
