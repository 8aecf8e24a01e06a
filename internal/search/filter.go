// Package search implements package discovery: the engine-neutral filter every backend
// compiles, grouping of matching versions into registrations, and pagination over groups.
package search

import (
	"context"
	"strings"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
)

// prefixUpperBoundSuffix sorts after every character allowed in a package id, so
// [prefix, prefix+"~") is exactly the set of ids starting with prefix.
const prefixUpperBoundSuffix = "~"

// defaultPackageType is what NuGet assumes for packages that declare no type.
const defaultPackageType = "Dependency"

// Filter is the engine-neutral search predicate.
type Filter struct {
	// Prefix is the lowercased last whitespace-delimited token of the query; empty matches every id.
	Prefix            string
	IncludePrerelease bool
	IncludeSemVer2    bool
	PackageType       string
	Framework         string
}

// NewFilter builds the filter for a search or autocomplete request.
func NewFilter(query string, includePrerelease, includeSemVer2 bool, packageType, framework string) Filter {
	var prefix string
	if fields := strings.Fields(query); len(fields) > 0 {
		prefix = strings.ToLower(fields[len(fields)-1])
	}
	return Filter{
		Prefix:            prefix,
		IncludePrerelease: includePrerelease,
		IncludeSemVer2:    includeSemVer2,
		PackageType:       strings.TrimSpace(packageType),
		Framework:         strings.TrimSpace(framework),
	}
}

// HasPrefix reports whether the filter restricts ids to a prefix range.
func (f Filter) HasPrefix() bool {
	return f.Prefix != ""
}

// UpperBound is the exclusive upper end of the id range.
func (f Filter) UpperBound() string {
	return f.Prefix + prefixUpperBoundSuffix
}

// Matches is the reference predicate. Backends that push the filter into a query
// engine must select exactly the packages for which Matches returns true.
func (f Filter) Matches(p *models.Package) bool {
	if f.HasPrefix() {
		id := strings.ToLower(p.ID)
		if id < f.Prefix || id >= f.UpperBound() {
			return false
		}
	}
	if !p.Listed {
		return false
	}
	if !f.IncludePrerelease && p.IsPrerelease {
		return false
	}
	if !f.IncludeSemVer2 && p.SemVerLevel != 0 {
		return false
	}
	if f.PackageType != "" && !hasPackageType(p, f.PackageType) {
		return false
	}
	if f.Framework != "" && !containsFold(p.TargetFrameworks, f.Framework) {
		return false
	}
	return true
}

func hasPackageType(p *models.Package, name string) bool {
	if len(p.PackageTypes) == 0 {
		return strings.EqualFold(name, defaultPackageType)
	}
	for _, t := range p.PackageTypes {
		if strings.EqualFold(t.Name, name) {
			return true
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

// Backend fetches candidate packages for a filter. Implementations return at most
// limit packages, most recently modified first.
type Backend interface {
	Candidates(ctx context.Context, f Filter, limit int) ([]*models.Package, error)
}

// Indexer is implemented by backends that keep a search index separate from the
// metadata store and must be told about changes.
type Indexer interface {
	Index(ctx context.Context, pkg *models.Package) error
	Remove(ctx context.Context, id, version string) error
}
