package search

import (
	"sort"
	"strings"
	"time"

	"github.com/nuget-registry/nuget-registry/internal/db/models"
	"github.com/nuget-registry/nuget-registry/internal/packages"
)

// Registration groups the matching versions of one package id.
type Registration struct {
	ID       string
	Packages []*models.Package // ascending version order
}

// Latest returns the highest version in the group.
func (r Registration) Latest() *models.Package {
	if len(r.Packages) == 0 {
		return nil
	}
	return r.Packages[len(r.Packages)-1]
}

// TotalDownloads sums the download counters of every version in the group.
func (r Registration) TotalDownloads() int64 {
	var total int64
	for _, p := range r.Packages {
		total += p.Downloads
	}
	return total
}

// Group groups packages by case-insensitive id. Versions are sorted ascending within a
// group; groups are ordered by their most recent modification, newest first, with the
// lowercase id as a tie breaker so the order is stable for a fixed input.
func Group(pkgs []*models.Package) []Registration {
	byID := make(map[string]*Registration)
	var order []string
	for _, p := range pkgs {
		key := strings.ToLower(p.ID)
		reg, ok := byID[key]
		if !ok {
			reg = &Registration{ID: p.ID}
			byID[key] = reg
			order = append(order, key)
		}
		reg.Packages = append(reg.Packages, p)
	}

	result := make([]Registration, 0, len(order))
	for _, key := range order {
		reg := byID[key]
		packages.Sort(reg.Packages)
		// Display the id as spelled by the latest version
		reg.ID = reg.Latest().ID
		result = append(result, *reg)
	}

	sort.SliceStable(result, func(i, j int) bool {
		ti, tj := lastModified(result[i]), lastModified(result[j])
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return strings.ToLower(result[i].ID) < strings.ToLower(result[j].ID)
	})
	return result
}

func lastModified(r Registration) (latest time.Time) {
	for _, p := range r.Packages {
		if p.LastModified.After(latest) {
			latest = p.LastModified
		}
	}
	return latest
}

// Page applies skip and take to the grouped result.
func Page(regs []Registration, skip, take int) []Registration {
	if skip < 0 {
		skip = 0
	}
	if skip >= len(regs) || take <= 0 {
		return []Registration{}
	}
	end := skip + take
	if end > len(regs) {
		end = len(regs)
	}
	return regs[skip:end]
}
