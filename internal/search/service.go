package search

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nuget-registry/nuget-registry/internal/telemetry"
)

// DefaultTake is the page size used when a request does not specify one, or a negative one.
const DefaultTake = 20

// MaxTake caps the page size a client may request.
const MaxTake = 1000

// Request carries the parameters of a search or autocomplete call.
// A zero Take returns no results, only the total.
type Request struct {
	Query             string
	Skip              int
	Take              int
	IncludePrerelease bool
	IncludeSemVer2    bool
	PackageType       string
	Framework         string
}

// Filter returns the neutral filter for the request.
func (r Request) Filter() Filter {
	return NewFilter(r.Query, r.IncludePrerelease, r.IncludeSemVer2, r.PackageType, r.Framework)
}

func (r Request) normalized() Request {
	if r.Skip < 0 {
		r.Skip = 0
	}
	if r.Take < 0 {
		r.Take = DefaultTake
	}
	if r.Take > MaxTake {
		r.Take = MaxTake
	}
	return r
}

// Service runs searches against one backend.
type Service struct {
	backend       Backend
	name          string
	maxCandidates int
}

// NewService creates a search service. name labels metrics and logs; maxCandidates
// bounds the number of rows fetched before grouping.
func NewService(backend Backend, name string, maxCandidates int) *Service {
	if maxCandidates < 1 {
		maxCandidates = 500
	}
	return &Service{backend: backend, name: name, maxCandidates: maxCandidates}
}

// Search returns one page of registrations and the total number of matching ids.
func (s *Service) Search(ctx context.Context, req Request) ([]Registration, int, error) {
	req = req.normalized()
	regs, err := s.grouped(ctx, req.Filter())
	if err != nil {
		return nil, 0, err
	}
	telemetry.SearchQueriesTotal.WithLabelValues(s.name, "search").Inc()
	return Page(regs, req.Skip, req.Take), len(regs), nil
}

// Autocomplete returns one page of matching package ids and the total number of ids.
func (s *Service) Autocomplete(ctx context.Context, req Request) ([]string, int, error) {
	req = req.normalized()
	regs, err := s.grouped(ctx, req.Filter())
	if err != nil {
		return nil, 0, err
	}
	telemetry.SearchQueriesTotal.WithLabelValues(s.name, "autocomplete").Inc()

	page := Page(regs, req.Skip, req.Take)
	ids := make([]string, len(page))
	for i, r := range page {
		ids[i] = r.ID
	}
	return ids, len(regs), nil
}

func (s *Service) grouped(ctx context.Context, f Filter) ([]Registration, error) {
	candidates, err := s.backend.Candidates(ctx, f, s.maxCandidates)
	if err != nil {
		return nil, fmt.Errorf("failed to search packages: %w", err)
	}

	// Backends compile the filter natively; re-checking keeps every backend
	// consistent with the reference predicate.
	matched := candidates[:0]
	for _, p := range candidates {
		if f.Matches(p) {
			matched = append(matched, p)
		}
	}
	if len(matched) != len(candidates) {
		slog.Debug("search backend returned non-matching candidates",
			"backend", s.name, "prefix", f.Prefix, "dropped", len(candidates)-len(matched))
	}
	return Group(matched), nil
}

// Name returns the backend label.
func (s *Service) Name() string {
	return strings.ToLower(s.name)
}
