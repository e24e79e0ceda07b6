package search

import (
	"context"
	"fmt"
	"net/url"
	"slices"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/index"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/paginate"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
)

// Envelope is the paginated response shape shared by filtering and search.
type Envelope[T any] struct {
	// Items is the requested page. It is never nil so that it encodes as
	// an empty JSON array.
	Items []T `json:"items"`

	// NItems is the number of matches before pagination.
	NItems int `json:"nItems"`

	// Page and Limit echo the clamped page settings.
	Page  int `json:"page"`
	Limit int `json:"limit"`

	// OrderBy and OrderDir echo the applied sort. Search results are
	// ranked by relevance and leave both empty.
	OrderBy  query.Field     `json:"orderBy,omitempty"`
	OrderDir query.Direction `json:"orderDir,omitempty"`

	// Min and Max are the bounds of the matched subset. They are omitted
	// when nothing matched and for search results.
	Min *core.Bounds `json:"min,omitempty"`
	Max *core.Bounds `json:"max,omitempty"`
}

// ProjectedStats is the trimmed stats record carried by search results.
type ProjectedStats struct {
	NOutputs     int64   `json:"n_outputs"`
	NOutputsOpen int64   `json:"n_outputs_open"`
	POutputsOpen float64 `json:"p_outputs_open"`
}

// Projection is the shape of a search result: enough to render a result
// row without the full record.
type Projection struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Logo             string          `json:"logo,omitempty"`
	EntityType       core.EntityType `json:"entity_type"`
	Region           string          `json:"region"`
	Subregion        string          `json:"subregion"`
	CountryName      string          `json:"country_name,omitempty"`
	CountryCode      string          `json:"country_code,omitempty"`
	InstitutionTypes []string        `json:"institution_types,omitempty"`
	Stats            ProjectedStats  `json:"stats"`
}

// Project builds the search projection of e.
func Project(e core.Entity) Projection {
	return Projection{
		ID:               e.ID,
		Name:             e.Name,
		Logo:             e.Logo,
		EntityType:       e.EntityType,
		Region:           e.Region,
		Subregion:        e.Subregion,
		CountryName:      e.CountryName,
		CountryCode:      e.CountryCode,
		InstitutionTypes: slices.Clone(e.InstitutionTypes),
		Stats: ProjectedStats{
			NOutputs:     e.Stats.NOutputs,
			NOutputsOpen: e.Stats.NOutputsOpen,
			POutputsOpen: e.Stats.POutputsOpen,
		},
	}
}

// Options configures a Service. Zero values select the defaults.
type Options struct {
	// Backend evaluates filter queries. Defaults to a MemoryBackend over
	// the service dataset.
	Backend Backend

	// Limits sets the clamping domains of range parameters.
	Limits query.Limits

	// TableLimits bounds country and institution listings.
	// Defaults to query.TablePageLimits.
	TableLimits query.PageLimits

	// SearchLimits bounds search results. Defaults to query.SearchPageLimits.
	SearchLimits query.PageLimits
}

// Service executes filter and search requests against one dataset
// snapshot. It holds explicit handles to the dataset, the search index and
// the filter backend; nothing is looked up globally.
type Service struct {
	ds      *dataset.Dataset
	ix      *index.Index
	backend Backend
	opts    Options
}

// NewService creates a service over ds. When ix is nil the index is built
// from the dataset.
//
// Parameters:
//   - ds: the validated dataset to serve
//   - ix: a prebuilt index bound to ds, or nil
//   - opts: backend and limits, zero values select defaults
func NewService(ds *dataset.Dataset, ix *index.Index, opts Options) *Service {
	if ix == nil {
		ix = index.Build(ds.Entities())
	}
	if opts.Backend == nil {
		opts.Backend = NewMemoryBackend(ds)
	}
	if opts.TableLimits == (query.PageLimits{}) {
		opts.TableLimits = query.TablePageLimits
	}
	if opts.SearchLimits == (query.PageLimits{}) {
		opts.SearchLimits = query.SearchPageLimits
	}
	return &Service{ds: ds, ix: ix, backend: opts.Backend, opts: opts}
}

// Dataset returns the dataset served by s.
func (s *Service) Dataset() *dataset.Dataset { return s.ds }

// Index returns the search index used by s.
func (s *Service) Index() *index.Index { return s.ix }

// Limits returns the range clamping domains.
func (s *Service) Limits() query.Limits { return s.opts.Limits }

// SearchLimits returns the paging bounds applied to search results.
func (s *Service) SearchLimits() query.PageLimits { return s.opts.SearchLimits }

// FilterEntities filters, sorts and paginates the collection named by
// entityType.
//
// Recognised parameters are those of query.ParseQuery and
// query.ParsePageSettings. An unknown entity type or orderBy returns a
// *query.ValidationError before the backend is consulted. Backend errors
// are returned wrapped; retryable ones match ErrTransient.
//
// Example:
//
//	env, err := svc.FilterEntities(ctx, "institution", url.Values{
//		"institutionTypes": {"Education,Facility"},
//		"page":             {"1"},
//	})
func (s *Service) FilterEntities(ctx context.Context, entityType string, raw url.Values) (*Envelope[core.Entity], error) {
	kind, err := query.ParseEntityType(entityType)
	if err != nil {
		return nil, err
	}
	ps, err := query.ParsePageSettings(raw, s.opts.TableLimits)
	if err != nil {
		return nil, err
	}
	q := query.ParseQuery(raw, s.opts.Limits)

	page, err := s.backend.Filter(ctx, kind, q, ps)
	if err != nil {
		return nil, fmt.Errorf("filtering %s: %w", kind.Plural(), err)
	}

	items := page.Items
	if items == nil {
		items = []core.Entity{}
	}
	return &Envelope[core.Entity]{
		Items:    items,
		NItems:   page.Total,
		Page:     ps.Page,
		Limit:    ps.Limit,
		OrderBy:  ps.OrderBy,
		OrderDir: ps.OrderDir,
		Min:      page.Min,
		Max:      page.Max,
	}, nil
}

// SearchEntities ranks countries and institutions against text and returns
// one page of projections.
//
// The limit is clamped into the configured search bounds and the page to
// zero or more before the index is consulted. Empty or whitespace-only
// text yields an empty envelope.
func (s *Service) SearchEntities(ctx context.Context, text string, page, limit int) (*Envelope[Projection], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit = s.opts.SearchLimits.ClampLimit(limit)
	page = max(page, 0)

	hits := s.ix.Search(text, 0)
	window := paginate.Slice(hits, page, limit)

	items := make([]Projection, len(window))
	for i, h := range window {
		items[i] = Project(h.Entity)
	}
	return &Envelope[Projection]{
		Items:  items,
		NItems: len(hits),
		Page:   page,
		Limit:  limit,
	}, nil
}
