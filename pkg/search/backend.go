package search

import (
	"context"
	"errors"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/filter"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/paginate"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/query"
)

// ErrTransient marks a backend failure that may succeed when retried.
// Backends wrap it with %w; callers test with errors.Is.
var ErrTransient = errors.New("transient backend failure")

// Page is one page of a filtered and sorted collection.
type Page struct {
	// Items holds at most PageSettings.Limit entities, already sorted.
	Items []core.Entity

	// Total is the number of matches before pagination.
	Total int

	// Min and Max are the bounds observed over all matches, nil when
	// nothing matched.
	Min *core.Bounds
	Max *core.Bounds
}

// Backend evaluates a query against one entity collection.
type Backend interface {
	Filter(ctx context.Context, kind core.EntityType, q query.Query, ps query.PageSettings) (*Page, error)
}

// MemoryBackend evaluates queries with a linear scan of the dataset.
type MemoryBackend struct {
	ds *dataset.Dataset
}

// NewMemoryBackend returns a backend over ds.
func NewMemoryBackend(ds *dataset.Dataset) *MemoryBackend {
	return &MemoryBackend{ds: ds}
}

// Filter implements Backend. It only fails when ctx is already done.
func (m *MemoryBackend) Filter(ctx context.Context, kind core.EntityType, q query.Query, ps query.PageSettings) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := m.ds.Collection(kind)
	if c == nil {
		return nil, &query.ValidationError{Param: "entity_type", Value: string(kind), Reason: "unknown collection"}
	}

	res := filter.Filter(c, q)
	return &Page{
		Items: paginate.Paginate(res.Items, ps),
		Total: len(res.Items),
		Min:   res.Min,
		Max:   res.Max,
	}, nil
}
