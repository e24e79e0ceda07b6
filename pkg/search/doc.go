// Package search is the query façade of the engine. It turns raw request
// parameters into validated queries, runs them against a backend and wraps
// the outcome in a result envelope.
//
// # Overview
//
// Two operations are exposed by Service:
//
//   - FilterEntities: filter, sort and paginate one entity collection
//   - SearchEntities: rank countries and institutions against free text
//
// Both return an Envelope carrying the page of items, the number of
// matches before pagination and the page settings that were applied.
//
// # Validation
//
// Malformed numeric input never produces an error; it is clamped (see
// package query). Only two inputs are rejected with a *query.ValidationError:
// an unknown entity type and an orderBy outside the allow-list. Those
// requests never reach a backend.
//
// # Backends
//
// The same query model is evaluated either in memory (MemoryBackend) or
// by the SQLite store in package storage. A backend failure that may
// succeed on retry wraps ErrTransient; the façade itself never retries.
//
// # Usage
//
//	ds, _ := dataset.Load("data")
//	svc := search.NewService(ds, nil, search.Options{})
//	env, err := svc.FilterEntities(ctx, "country", url.Values{
//		"regions": {"Europe"},
//		"orderBy": {"n_outputs"},
//	})
//
// # Concurrency
//
// A Service is immutable after construction. All methods may be called from
// any number of goroutines. To pick up a new dataset, build a new Service.
package search
