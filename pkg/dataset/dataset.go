package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
)

const (
	CountriesFile    = "countries.json"
	InstitutionsFile = "institutions.json"
	IndexFile        = "index.msgpack.zst"
)

// Dataset holds the two entity collections served by the engine.
// It never changes once returned by Load or New.
type Dataset struct {
	Countries    *core.Collection
	Institutions *core.Collection
}

// IntegrityError describes a record that failed validation.
type IntegrityError struct {
	File   string
	Index  int
	ID     string
	Reason string
}

func (e *IntegrityError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s: record %d (%s): %s", e.File, e.Index, e.ID, e.Reason)
	}
	return fmt.Sprintf("%s: record %d: %s", e.File, e.Index, e.Reason)
}

// Load reads countries and institutions from dir. Each file may be stored
// plain or zstd compressed with a ".zst" suffix.
func Load(dir string) (*Dataset, error) {
	countries, err := readEntities(dir, CountriesFile)
	if err != nil {
		return nil, err
	}
	institutions, err := readEntities(dir, InstitutionsFile)
	if err != nil {
		return nil, err
	}
	return build(countries, institutions, CountriesFile, InstitutionsFile)
}

// New validates the given records and builds a dataset from them.
func New(countries, institutions []core.Entity) (*Dataset, error) {
	return build(countries, institutions, CountriesFile, InstitutionsFile)
}

// Collection returns the collection for the given entity type, or nil when
// the type is unknown.
func (d *Dataset) Collection(t core.EntityType) *core.Collection {
	switch t {
	case core.Country:
		return d.Countries
	case core.Institution:
		return d.Institutions
	}
	return nil
}

// Entities returns countries followed by institutions. This is the
// position order used by the search index.
func (d *Dataset) Entities() []core.Entity {
	out := make([]core.Entity, 0, d.Countries.Len()+d.Institutions.Len())
	out = append(out, d.Countries.Entities()...)
	return append(out, d.Institutions.Entities()...)
}

func (d *Dataset) Lookup(t core.EntityType, id string) (core.Entity, bool) {
	c := d.Collection(t)
	if c == nil {
		return core.Entity{}, false
	}
	return c.Lookup(id)
}

func readEntities(dir, name string) ([]core.Entity, error) {
	r, err := open(filepath.Join(dir, name))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var entities []core.Entity
	if err := json.NewDecoder(r).Decode(&entities); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", name, err)
	}
	return entities, nil
}

type zstdReadCloser struct {
	*zstd.Decoder
	f *os.File
}

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return z.f.Close()
}

// open returns a reader for path, falling back to path+".zst".
func open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err == nil {
		return f, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	f, zerr := os.Open(path + ".zst")
	if zerr != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	dec, zerr := zstd.NewReader(f)
	if zerr != nil {
		f.Close()
		return nil, fmt.Errorf("reading %s.zst: %w", path, zerr)
	}
	return zstdReadCloser{Decoder: dec, f: f}, nil
}

// WriteJSON writes entities to path as JSON. Paths ending in ".zst" are
// zstd compressed.
func WriteJSON(path string, entities []core.Entity) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("closing %s: %w", path, cerr)
		}
	}()

	var w io.Writer = f
	if strings.HasSuffix(path, ".zst") {
		enc, zerr := zstd.NewWriter(f)
		if zerr != nil {
			return fmt.Errorf("creating zstd writer: %w", zerr)
		}
		defer func() {
			if cerr := enc.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("flushing %s: %w", path, cerr)
			}
		}()
		w = enc
	}

	if err := json.NewEncoder(w).Encode(entities); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}
