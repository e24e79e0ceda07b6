package index

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
)

// FormatVersion is bumped whenever the exported layout changes.
const FormatVersion = 1

type snapshot struct {
	Version  int       `msgpack:"version"`
	Tokens   []string  `msgpack:"tokens"`
	Postings [][]int32 `msgpack:"postings"`
	Refs     []Ref     `msgpack:"refs"`
}

// Resolver looks up entities by reference. *dataset.Dataset implements it.
type Resolver interface {
	Lookup(t core.EntityType, id string) (core.Entity, bool)
}

// RefError reports an exported reference that the dataset cannot resolve.
type RefError struct {
	Position int
	Ref      Ref
}

func (e *RefError) Error() string {
	return fmt.Sprintf("index position %d references unknown %s %q", e.Position, e.Ref.Type, e.Ref.ID)
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo writes the index as zstd compressed msgpack.
func (ix *Index) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	enc, err := zstd.NewWriter(cw)
	if err != nil {
		return 0, fmt.Errorf("creating zstd writer: %w", err)
	}
	snap := snapshot{
		Version:  FormatVersion,
		Tokens:   ix.tokens,
		Postings: ix.postings,
		Refs:     ix.refs,
	}
	if err := msgpack.NewEncoder(enc).Encode(&snap); err != nil {
		enc.Close()
		return cw.n, fmt.Errorf("encoding index: %w", err)
	}
	if err := enc.Close(); err != nil {
		return cw.n, fmt.Errorf("flushing index: %w", err)
	}
	return cw.n, nil
}

// Read decodes an index written by WriteTo and binds it to r.
func Read(rd io.Reader, r Resolver) (*Index, error) {
	dec, err := zstd.NewReader(rd)
	if err != nil {
		return nil, fmt.Errorf("creating zstd reader: %w", err)
	}
	defer dec.Close()

	var snap snapshot
	if err := msgpack.NewDecoder(dec).Decode(&snap); err != nil {
		return nil, fmt.Errorf("decoding index: %w", err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported index format version %d (want %d)", snap.Version, FormatVersion)
	}
	if len(snap.Tokens) != len(snap.Postings) {
		return nil, fmt.Errorf("corrupt index: %d tokens but %d posting lists", len(snap.Tokens), len(snap.Postings))
	}
	for i, list := range snap.Postings {
		for _, pos := range list {
			if pos < 0 || int(pos) >= len(snap.Refs) {
				return nil, fmt.Errorf("corrupt index: token %q points at position %d of %d", snap.Tokens[i], pos, len(snap.Refs))
			}
		}
	}

	ix := &Index{
		tokens:   snap.Tokens,
		postings: snap.Postings,
		refs:     snap.Refs,
		entities: make([]core.Entity, len(snap.Refs)),
	}
	for i, ref := range snap.Refs {
		e, ok := r.Lookup(ref.Type, ref.ID)
		if !ok {
			return nil, &RefError{Position: i, Ref: ref}
		}
		ix.entities[i] = e
	}
	return ix, nil
}

// Load reads the index file at path.
func Load(path string, r Resolver) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	defer f.Close()

	ix, err := Read(f, r)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return ix, nil
}

// Save writes the index to path through a temporary file so readers never
// observe a partial export.
func (ix *Index) Save(path string) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := ix.WriteTo(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("renaming index: %w", err)
	}
	return nil
}
