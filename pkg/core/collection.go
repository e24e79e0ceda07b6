package core

import "iter"

// Collection is an ordered, read-only set of entities of one type.
//
// A Collection is built once when the dataset is loaded and is safe for
// concurrent use afterwards. Every entity it hands out is a deep copy, so
// callers may modify what they receive.
type Collection struct {
	kind  EntityType
	items []Entity
	byID  map[string]int
}

// NewCollection deep copies items into a new collection of the given type.
// Duplicate ids keep their first position for lookups; callers that need
// uniqueness validate before building (see the dataset package).
func NewCollection(kind EntityType, items []Entity) *Collection {
	c := &Collection{
		kind:  kind,
		items: make([]Entity, len(items)),
		byID:  make(map[string]int, len(items)),
	}
	for i := range items {
		c.items[i] = items[i].Clone()
	}
	for i := range c.items {
		if _, exists := c.byID[c.items[i].ID]; !exists {
			c.byID[c.items[i].ID] = i
		}
	}
	return c
}

// Type returns the entity type held by the collection.
func (c *Collection) Type() EntityType { return c.kind }

// Len returns the number of entities.
func (c *Collection) Len() int { return len(c.items) }

// At returns the entity at position i.
func (c *Collection) At(i int) Entity { return c.items[i].Clone() }

// Lookup returns the entity with the given id.
func (c *Collection) Lookup(id string) (Entity, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Entity{}, false
	}
	return c.items[i].Clone(), true
}

// All yields every entity with its position, in collection order.
func (c *Collection) All() iter.Seq2[int, Entity] {
	return func(yield func(int, Entity) bool) {
		for i := range c.items {
			if !yield(i, c.items[i].Clone()) {
				return
			}
		}
	}
}

// Entities returns a copy of the entities in collection order.
func (c *Collection) Entities() []Entity {
	out := make([]Entity, len(c.items))
	for i := range c.items {
		out[i] = c.items[i].Clone()
	}
	return out
}
