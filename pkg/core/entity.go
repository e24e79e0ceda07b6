package core

import (
	"fmt"
	"slices"
	"strings"
)

// EntityType identifies which collection an entity belongs to.
// It is assigned when the dataset is loaded and never changes afterwards.
type EntityType string

const (
	Country     EntityType = "country"
	Institution EntityType = "institution"
)

// EntityTypes lists every supported entity type in collection order.
var EntityTypes = []EntityType{Country, Institution}

// Valid reports whether t is one of the supported entity types.
func (t EntityType) Valid() bool {
	return t == Country || t == Institution
}

// Plural returns the collection name for t ("countries", "institutions").
func (t EntityType) Plural() string {
	switch t {
	case Country:
		return "countries"
	case Institution:
		return "institutions"
	}
	return string(t) + "s"
}

// Stats holds the publication metrics of an entity.
//
// Invariants enforced at load time:
//   - 0 <= NOutputsOpen <= NOutputs
//   - every count is >= 0
//   - every percentage is within [0, 100]
type Stats struct {
	NOutputs                  int64   `json:"n_outputs"`
	NOutputsOpen              int64   `json:"n_outputs_open"`
	POutputsOpen              float64 `json:"p_outputs_open"`
	NOutputsPublisherOpen     int64   `json:"n_outputs_publisher_open"`
	NOutputsOtherPlatformOpen int64   `json:"n_outputs_other_platform_open"`
	NOutputsClosed            int64   `json:"n_outputs_closed"`
	POutputsPublisherOpen     float64 `json:"p_outputs_publisher_open"`
	POutputsOtherPlatformOpen float64 `json:"p_outputs_other_platform_open"`
	POutputsClosed            float64 `json:"p_outputs_closed"`
}

// statFields maps a stats field name to its accessor. Counts are widened
// to float64 so that every numeric field compares on one scale.
var statFields = map[string]func(*Stats) float64{
	"n_outputs":                     func(s *Stats) float64 { return float64(s.NOutputs) },
	"n_outputs_open":                func(s *Stats) float64 { return float64(s.NOutputsOpen) },
	"p_outputs_open":                func(s *Stats) float64 { return s.POutputsOpen },
	"n_outputs_publisher_open":      func(s *Stats) float64 { return float64(s.NOutputsPublisherOpen) },
	"n_outputs_other_platform_open": func(s *Stats) float64 { return float64(s.NOutputsOtherPlatformOpen) },
	"n_outputs_closed":              func(s *Stats) float64 { return float64(s.NOutputsClosed) },
	"p_outputs_publisher_open":      func(s *Stats) float64 { return s.POutputsPublisherOpen },
	"p_outputs_other_platform_open": func(s *Stats) float64 { return s.POutputsOtherPlatformOpen },
	"p_outputs_closed":              func(s *Stats) float64 { return s.POutputsClosed },
}

// IsPercentField reports whether the named stats field is a percentage.
func IsPercentField(name string) bool {
	return strings.HasPrefix(strings.TrimPrefix(name, "stats."), "p_")
}

// Validate checks the stats invariants.
func (s Stats) Validate() error {
	counts := map[string]int64{
		"n_outputs":                     s.NOutputs,
		"n_outputs_open":                s.NOutputsOpen,
		"n_outputs_publisher_open":      s.NOutputsPublisherOpen,
		"n_outputs_other_platform_open": s.NOutputsOtherPlatformOpen,
		"n_outputs_closed":              s.NOutputsClosed,
	}
	for name, v := range counts {
		if v < 0 {
			return fmt.Errorf("%s is negative (%d)", name, v)
		}
	}
	if s.NOutputsOpen > s.NOutputs {
		return fmt.Errorf("n_outputs_open (%d) exceeds n_outputs (%d)", s.NOutputsOpen, s.NOutputs)
	}
	percents := map[string]float64{
		"p_outputs_open":                s.POutputsOpen,
		"p_outputs_publisher_open":      s.POutputsPublisherOpen,
		"p_outputs_other_platform_open": s.POutputsOtherPlatformOpen,
		"p_outputs_closed":              s.POutputsClosed,
	}
	for name, v := range percents {
		if v < 0 || v > 100 {
			return fmt.Errorf("%s out of range [0,100] (%g)", name, v)
		}
	}
	return nil
}

// Entity is a country or institution record.
//
// CountryCode, CountryName and InstitutionTypes are only set on
// institutions. Acronyms are only used to build the search index.
type Entity struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Logo             string     `json:"logo,omitempty"`
	EntityType       EntityType `json:"entity_type"`
	Region           string     `json:"region"`
	Subregion        string     `json:"subregion"`
	CountryCode      string     `json:"country_code,omitempty"`
	CountryName      string     `json:"country_name,omitempty"`
	InstitutionTypes []string   `json:"institution_types,omitempty"`
	Acronyms         []string   `json:"acronyms,omitempty"`
	Stats            Stats      `json:"stats"`
}

// Number returns the numeric value addressed by path. Both the dotted
// form ("stats.p_outputs_open") and the bare field name are accepted.
func (e *Entity) Number(path string) (float64, bool) {
	fn, ok := statFields[strings.TrimPrefix(path, "stats.")]
	if !ok {
		return 0, false
	}
	return fn(&e.Stats), true
}

// Text returns the string attribute addressed by name.
func (e *Entity) Text(name string) (string, bool) {
	switch name {
	case "id":
		return e.ID, true
	case "name":
		return e.Name, true
	case "region":
		return e.Region, true
	case "subregion":
		return e.Subregion, true
	case "country_code":
		return e.CountryCode, true
	case "country_name":
		return e.CountryName, true
	case "entity_type":
		return string(e.EntityType), true
	}
	return "", false
}

// SearchText concatenates the fields that feed the search index: the
// name, the acronyms, the country name (institutions only) and the region.
func (e *Entity) SearchText() string {
	parts := make([]string, 0, 3+len(e.Acronyms))
	parts = append(parts, e.Name)
	parts = append(parts, e.Acronyms...)
	if e.CountryName != "" {
		parts = append(parts, e.CountryName)
	}
	parts = append(parts, e.Region)
	return strings.Join(parts, " ")
}

// Clone returns a copy of e that shares no slices with it.
func (e *Entity) Clone() Entity {
	c := *e
	c.InstitutionTypes = slices.Clone(e.InstitutionTypes)
	c.Acronyms = slices.Clone(e.Acronyms)
	return c
}

// Bounds carries one value per range-filterable metric. It is used for
// the observed minimum and maximum of a filtered population.
type Bounds struct {
	NOutputs     int64   `json:"n_outputs"`
	NOutputsOpen int64   `json:"n_outputs_open"`
	POutputsOpen float64 `json:"p_outputs_open"`
}

// BoundsOf returns the range-filterable metrics of s.
func BoundsOf(s Stats) Bounds {
	return Bounds{
		NOutputs:     s.NOutputs,
		NOutputsOpen: s.NOutputsOpen,
		POutputsOpen: s.POutputsOpen,
	}
}

// Lower lowers each metric of b to the value in o when o is smaller.
func (b *Bounds) Lower(o Bounds) {
	b.NOutputs = min(b.NOutputs, o.NOutputs)
	b.NOutputsOpen = min(b.NOutputsOpen, o.NOutputsOpen)
	b.POutputsOpen = min(b.POutputsOpen, o.POutputsOpen)
}

// Raise raises each metric of b to the value in o when o is larger.
func (b *Bounds) Raise(o Bounds) {
	b.NOutputs = max(b.NOutputs, o.NOutputs)
	b.NOutputsOpen = max(b.NOutputsOpen, o.NOutputsOpen)
	b.POutputsOpen = max(b.POutputsOpen, o.POutputsOpen)
}
