package dataset

import (
	"fmt"
	"slices"
	"strings"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
)

func build(countries, institutions []core.Entity, countriesName, institutionsName string) (*Dataset, error) {
	countries = slices.Clone(countries)
	institutions = slices.Clone(institutions)

	if err := validate(countries, core.Country, countriesName); err != nil {
		return nil, err
	}
	if err := validate(institutions, core.Institution, institutionsName); err != nil {
		return nil, err
	}

	countryNames := make(map[string]string, len(countries))
	for _, c := range countries {
		countryNames[c.ID] = c.Name
	}

	for i := range institutions {
		inst := &institutions[i]
		name, ok := countryNames[inst.CountryCode]
		if !ok {
			return nil, &IntegrityError{
				File:   institutionsName,
				Index:  i,
				ID:     inst.ID,
				Reason: fmt.Sprintf("country_code %q does not match a loaded country", inst.CountryCode),
			}
		}
		inst.CountryName = name
	}

	return &Dataset{
		Countries:    core.NewCollection(core.Country, countries),
		Institutions: core.NewCollection(core.Institution, institutions),
	}, nil
}

// validate checks every record of one collection and stamps its entity
// type. Records are modified in place.
func validate(entities []core.Entity, kind core.EntityType, file string) error {
	seen := make(map[string]int, len(entities))
	for i := range entities {
		e := &entities[i]
		fail := func(format string, args ...any) error {
			return &IntegrityError{File: file, Index: i, ID: e.ID, Reason: fmt.Sprintf(format, args...)}
		}

		if strings.TrimSpace(e.ID) == "" {
			return fail("missing id")
		}
		if prev, dup := seen[e.ID]; dup {
			return fail("duplicate id (first seen at record %d)", prev)
		}
		seen[e.ID] = i

		switch e.EntityType {
		case "":
			e.EntityType = kind
		case kind:
		default:
			return fail("entity_type %q does not match %s", e.EntityType, kind)
		}

		if strings.TrimSpace(e.Name) == "" {
			return fail("missing name")
		}
		if strings.TrimSpace(e.Region) == "" {
			return fail("missing region")
		}
		if strings.TrimSpace(e.Subregion) == "" {
			return fail("missing subregion")
		}
		if err := e.Stats.Validate(); err != nil {
			return fail("invalid stats: %v", err)
		}

		if kind == core.Institution {
			if e.CountryCode == "" {
				return fail("missing country_code")
			}
			if len(e.InstitutionTypes) == 0 {
				return fail("institution_types is empty")
			}
			if slices.Contains(e.InstitutionTypes, "") {
				return fail("institution_types contains an empty value")
			}
		} else {
			e.CountryCode = ""
			e.CountryName = ""
			e.InstitutionTypes = nil
		}
	}
	return nil
}
