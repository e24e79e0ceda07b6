// Package fixture provides a small, fixed dataset shared by tests.
package fixture

import (
	"math"
	"testing"

	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/core"
	"github.com/The-Academic-Observatory/coki-oa-web-sub000/pkg/dataset"
)

// Stats derives a full stats record from the output and open counts.
// Publisher open is 60% of open outputs, the remainder is other platform.
func Stats(n, open int64) core.Stats {
	publisher := open * 6 / 10
	other := open - publisher
	closed := n - open
	return core.Stats{
		NOutputs:                  n,
		NOutputsOpen:              open,
		POutputsOpen:              percent(open, n),
		NOutputsPublisherOpen:     publisher,
		NOutputsOtherPlatformOpen: other,
		NOutputsClosed:            closed,
		POutputsPublisherOpen:     percent(publisher, n),
		POutputsOtherPlatformOpen: percent(other, n),
		POutputsClosed:            percent(closed, n),
	}
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*10000) / 100
}

func country(id, name, region, subregion string, n, open int64) core.Entity {
	return core.Entity{
		ID:         id,
		Name:       name,
		Logo:       "logos/country/" + id + ".svg",
		EntityType: core.Country,
		Region:     region,
		Subregion:  subregion,
		Stats:      Stats(n, open),
	}
}

// Countries returns 19 countries ordered by id. Exactly three of them
// (ARE, IRQ, ISL) have n_outputs within [1705, 3252].
func Countries() []core.Entity {
	return []core.Entity{
		country("ARE", "United Arab Emirates", "Asia", "Western Asia", 2100, 1050),
		country("AUS", "Australia", "Oceania", "Australia and New Zealand", 95000, 47500),
		country("BGR", "Bulgaria", "Europe", "Eastern Europe", 4100, 1640),
		country("BRA", "Brazil", "Americas", "South America", 61000, 30500),
		country("CAN", "Canada", "Americas", "Northern America", 88000, 52800),
		country("CHE", "Switzerland", "Europe", "Western Europe", 42000, 31500),
		country("CIV", "Côte d'Ivoire", "Africa", "Western Africa", 980, 490),
		country("CUB", "Cuba", "Americas", "Caribbean", 1704, 426),
		country("DEU", "Germany", "Europe", "Western Europe", 150000, 90000),
		country("FJI", "Fiji", "Oceania", "Melanesia", 310, 62),
		country("GBR", "United Kingdom", "Europe", "Northern Europe", 170000, 127500),
		country("IRQ", "Iraq", "Asia", "Western Asia", 3252, 813),
		country("ISL", "Iceland", "Europe", "Northern Europe", 1705, 1023),
		country("JOR", "Jordan", "Asia", "Western Asia", 3400, 1020),
		country("KEN", "Kenya", "Africa", "Eastern Africa", 5200, 2600),
		country("NZL", "New Zealand", "Oceania", "Australia and New Zealand", 14000, 9800),
		country("SSD", "South Sudan", "Africa", "Eastern Africa", 45, 9),
		country("USA", "United States of America", "Americas", "Northern America", 600000, 330000),
		country("ZAF", "South Africa", "Africa", "Southern Africa", 24000, 9600),
	}
}

func institution(id, name, countryCode, region, subregion string, types, acronyms []string, n, open int64) core.Entity {
	return core.Entity{
		ID:               id,
		Name:             name,
		Logo:             "logos/institution/" + id + ".png",
		EntityType:       core.Institution,
		Region:           region,
		Subregion:        subregion,
		CountryCode:      countryCode,
		InstitutionTypes: types,
		Acronyms:         acronyms,
		Stats:            Stats(n, open),
	}
}

// Institutions returns 12 institutions. The Australian National University
// is tagged both Education and Facility.
func Institutions() []core.Entity {
	return []core.Entity{
		institution("01ryk1543", "University of Southampton", "GBR", "Europe", "Northern Europe",
			[]string{"Education"}, nil, 42000, 29400),
		institution("001xkv632", "Southern Cross University", "AUS", "Oceania", "Australia and New Zealand",
			[]string{"Education"}, []string{"SCU"}, 5200, 3120),
		institution("01p93h210", "University of South Australia", "AUS", "Oceania", "Australia and New Zealand",
			[]string{"Education"}, []string{"UniSA"}, 19000, 11400),
		institution("019wvm592", "Australian National University", "AUS", "Oceania", "Australia and New Zealand",
			[]string{"Education", "Facility"}, []string{"ANU"}, 61000, 39650),
		institution("05q60vz69", "South African Medical Research Council", "ZAF", "Africa", "Southern Africa",
			[]string{"Government", "Facility"}, []string{"SAMRC"}, 6100, 4270),
		institution("01ggx4157", "European Organization for Nuclear Research", "CHE", "Europe", "Western Europe",
			[]string{"Facility"}, []string{"CERN"}, 21000, 18900),
		institution("059mq0909", "Siemens", "DEU", "Europe", "Western Europe",
			[]string{"Company"}, nil, 9800, 2450),
		institution("03haqmz43", "Université Félix Houphouët-Boigny", "CIV", "Africa", "Western Africa",
			[]string{"Education"}, nil, 2100, 1260),
		institution("02y9nww90", "University of Nairobi", "KEN", "Africa", "Eastern Africa",
			[]string{"Education"}, nil, 8700, 5220),
		institution("042nb2s44", "Massachusetts Institute of Technology", "USA", "Americas", "Northern America",
			[]string{"Education"}, []string{"MIT"}, 120000, 84000),
		institution("00ryxfh95", "Statistics New Zealand", "NZL", "Oceania", "Australia and New Zealand",
			[]string{"Government"}, nil, 310, 155),
		institution("04r1cxt79", "Kenya Medical Research Institute", "KEN", "Africa", "Eastern Africa",
			[]string{"Government", "Healthcare"}, []string{"KEMRI"}, 4800, 2880),
	}
}

// Dataset builds a validated dataset from the fixture records.
func Dataset(t testing.TB) *dataset.Dataset {
	t.Helper()
	ds, err := dataset.New(Countries(), Institutions())
	if err != nil {
		t.Fatalf("building fixture dataset: %v", err)
	}
	return ds
}

// WriteDir writes the fixture as JSON files into a temporary directory and
// returns its path.
func WriteDir(t testing.TB) string {
	t.Helper()
	dir := t.TempDir()
	if err := dataset.WriteJSON(dir+"/"+dataset.CountriesFile, Countries()); err != nil {
		t.Fatalf("writing countries: %v", err)
	}
	if err := dataset.WriteJSON(dir+"/"+dataset.InstitutionsFile, Institutions()); err != nil {
		t.Fatalf("writing institutions: %v", err)
	}
	return dir
}
