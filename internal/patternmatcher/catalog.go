package patternmatcher

import (
	"github.com/marinersgrid/marinegrid/internal/vectorstore"
	"github.com/marinersgrid/marinegrid/pkg/atmovector"
)

// CatalogEntry is one dangerous-pattern catalog row, per spec §4.4.1.
type CatalogEntry struct {
	ID              string
	Label           string
	Outcome         string
	Category        string
	Embedding       atmovector.Vector
	Recommendations []string
	EstimatedOnset  string
}

// Catalog is the normative minimum set of six dangerous patterns.
// Implementers may add more; these six and their semantics must stay.
var Catalog = []CatalogEntry{
	{
		ID:       "pre_squall_tropical",
		Label:    "Pre-squall tropical buildup",
		Outcome:  "squall",
		Category: "squall",
		Embedding: atmovector.Build(atmovector.Inputs{
			TemperatureC:    28,
			PressureHPa:     1008,
			HumidityPct:     92,
			WindUms:         4,
			WindVms:         2,
			PressureTrendHr: -0.5,
			CloudCoverFrac:  0.9,
			WaveHeightM:     1.0,
			WavePeriodS:     5,
		}),
		Recommendations: []string{
			"Reduce sail area before cloud base darkens further",
			"Secure hatches and loose deck gear",
			"Monitor radar for cell development",
		},
		EstimatedOnset: "15-45 minutes",
	},
	{
		ID:       "gale_development",
		Label:    "Gale development",
		Outcome:  "gale",
		Category: "gale",
		Embedding: atmovector.Build(atmovector.Inputs{
			TemperatureC:    12,
			PressureHPa:     995,
			HumidityPct:     80,
			WindUms:         18,
			WindVms:         10,
			PressureTrendHr: -3.0,
			CloudCoverFrac:  0.95,
			WaveHeightM:     4.5,
			WavePeriodS:     8,
		}),
		Recommendations: []string{
			"Reef down and check storm canvas is accessible",
			"Plot a course away from the forecast track of lowest pressure",
			"Brief crew on heavy-weather watch rotation",
		},
		EstimatedOnset: "4-8 hours",
	},
	{
		ID:       "rapid_pressure_drop",
		Label:    "Rapid pressure drop",
		Outcome:  "rapidPressureDrop",
		Category: "rapidPressureDrop",
		Embedding: atmovector.Build(atmovector.Inputs{
			TemperatureC:    14,
			PressureHPa:     1000,
			HumidityPct:     75,
			WindUms:         10,
			WindVms:         6,
			PressureTrendHr: -10.0,
			CloudCoverFrac:  0.8,
			WaveHeightM:     2.5,
			WavePeriodS:     7,
		}),
		Recommendations: []string{
			"Treat the drop as confirmation of an approaching system, not noise",
			"Check bilges and storm preparation now, not at the onset",
		},
		EstimatedOnset: "2-6 hours to peak",
	},
	{
		ID:       "rogue_wave_conditions",
		Label:    "Rogue wave conditions",
		Outcome:  "rogueWave",
		Category: "rogueWave",
		Embedding: atmovector.Build(atmovector.Inputs{
			TemperatureC:    15,
			PressureHPa:     1010,
			HumidityPct:     70,
			WindUms:         -14,
			WindVms:         8,
			PressureTrendHr: -0.2,
			CloudCoverFrac:  0.6,
			WaveHeightM:     7.0,
			WavePeriodS:     6,
		}),
		Recommendations: []string{
			"Alter heading to take seas on a safer angle, avoid beam-on",
			"Reduce speed to limit slamming loads",
		},
		EstimatedOnset: "unpredictable",
	},
	{
		ID:       "itcz_convergence",
		Label:    "ITCZ convergence zone",
		Outcome:  "convergenceZone",
		Category: "convergenceZone",
		Embedding: atmovector.Build(atmovector.Inputs{
			TemperatureC:    31,
			PressureHPa:     1011,
			HumidityPct:     97,
			WindUms:         1,
			WindVms:         -1,
			PressureTrendHr: 0.0,
			CloudCoverFrac:  0.85,
			WaveHeightM:     0.8,
			WavePeriodS:     4,
		}),
		Recommendations: []string{
			"Expect sudden, short-lived squalls with little warning",
			"Keep engine ready for maneuvering in light, shifting wind",
		},
		EstimatedOnset: "minutes to hours",
	},
	{
		ID:       "lee_shore_trap",
		Label:    "Lee shore trap",
		Outcome:  "gale",
		Category: "gale",
		Embedding: atmovector.Build(atmovector.Inputs{
			TemperatureC:    13,
			PressureHPa:     1002,
			HumidityPct:     82,
			WindUms:         15,
			WindVms:         -12,
			PressureTrendHr: -2.5,
			CloudCoverFrac:  0.9,
			WaveHeightM:     3.0,
			WavePeriodS:     6,
		}),
		Recommendations: []string{
			"Gain sea room immediately, an onshore wind shift removes escape routes",
			"Identify the nearest safe anchorage upwind before committing to a course",
		},
		EstimatedOnset: "1-4 hours",
	},
}

// SeedPatterns converts the catalog into vectorstore.Pattern rows for
// VectorStore bootstrap.
func SeedPatterns() []vectorstore.Pattern {
	out := make([]vectorstore.Pattern, 0, len(Catalog))
	for _, c := range Catalog {
		out = append(out, vectorstore.Pattern{
			ID:        c.ID,
			Embedding: c.Embedding,
			Label:     c.Label,
			Outcome:   c.Outcome,
			Source:    vectorstore.SourceGridLearned,
		})
	}
	return out
}

func byID(id string) (CatalogEntry, bool) {
	for _, c := range Catalog {
		if c.ID == id {
			return c, true
		}
	}
	return CatalogEntry{}, false
}
