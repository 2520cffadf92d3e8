// Package numerator provides domain contracts for entry auto-numbering.
package numerator

// Config holds numbering configuration. Counters reset every calendar day.
type Config struct {
	// Domain names the counter family, e.g. "lot_entries".
	Domain string

	// Prefix added to all numbers (e.g. "ENT")
	Prefix string

	// PadWidth is the minimum sequence width (default 3)
	PadWidth int
}

// LotEntryConfig is the day-scoped counter behind ENT-YYYYMMDD-NNN numbers.
func LotEntryConfig() Config {
	return Config{
		Domain:   "lot_entries",
		Prefix:   "ENT",
		PadWidth: 3,
	}
}
