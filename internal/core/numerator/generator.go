package numerator

import (
	"context"
	"fmt"
	"time"
)

// Generator generates unique sequential entry numbers.
// Implementations must obtain every number from a single atomic
// increment-and-fetch on the shared counter and fail when it is unavailable.
type Generator interface {
	// GetNextNumber generates the next number of the day containing day,
	// as PREFIX-YYYYMMDD-NNN (e.g. ENT-20260315-007).
	GetNextNumber(ctx context.Context, cfg Config, day time.Time) (string, error)
}

// BuildKey returns the counter key, "<domain>_<YYYY-MM-DD>".
func BuildKey(cfg Config, day time.Time) string {
	domain := cfg.Domain
	if domain == "" {
		domain = cfg.Prefix
	}
	return fmt.Sprintf("%s_%s", domain, day.Format("2006-01-02"))
}

// FormatNumber renders the final number string.
func FormatNumber(cfg Config, day time.Time, num int64) string {
	padWidth := cfg.PadWidth
	if padWidth == 0 {
		padWidth = 3
	}
	return fmt.Sprintf("%s-%s-%0*d", cfg.Prefix, day.Format("20060102"), padWidth, num)
}
