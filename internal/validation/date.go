package validation

import (
	"time"

	"schoolattend/internal/ledger"
)

func parseDate(s string) (time.Time, error) {
	return time.Parse(ledger.DateLayout, s)
}

// Date validates a YYYY-MM-DD calendar date for the named field.
func Date(field, value string) error {
	if _, err := parseDate(value); err != nil {
		return ledger.Invalid(field, "must be a date in YYYY-MM-DD format")
	}
	return nil
}
