package services

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/fundora/apiserver/internal/store"
	"github.com/google/uuid"
)

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// parseAmount parses a finite decimal.
func parseAmount(field, raw string) (float64, error) {
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, invalid("%s must be a number", field)
	}
	return value, nil
}

func parseInt(field, raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	value, err := strconv.Atoi(raw)
	if err != nil {
		// Accept integral decimals such as "2.0".
		f, ferr := strconv.ParseFloat(raw, 64)
		if ferr != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt32 {
			return 0, invalid("%s must be an integer", field)
		}
		value = int(f)
	}
	return value, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and returns
// it in UTC.
func parseDate(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, invalid("%s must be a date", field)
}

// requireFields reports the first blank field in name/value pairs.
func requireFields(pairs ...string) error {
	var missing []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			missing = append(missing, pairs[i])
		}
	}
	if len(missing) > 0 {
		return invalid("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// parseProjectID rejects identifiers that are not UUIDs.
func parseProjectID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", invalid("invalid project id")
	}
	return id.String(), nil
}

// parseRecordID maps malformed identifiers to not-found; such a record
// cannot exist.
func parseRecordID(raw string) (string, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", store.ErrNotFound
	}
	return id.String(), nil
}
