package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Column encodings: decimals as exact strings, times as RFC3339Nano (empty
// string for the zero time), string sets as JSON arrays, booleans as 0/1.

func encDecimal(d decimal.Decimal) string {
	return d.String()
}

func decDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("decode decimal %q: %w", s, err)
	}
	return d, nil
}

func encTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("decode time %q: %w", s, err)
	}
	return t, nil
}

func encStrings(ss []string) (string, error) {
	if ss == nil {
		ss = []string{}
	}
	buf, err := json.Marshal(ss)
	if err != nil {
		return "", fmt.Errorf("encode string set: %w", err)
	}
	return string(buf), nil
}

func decStrings(s string) ([]string, error) {
	if s == "" {
		return []string{}, nil
	}
	var ss []string
	if err := json.Unmarshal([]byte(s), &ss); err != nil {
		return nil, fmt.Errorf("decode string set %q: %w", s, err)
	}
	return ss, nil
}

func encBool(b bool) int {
	if b {
		return 1
	}
	return 0
}
