// Package rangecheck classifies a lab value against its reference range.
//
// The rule is a closed interval with exact decimal comparison:
//
//	value <  min          -> LOWER
//	value >  max          -> HIGHER
//	min <= value <= max   -> NORMAL
//
// No rounding or tolerance is applied. A range with min > max is rejected.
package rangecheck

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"labreport-bot/api/internal/fault"
)

type Status string

const (
	Normal Status = "NORMAL"
	Lower  Status = "LOWER"
	Higher Status = "HIGHER"
)

func (s Status) String() string { return string(s) }

// Classify places value relative to the inclusive range [min, max].
func Classify(value, min, max decimal.Decimal) (Status, error) {
	if min.GreaterThan(max) {
		return "", &fault.RangeDefinitionError{Min: min, Max: max}
	}
	switch {
	case value.LessThan(min):
		return Lower, nil
	case value.GreaterThan(max):
		return Higher, nil
	default:
		return Normal, nil
	}
}

// ParseStatus reads a status token as written by the text service. LOW and
// HIGH are accepted because the analysis prompt uses them.
func ParseStatus(token string) (Status, error) {
	t := strings.ToUpper(strings.TrimSpace(token))
	t = strings.Trim(t, "*_`.:")
	switch t {
	case "NORMAL", "WITHIN RANGE":
		return Normal, nil
	case "LOWER", "LOW":
		return Lower, nil
	case "HIGHER", "HIGH":
		return Higher, nil
	default:
		return "", fmt.Errorf("unknown status %q", token)
	}
}
