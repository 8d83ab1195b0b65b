package game

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseAmount reads a user typed amount such as "1,250.50" or " 40 ".
// Empty input is zero.
func ParseAmount(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrValidation, s)
	}
	if err := checkFinite("amount", v); err != nil {
		return 0, err
	}
	return v, nil
}

func checkFinite(field string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%w: %s must be a finite number", ErrValidation, field)
	}
	return nil
}

func checkBuyIn(v float64) error {
	if err := checkFinite("buy-in", v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("%w: buy-in must not be negative", ErrValidation)
	}
	return nil
}
