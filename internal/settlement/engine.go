// Package settlement turns net balances into the payments that zero them.
//
// Everything here is pure: no clocks, no ids, no logging. Callers stamp the
// resulting payments with whatever identity they need.
package settlement

import (
	"math"
	"strings"
)

// Tolerance is how far the grand total may drift from zero, in the game's
// base currency unit, before a settlement is refused.
const Tolerance = 1.0

// Balance is one player's signed position. Positive means the player is owed
// money, negative means the player owes.
type Balance struct {
	ID   string
	Name string
	Net  float64
}

// Payment moves Amount from the player named From to the player named To.
type Payment struct {
	From   string
	To     string
	Amount float64
}

// Settle computes the payments that discharge balances, using Tolerance.
func Settle(balances []Balance) ([]Payment, error) {
	return SettleWithTolerance(balances, Tolerance)
}

// SettleWithTolerance discards blank names, checks that the grand total is
// within tolerance of zero and then runs the greedy pass.
//
// The pass is order dependent: debtors are taken from the end of the list
// backwards and each one pays creditors from the front of the list forwards.
// The same ordered input always yields the same payments.
func SettleWithTolerance(balances []Balance, tolerance float64) ([]Payment, error) {
	valid := FilterBlank(balances)
	if len(valid) == 0 {
		return []Payment{}, nil
	}

	total := GrandTotal(valid)
	if math.Abs(total) > tolerance {
		return nil, &ImbalancedTotalError{Total: total}
	}

	names := make([]string, len(valid))
	net := make([]float64, len(valid))
	for k, b := range valid {
		names[k] = b.Name
		net[k] = b.Net
	}

	payments := []Payment{}
	n := len(net)
	for i := n - 1; i >= 0; i-- {
		for j := 0; net[i] < 0 && j < n; j++ {
			if net[j] <= 0 {
				continue
			}
			if net[i]+net[j] >= 0 {
				payments = append(payments, Payment{From: names[i], To: names[j], Amount: -net[i]})
				net[j] += net[i]
				net[i] = 0
			} else {
				payments = append(payments, Payment{From: names[i], To: names[j], Amount: net[j]})
				net[i] += net[j]
				net[j] = 0
			}
		}
	}
	return payments, nil
}

// FilterBlank drops balances whose name is empty or whitespace only,
// keeping the order of the rest.
func FilterBlank(balances []Balance) []Balance {
	out := make([]Balance, 0, len(balances))
	for _, b := range balances {
		if strings.TrimSpace(b.Name) == "" {
			continue
		}
		out = append(out, b)
	}
	return out
}

// GrandTotal sums the nets of balances.
func GrandTotal(balances []Balance) float64 {
	var total float64
	for _, b := range balances {
		total += b.Net
	}
	return total
}
