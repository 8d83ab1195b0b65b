package settlement

import (
	"errors"
	"fmt"
)

var (
	ErrImbalancedTotal         = errors.New("grand total must be zero")
	ErrNoPositiveNetPlayers    = errors.New("no players with a positive net to share the expense")
	ErrNonPositiveExpenseTotal = errors.New("total positive net must be greater than zero")
	ErrNegativeExpense         = errors.New("expense must not be negative")
	ErrHostNotFound            = errors.New("host is not a player in this game")
)

// ImbalancedTotalError reports the grand total that fell outside the tolerance.
type ImbalancedTotalError struct {
	Total float64
}

func (e *ImbalancedTotalError) Error() string {
	return fmt.Sprintf("%v, check your data: %.2f", ErrImbalancedTotal, e.Total)
}

func (e *ImbalancedTotalError) Unwrap() error {
	return ErrImbalancedTotal
}
