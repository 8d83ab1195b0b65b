package game

import (
	"errors"
	"fmt"

	"github.com/susu3304/pokerdues/internal/settlement"
)

var (
	ErrEmptyInput     = errors.New("no players to settle")
	ErrDuplicateName  = errors.New("player names must be unique")
	ErrValidation     = errors.New("invalid input")
	ErrPlayerNotFound = errors.New("player not found")
)

// UserMessage turns a failure into the text shown to the person at the table.
func UserMessage(err error) string {
	var imbalanced *settlement.ImbalancedTotalError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyInput):
		return "Please add at least one player"
	case errors.As(err, &imbalanced):
		return fmt.Sprintf("ERROR: Grand Total must be zero, check your data: %.2f", imbalanced.Total)
	case errors.Is(err, ErrDuplicateName):
		return "Player names must be unique."
	case errors.Is(err, settlement.ErrNoPositiveNetPlayers),
		errors.Is(err, settlement.ErrNonPositiveExpenseTotal):
		return "Host expense needs at least one player with a positive net."
	case errors.Is(err, settlement.ErrHostNotFound):
		return "Selected host is not in this game."
	case errors.Is(err, settlement.ErrNegativeExpense):
		return "Expense must not be negative."
	case errors.Is(err, ErrPlayerNotFound):
		return "Player not found."
	case errors.Is(err, ErrValidation):
		return err.Error()
	default:
		return "Something went wrong: " + err.Error()
	}
}
