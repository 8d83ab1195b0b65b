package game

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

type Player struct {
	ID           uuid.UUID `json:"id"`
	GameID       uuid.UUID `json:"gameId"`
	Name         string    `json:"name"`
	Net          float64   `json:"net"`
	BuyIn        float64   `json:"buyIn"`
	FinalBalance float64   `json:"finalBalance"`
	BuyInHistory []BuyIn   `json:"buyInHistory"`
}

// BuyIn is one buy-in event. Amount is negative only when an edit lowered
// the buy-in.
type BuyIn struct {
	ID     uuid.UUID `json:"id"`
	Amount float64   `json:"amount"`
	Date   time.Time `json:"date"`
	Note   string    `json:"note,omitempty"`
}

type Transaction struct {
	ID      uuid.UUID `json:"id"`
	GameID  uuid.UUID `json:"gameId"`
	PayFrom string    `json:"payFrom"`
	PayTo   string    `json:"payTo"`
	Amount  float64   `json:"amount"`
	Date    time.Time `json:"date"`
}

func (t Transaction) String() string {
	return fmt.Sprintf("%s to %s : %s", t.PayFrom, t.PayTo, FormatAmount(t.Amount))
}

type Role string

const (
	RolePaid     Role = "paid"
	RoleReceived Role = "received"
)

// PlayerTransaction is a settlement transaction seen from one player's side.
type PlayerTransaction struct {
	TransactionID   uuid.UUID `json:"transactionId"`
	CounterpartName string    `json:"counterpartName"`
	Amount          float64   `json:"amount"`
	Role            Role      `json:"role"`
	Date            time.Time `json:"date"`
}

// AddMode says what adding an already known name means.
type AddMode int

const (
	// AddNew rejects a name that already exists.
	AddNew AddMode = iota
	// AddBuyIn adds to the existing player's buy-in.
	AddBuyIn
	// SetFinalBalance replaces the existing player's final balance.
	SetFinalBalance
)

func (m AddMode) String() string {
	switch m {
	case AddNew:
		return "new"
	case AddBuyIn:
		return "buyIn"
	case SetFinalBalance:
		return "finalBalance"
	default:
		return fmt.Sprintf("AddMode(%d)", int(m))
	}
}

// ParseAddMode accepts the names produced by AddMode.String; empty means AddNew.
func ParseAddMode(s string) (AddMode, error) {
	switch s {
	case "", "new":
		return AddNew, nil
	case "buyIn":
		return AddBuyIn, nil
	case "finalBalance":
		return SetFinalBalance, nil
	default:
		return AddNew, fmt.Errorf("%w: unknown mode %q", ErrValidation, s)
	}
}

var printer = message.NewPrinter(language.English)

// FormatAmount renders an amount with two decimals and grouped thousands.
func FormatAmount(v float64) string {
	return printer.Sprintf("%.2f", v)
}
