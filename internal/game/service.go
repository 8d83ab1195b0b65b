package game

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/susu3304/pokerdues/internal/settlement"
	"github.com/susu3304/pokerdues/internal/stats"
)

// Repository persists players and settlement transactions per game, plus the
// id of the game in progress. CurrentGameID returns uuid.Nil when none has
// been stored yet.
type Repository interface {
	LoadPlayers(ctx context.Context, gameID uuid.UUID) ([]Player, error)
	SavePlayers(ctx context.Context, gameID uuid.UUID, players []Player) error
	LoadTransactions(ctx context.Context, gameID uuid.UUID) ([]Transaction, error)
	SaveTransactions(ctx context.Context, gameID uuid.UUID, txs []Transaction) error
	CurrentGameID(ctx context.Context) (uuid.UUID, error)
	SetCurrentGameID(ctx context.Context, gameID uuid.UUID) error
}

// SettleResult holds the payments of one settle run. Original is only set
// when a host expense was applied; it is the settlement before the expense.
type SettleResult struct {
	Original []Transaction
	Final    []Transaction
}

// Service owns the game in progress: its players, the last settlement and
// the error slot read by the presentation layer. Calls are serialized.
type Service struct {
	mu    sync.Mutex
	repo  Repository
	stats *stats.Aggregator
	now   func() time.Time
	newID func() uuid.UUID

	gameID       uuid.UUID
	players      []Player
	transactions []Transaction
	original     []Transaction

	lastErr   error
	showError bool
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDGenerator(newID func() uuid.UUID) Option {
	return func(s *Service) { s.newID = newID }
}

// NewService restores the game in progress from repo, minting a new game id
// if none was stored.
func NewService(ctx context.Context, repo Repository, agg *stats.Aggregator, opts ...Option) (*Service, error) {
	s := &Service{
		repo:  repo,
		stats: agg,
		now:   time.Now,
		newID: uuid.New,
	}
	for _, opt := range opts {
		opt(s)
	}

	gameID, err := repo.CurrentGameID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load current game id: %w", err)
	}
	if gameID == uuid.Nil {
		gameID = s.newID()
		if err := repo.SetCurrentGameID(ctx, gameID); err != nil {
			return nil, fmt.Errorf("failed to store current game id: %w", err)
		}
		log.WithField("game_id", gameID).Info("game: started new game")
	}
	s.gameID = gameID

	players, err := repo.LoadPlayers(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load players: %w", err)
	}
	for k := range players {
		players[k].Net = players[k].FinalBalance - players[k].BuyIn
	}
	s.players = players

	txs, err := repo.LoadTransactions(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("failed to load transactions: %w", err)
	}
	s.transactions = txs

	return s, nil
}

func (s *Service) GameID() uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gameID
}

// Players returns the players in insertion order.
func (s *Service) Players() []Player {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clonePlayers(s.players)
}

func (s *Service) Player(id uuid.UUID) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := s.indexByID(id)
	if idx < 0 {
		return Player{}, ErrPlayerNotFound
	}
	return clonePlayers(s.players[idx : idx+1])[0], nil
}

// Transactions returns the payments of the last successful settle.
func (s *Service) Transactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transaction(nil), s.transactions...)
}

// OriginalTransactions returns the pre-expense payments of the last settle,
// or nil when no expense was applied.
func (s *Service) OriginalTransactions() []Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Transaction(nil), s.original...)
}

// GrandTotal sums every player's net.
func (s *Service) GrandTotal() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, p := range s.players {
		total += p.Net
	}
	return total
}

// LastError returns the message of the last failure and whether it should
// still be shown.
func (s *Service) LastError() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return UserMessage(s.lastErr), s.showError
}

func (s *Service) DismissError() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.showError = false
}

// AddPlayer adds a player, or with an explicit mode updates the player that
// already carries the name: AddBuyIn adds to the buy-in, SetFinalBalance
// replaces the final balance. Without a mode a known name is rejected.
func (s *Service) AddPlayer(ctx context.Context, name string, buyIn, finalBalance float64, mode AddMode) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, _, err := s.addPlayer(ctx, name, buyIn, finalBalance, mode)
	return p, err
}

// UpsertPlayer is AddPlayer that also reports whether a new player was created.
func (s *Service) UpsertPlayer(ctx context.Context, name string, buyIn, finalBalance float64, mode AddMode) (Player, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addPlayer(ctx, name, buyIn, finalBalance, mode)
}

func (s *Service) addPlayer(ctx context.Context, name string, buyIn, finalBalance float64, mode AddMode) (Player, bool, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Player{}, false, s.fail(fmt.Errorf("%w: name must not be empty", ErrValidation))
	}
	if err := checkBuyIn(buyIn); err != nil {
		return Player{}, false, s.fail(err)
	}
	if err := checkFinite("final balance", finalBalance); err != nil {
		return Player{}, false, s.fail(err)
	}

	idx := s.indexByName(trimmed, uuid.Nil)
	if idx >= 0 {
		if mode != AddBuyIn && mode != SetFinalBalance {
			return Player{}, false, s.fail(fmt.Errorf("%w: %q", ErrDuplicateName, trimmed))
		}
		next := clonePlayers(s.players)
		p := &next[idx]
		if mode == AddBuyIn {
			s.recordBuyIn(p, buyIn, "buy-in")
		} else {
			p.FinalBalance = finalBalance
		}
		p.Net = p.FinalBalance - p.BuyIn

		if err := s.commitPlayers(ctx, next); err != nil {
			return Player{}, false, err
		}
		log.WithFields(log.Fields{
			"game_id": s.gameID,
			"player":  p.Name,
			"mode":    mode.String(),
			"buy_in":  p.BuyIn,
			"final":   p.FinalBalance,
		}).Debug("game: updated player")
		return clonePlayers(next[idx : idx+1])[0], false, nil
	}

	p := Player{
		ID:           s.newID(),
		GameID:       s.gameID,
		Name:         trimmed,
		FinalBalance: finalBalance,
		BuyInHistory: []BuyIn{},
	}
	s.recordBuyIn(&p, buyIn, "initial buy-in")
	p.Net = p.FinalBalance - p.BuyIn

	if err := s.commitPlayers(ctx, append(clonePlayers(s.players), p)); err != nil {
		return Player{}, false, err
	}
	log.WithFields(log.Fields{
		"game_id": s.gameID,
		"player":  p.Name,
		"buy_in":  p.BuyIn,
		"final":   p.FinalBalance,
	}).Debug("game: added player")
	return clonePlayers([]Player{p})[0], true, nil
}

// ApplyAmount is the incremental entry used from a player's row: a positive
// amount is either added to the buy-in or set as the final balance.
func (s *Service) ApplyAmount(ctx context.Context, id uuid.UUID, amount float64, mode AddMode) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkFinite("amount", amount); err != nil {
		return Player{}, s.fail(err)
	}
	if amount <= 0 {
		return Player{}, s.fail(fmt.Errorf("%w: amount must be greater than zero", ErrValidation))
	}
	idx := s.indexByID(id)
	if idx < 0 {
		return Player{}, s.fail(ErrPlayerNotFound)
	}

	p := s.players[idx]
	var err error
	switch mode {
	case AddBuyIn:
		p, _, err = s.addPlayer(ctx, p.Name, amount, p.FinalBalance, AddBuyIn)
	case SetFinalBalance:
		p, _, err = s.addPlayer(ctx, p.Name, 0, amount, SetFinalBalance)
	default:
		return Player{}, s.fail(fmt.Errorf("%w: amount needs a buyIn or finalBalance mode", ErrValidation))
	}
	return p, err
}

// UpdatePlayer replaces a player's name, buy-in and final balance. A changed
// buy-in is recorded in the history as the difference.
func (s *Service) UpdatePlayer(ctx context.Context, id uuid.UUID, name string, buyIn, finalBalance float64) (Player, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return Player{}, s.fail(fmt.Errorf("%w: name must not be empty", ErrValidation))
	}
	if err := checkBuyIn(buyIn); err != nil {
		return Player{}, s.fail(err)
	}
	if err := checkFinite("final balance", finalBalance); err != nil {
		return Player{}, s.fail(err)
	}

	idx := s.indexByID(id)
	if idx < 0 {
		return Player{}, s.fail(ErrPlayerNotFound)
	}
	if s.indexByName(trimmed, id) >= 0 {
		return Player{}, s.fail(fmt.Errorf("%w: %q", ErrDuplicateName, trimmed))
	}

	next := clonePlayers(s.players)
	p := &next[idx]
	p.Name = trimmed
	s.recordBuyIn(p, buyIn-p.BuyIn, "edited")
	p.FinalBalance = finalBalance
	p.Net = p.FinalBalance - p.BuyIn

	if err := s.commitPlayers(ctx, next); err != nil {
		return Player{}, err
	}
	return clonePlayers(next[idx : idx+1])[0], nil
}

// RemovePlayer drops the player at index, keeping the order of the rest.
func (s *Service) RemovePlayer(ctx context.Context, index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeAt(ctx, index)
}

func (s *Service) RemovePlayerByID(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeAt(ctx, s.indexByID(id))
}

func (s *Service) removeAt(ctx context.Context, index int) error {
	if index < 0 || index >= len(s.players) {
		return s.fail(ErrPlayerNotFound)
	}
	removed := s.players[index]
	next := make([]Player, 0, len(s.players)-1)
	next = append(next, s.players[:index]...)
	next = append(next, s.players[index+1:]...)

	if err := s.commitPlayers(ctx, next); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"game_id": s.gameID,
		"player":  removed.Name,
	}).Debug("game: removed player")
	return nil
}

// Settle computes the payments for the current players. With a host and a
// positive expense it settles twice: once on the raw nets (Original) and once
// after sharing the expense (Final). On success one stats record per player is
// written with the raw net, replacing any earlier records of this game.
// A failed settle leaves the last published transactions and stats in place,
// both in memory and in storage.
func (s *Service) Settle(ctx context.Context, hostID uuid.UUID, expense float64) (*SettleResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastErr = nil
	s.showError = false

	if err := checkFinite("expense", expense); err != nil {
		return nil, s.fail(err)
	}
	if expense < 0 {
		return nil, s.fail(settlement.ErrNegativeExpense)
	}

	valid := make([]Player, 0, len(s.players))
	for _, p := range s.players {
		if strings.TrimSpace(p.Name) != "" {
			valid = append(valid, p)
		}
	}
	if len(valid) == 0 {
		return nil, s.fail(ErrEmptyInput)
	}

	balances := make([]settlement.Balance, len(valid))
	for k, p := range valid {
		balances[k] = settlement.Balance{ID: p.ID.String(), Name: p.Name, Net: p.Net}
	}

	payments, err := settlement.Settle(balances)
	if err != nil {
		log.WithFields(log.Fields{
			"game_id": s.gameID,
			"players": len(valid),
		}).WithError(err).Warn("game: settle rejected")
		return nil, s.fail(err)
	}

	var original []settlement.Payment
	if hostID != uuid.Nil && expense > 0 {
		adjusted, err := settlement.AdjustForExpense(balances, hostID.String(), expense)
		if err != nil {
			log.WithFields(log.Fields{
				"game_id": s.gameID,
				"host_id": hostID,
				"expense": expense,
			}).WithError(err).Warn("game: host expense rejected")
			return nil, s.fail(err)
		}
		final, err := settlement.Settle(adjusted)
		if err != nil {
			return nil, s.fail(err)
		}
		original, payments = payments, final
	}

	now := s.now()
	result := &SettleResult{Final: s.stamp(payments, now)}
	if original != nil {
		result.Original = s.stamp(original, now)
	}

	records := make([]stats.Record, len(valid))
	for k, p := range valid {
		records[k] = stats.Record{
			ID:         s.newID(),
			GameID:     s.gameID,
			Date:       now,
			PlayerName: p.Name,
			NetAmount:  p.Net,
		}
	}

	if err := s.repo.SaveTransactions(ctx, s.gameID, result.Final); err != nil {
		return nil, s.fail(fmt.Errorf("failed to save transactions: %w", err))
	}
	if err := s.stats.ReplaceGame(ctx, s.gameID, records); err != nil {
		// put back what the last successful settle stored
		if rerr := s.repo.SaveTransactions(ctx, s.gameID, s.transactions); rerr != nil {
			log.WithField("game_id", s.gameID).WithError(rerr).Error("game: failed to restore transactions")
		}
		return nil, s.fail(err)
	}
	s.transactions = result.Final
	s.original = result.Original

	log.WithFields(log.Fields{
		"game_id":      s.gameID,
		"players":      len(valid),
		"transactions": len(result.Final),
		"expense":      expense,
	}).Info("game: settled")

	return result, nil
}

func (s *Service) stamp(payments []settlement.Payment, at time.Time) []Transaction {
	txs := make([]Transaction, len(payments))
	for k, p := range payments {
		txs[k] = Transaction{
			ID:      s.newID(),
			GameID:  s.gameID,
			PayFrom: p.From,
			PayTo:   p.To,
			Amount:  p.Amount,
			Date:    at,
		}
	}
	return txs
}

// ClearGame starts a new game. The previous game stays stored under its own id.
func (s *Service) ClearGame(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.gameID
	gameID := s.newID()

	// the current id is written last so a failure leaves the old game current
	if err := s.repo.SavePlayers(ctx, gameID, nil); err != nil {
		log.WithField("game_id", gameID).WithError(err).Error("game: failed to save players")
		return s.fail(fmt.Errorf("failed to save players: %w", err))
	}
	if err := s.repo.SaveTransactions(ctx, gameID, nil); err != nil {
		return s.fail(fmt.Errorf("failed to save transactions: %w", err))
	}
	if err := s.repo.SetCurrentGameID(ctx, gameID); err != nil {
		return s.fail(fmt.Errorf("failed to store current game id: %w", err))
	}
	s.gameID = gameID
	s.players = nil
	s.transactions = nil
	s.original = nil

	log.WithFields(log.Fields{
		"previous_game_id": previous,
		"game_id":          s.gameID,
	}).Info("game: cleared")
	return nil
}

func (s *Service) ClearStats(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stats.Clear(ctx); err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Service) YearTotals() []stats.Total {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.YearTotals()
}

func (s *Service) StatSummaries() ([]stats.Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Summaries()
}

func (s *Service) StatRecords() []stats.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.Records()
}

// BuyInHistory returns the player's buy-ins, newest first.
func (s *Service) BuyInHistory(id uuid.UUID) ([]BuyIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexByID(id)
	if idx < 0 {
		return nil, ErrPlayerNotFound
	}
	history := append([]BuyIn(nil), s.players[idx].BuyInHistory...)
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.After(history[j].Date)
	})
	return history, nil
}

// SettlementsFor lists the current settlement from one player's side.
func (s *Service) SettlementsFor(name string) []PlayerTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []PlayerTransaction
	for _, t := range s.transactions {
		switch {
		case strings.EqualFold(t.PayFrom, name):
			out = append(out, PlayerTransaction{
				TransactionID:   t.ID,
				CounterpartName: t.PayTo,
				Amount:          t.Amount,
				Role:            RolePaid,
				Date:            t.Date,
			})
		case strings.EqualFold(t.PayTo, name):
			out = append(out, PlayerTransaction{
				TransactionID:   t.ID,
				CounterpartName: t.PayFrom,
				Amount:          t.Amount,
				Role:            RoleReceived,
				Date:            t.Date,
			})
		}
	}
	return out
}

// recordBuyIn is the only place a buy-in changes.
func (s *Service) recordBuyIn(p *Player, amount float64, note string) {
	if amount == 0 {
		return
	}
	p.BuyIn += amount
	p.BuyInHistory = append(p.BuyInHistory, BuyIn{
		ID:     s.newID(),
		Amount: amount,
		Date:   s.now(),
		Note:   note,
	})
}

func (s *Service) indexByID(id uuid.UUID) int {
	for k, p := range s.players {
		if p.ID == id {
			return k
		}
	}
	return -1
}

// indexByName finds a player by case-insensitive name, ignoring except.
func (s *Service) indexByName(name string, except uuid.UUID) int {
	for k, p := range s.players {
		if p.ID != except && strings.EqualFold(p.Name, name) {
			return k
		}
	}
	return -1
}

// commitPlayers stores next and only then makes it the current ledger.
func (s *Service) commitPlayers(ctx context.Context, next []Player) error {
	if err := s.repo.SavePlayers(ctx, s.gameID, next); err != nil {
		log.WithField("game_id", s.gameID).WithError(err).Error("game: failed to save players")
		return s.fail(fmt.Errorf("failed to save players: %w", err))
	}
	s.players = next
	return nil
}

func (s *Service) fail(err error) error {
	s.lastErr = err
	s.showError = true
	return err
}

func clonePlayers(players []Player) []Player {
	out := make([]Player, len(players))
	for k, p := range players {
		p.BuyInHistory = append([]BuyIn{}, p.BuyInHistory...)
		out[k] = p
	}
	return out
}

// IsUserError reports whether err is a rejected request rather than a
// storage or internal failure.
func IsUserError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateName) ||
		errors.Is(err, ErrEmptyInput) ||
		errors.Is(err, ErrPlayerNotFound) ||
		errors.Is(err, settlement.ErrImbalancedTotal) ||
		errors.Is(err, settlement.ErrNoPositiveNetPlayers) ||
		errors.Is(err, settlement.ErrNonPositiveExpenseTotal) ||
		errors.Is(err, settlement.ErrNegativeExpense) ||
		errors.Is(err, settlement.ErrHostNotFound)
}
