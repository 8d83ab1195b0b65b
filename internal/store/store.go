package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/susu3304/pokerdues/internal/game"
	"github.com/susu3304/pokerdues/internal/stats"
)

const (
	SlotParticipants  = "participants"
	SlotTransactions  = "transactions"
	SlotStats         = "stats"
	SlotCurrentGameID = "current-session-id"
	SlotLastStatsYear = "last-stats-year"
)

// Store implements game.Repository and stats.Store over a KV.
//
// Saving a game's players or transactions reads the whole slot, drops the
// records of that game, appends the new ones and writes the slot back. Two
// writers doing this at the same time can lose each other's update.
type Store struct {
	kv     KV
	prefix string
}

func New(kv KV, prefix string) *Store {
	return &Store{kv: kv, prefix: prefix}
}

func (s *Store) key(slot string) string {
	return s.prefix + slot
}

func (s *Store) LoadPlayers(ctx context.Context, gameID uuid.UUID) ([]game.Player, error) {
	all, err := loadSlot[game.Player](ctx, s, SlotParticipants)
	if err != nil {
		return nil, err
	}
	return filterGame(all, gameID, func(p game.Player) uuid.UUID { return p.GameID }), nil
}

func (s *Store) SavePlayers(ctx context.Context, gameID uuid.UUID, players []game.Player) error {
	return replaceGame(ctx, s, SlotParticipants, gameID, players, func(p game.Player) uuid.UUID { return p.GameID })
}

func (s *Store) LoadTransactions(ctx context.Context, gameID uuid.UUID) ([]game.Transaction, error) {
	all, err := loadSlot[game.Transaction](ctx, s, SlotTransactions)
	if err != nil {
		return nil, err
	}
	return filterGame(all, gameID, func(t game.Transaction) uuid.UUID { return t.GameID }), nil
}

func (s *Store) SaveTransactions(ctx context.Context, gameID uuid.UUID, txs []game.Transaction) error {
	return replaceGame(ctx, s, SlotTransactions, gameID, txs, func(t game.Transaction) uuid.UUID { return t.GameID })
}

func (s *Store) CurrentGameID(ctx context.Context) (uuid.UUID, error) {
	raw, err := s.kv.Get(ctx, s.key(SlotCurrentGameID))
	if errors.Is(err, ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	if err := json.Unmarshal(raw, &id); err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode %s: %w", SlotCurrentGameID, err)
	}
	return id, nil
}

func (s *Store) SetCurrentGameID(ctx context.Context, gameID uuid.UUID) error {
	raw, err := json.Marshal(gameID)
	if err != nil {
		return err
	}
	return s.kv.Set(ctx, s.key(SlotCurrentGameID), raw)
}

func (s *Store) LoadStats(ctx context.Context) ([]stats.Record, error) {
	return loadSlot[stats.Record](ctx, s, SlotStats)
}

func (s *Store) SaveStats(ctx context.Context, records []stats.Record) error {
	return saveSlot(ctx, s, SlotStats, records)
}

func (s *Store) LastStatsYear(ctx context.Context) (int, error) {
	raw, err := s.kv.Get(ctx, s.key(SlotLastStatsYear))
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	year, err := strconv.Atoi(string(raw))
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", SlotLastStatsYear, err)
	}
	return year, nil
}

func (s *Store) SetLastStatsYear(ctx context.Context, year int) error {
	return s.kv.Set(ctx, s.key(SlotLastStatsYear), []byte(strconv.Itoa(year)))
}

func loadSlot[T any](ctx context.Context, s *Store, slot string) ([]T, error) {
	raw, err := s.kv.Get(ctx, s.key(slot))
	if errors.Is(err, ErrNotFound) {
		return []T{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", slot, err)
	}
	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", slot, err)
	}
	if items == nil {
		items = []T{}
	}
	return items, nil
}

func saveSlot[T any](ctx context.Context, s *Store, slot string, items []T) error {
	if items == nil {
		items = []T{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", slot, err)
	}
	if err := s.kv.Set(ctx, s.key(slot), raw); err != nil {
		return fmt.Errorf("failed to write %s: %w", slot, err)
	}
	return nil
}

func replaceGame[T any](ctx context.Context, s *Store, slot string, gameID uuid.UUID, items []T, gameOf func(T) uuid.UUID) error {
	all, err := loadSlot[T](ctx, s, slot)
	if err != nil {
		return err
	}
	next := make([]T, 0, len(all)+len(items))
	for _, item := range all {
		if gameOf(item) != gameID {
			next = append(next, item)
		}
	}
	next = append(next, items...)
	return saveSlot(ctx, s, slot, next)
}

func filterGame[T any](items []T, gameID uuid.UUID, gameOf func(T) uuid.UUID) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if gameOf(item) == gameID {
			out = append(out, item)
		}
	}
	return out
}
