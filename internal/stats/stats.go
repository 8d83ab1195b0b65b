// Package stats keeps the cross-game log of player results and the yearly
// standings built from it.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Record is one player's net for one settled game.
type Record struct {
	ID         uuid.UUID `json:"id"`
	GameID     uuid.UUID `json:"gameId"`
	Date       time.Time `json:"date"`
	PlayerName string    `json:"playerName"`
	NetAmount  float64   `json:"netAmount"`
}

// Store persists the stats log and the year marker used for rollover.
// LastStatsYear returns 0 when no marker has been written yet.
type Store interface {
	LoadStats(ctx context.Context) ([]Record, error)
	SaveStats(ctx context.Context, records []Record) error
	LastStatsYear(ctx context.Context) (int, error)
	SetLastStatsYear(ctx context.Context, year int) error
}

type Aggregator struct {
	store   Store
	now     func() time.Time
	records []Record
}

type Option func(*Aggregator)

func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator loads the stats log and performs the yearly rollover once.
func NewAggregator(ctx context.Context, store Store, opts ...Option) (*Aggregator, error) {
	a := &Aggregator{store: store, now: time.Now}
	for _, opt := range opts {
		opt(a)
	}

	records, err := store.LoadStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stats: %w", err)
	}
	a.records = records

	if err := a.rollover(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// rollover drops records from earlier years once the calendar year has
// advanced past the stored marker. On the very first run it only writes
// the marker.
func (a *Aggregator) rollover(ctx context.Context) error {
	now := a.now()
	current := now.Year()

	last, err := a.store.LastStatsYear(ctx)
	if err != nil {
		return fmt.Errorf("failed to load last stats year: %w", err)
	}

	if last == 0 {
		return a.store.SetLastStatsYear(ctx, current)
	}
	if current <= last {
		return nil
	}

	kept := make([]Record, 0, len(a.records))
	for _, r := range a.records {
		if r.Date.In(now.Location()).Year() == current {
			kept = append(kept, r)
		}
	}
	log.WithFields(log.Fields{
		"from_year": last,
		"to_year":   current,
		"dropped":   len(a.records) - len(kept),
	}).Info("stats: yearly rollover")

	if err := a.store.SaveStats(ctx, kept); err != nil {
		return fmt.Errorf("failed to save stats after rollover: %w", err)
	}
	a.records = kept
	return a.store.SetLastStatsYear(ctx, current)
}

// Records returns a copy of the full log.
func (a *Aggregator) Records() []Record {
	out := make([]Record, len(a.records))
	copy(out, a.records)
	return out
}

// ReplaceGame purges every record of gameID and appends records in their
// place, so settling the same game again does not double count.
func (a *Aggregator) ReplaceGame(ctx context.Context, gameID uuid.UUID, records []Record) error {
	next := make([]Record, 0, len(a.records)+len(records))
	for _, r := range a.records {
		if r.GameID != gameID {
			next = append(next, r)
		}
	}
	next = append(next, records...)

	if err := a.store.SaveStats(ctx, next); err != nil {
		return fmt.Errorf("failed to save stats: %w", err)
	}
	a.records = next
	return nil
}

// Clear empties the log.
func (a *Aggregator) Clear(ctx context.Context) error {
	if err := a.store.SaveStats(ctx, []Record{}); err != nil {
		return fmt.Errorf("failed to clear stats: %w", err)
	}
	a.records = nil
	return nil
}

// Now is the aggregator's clock, shared with callers that date new records.
func (a *Aggregator) Now() time.Time {
	return a.now()
}
