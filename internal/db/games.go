package db

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/susu3304/pokerdues/internal/game"
	"github.com/susu3304/pokerdues/internal/stats"
)

const (
	stateCurrentGameID = "current-session-id"
	stateLastStatsYear = "last-stats-year"
)

// LoadPlayers returns the game's players in insertion order with their
// buy-in history.
func (db *DB) LoadPlayers(ctx context.Context, gameID uuid.UUID) ([]game.Player, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, game_id, name, buy_in, final_balance
		 FROM players
		 WHERE game_id = $1
		 ORDER BY position`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	players := []game.Player{}
	index := make(map[uuid.UUID]int)
	for rows.Next() {
		var p game.Player
		if err := rows.Scan(&p.ID, &p.GameID, &p.Name, &p.BuyIn, &p.FinalBalance); err != nil {
			return nil, err
		}
		p.Net = p.FinalBalance - p.BuyIn
		p.BuyInHistory = []game.BuyIn{}
		index[p.ID] = len(players)
		players = append(players, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	hrows, err := db.pool.Query(ctx,
		`SELECT id, player_id, amount, date, note
		 FROM buy_ins
		 WHERE game_id = $1
		 ORDER BY player_id, position`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer hrows.Close()

	for hrows.Next() {
		var b game.BuyIn
		var playerID uuid.UUID
		if err := hrows.Scan(&b.ID, &playerID, &b.Amount, &b.Date, &b.Note); err != nil {
			return nil, err
		}
		if k, ok := index[playerID]; ok {
			players[k].BuyInHistory = append(players[k].BuyInHistory, b)
		}
	}
	return players, hrows.Err()
}

// SavePlayers replaces the game's players and their history in one transaction.
func (db *DB) SavePlayers(ctx context.Context, gameID uuid.UUID, players []game.Player) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM buy_ins WHERE game_id = $1`, gameID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM players WHERE game_id = $1`, gameID); err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for k, p := range players {
		batch.Queue(
			`INSERT INTO players (id, game_id, position, name, buy_in, final_balance)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			p.ID, gameID, k, p.Name, p.BuyIn, p.FinalBalance,
		)
		for h, b := range p.BuyInHistory {
			batch.Queue(
				`INSERT INTO buy_ins (id, game_id, player_id, position, amount, date, note)
				 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				b.ID, gameID, p.ID, h, b.Amount, b.Date, b.Note,
			)
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to insert players: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (db *DB) LoadTransactions(ctx context.Context, gameID uuid.UUID) ([]game.Transaction, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, game_id, pay_from, pay_to, amount, date
		 FROM transactions
		 WHERE game_id = $1
		 ORDER BY position`,
		gameID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := []game.Transaction{}
	for rows.Next() {
		var t game.Transaction
		if err := rows.Scan(&t.ID, &t.GameID, &t.PayFrom, &t.PayTo, &t.Amount, &t.Date); err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// SaveTransactions replaces the game's settlement transactions.
func (db *DB) SaveTransactions(ctx context.Context, gameID uuid.UUID, txs []game.Transaction) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM transactions WHERE game_id = $1`, gameID); err != nil {
		return err
	}
	for k, t := range txs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO transactions (id, game_id, position, pay_from, pay_to, amount, date)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, gameID, k, t.PayFrom, t.PayTo, t.Amount, t.Date,
		); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (db *DB) CurrentGameID(ctx context.Context) (uuid.UUID, error) {
	value, ok, err := db.state(ctx, stateCurrentGameID)
	if err != nil || !ok {
		return uuid.Nil, err
	}
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to decode %s: %w", stateCurrentGameID, err)
	}
	return id, nil
}

func (db *DB) SetCurrentGameID(ctx context.Context, gameID uuid.UUID) error {
	return db.setState(ctx, stateCurrentGameID, gameID.String())
}

func (db *DB) LoadStats(ctx context.Context) ([]stats.Record, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT id, game_id, date, player_name, net_amount
		 FROM stats
		 ORDER BY position`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []stats.Record{}
	for rows.Next() {
		var r stats.Record
		if err := rows.Scan(&r.ID, &r.GameID, &r.Date, &r.PlayerName, &r.NetAmount); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// SaveStats replaces the whole stats table.
func (db *DB) SaveStats(ctx context.Context, records []stats.Record) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM stats`); err != nil {
		return err
	}
	if len(records) > 0 {
		rows := make([][]any, len(records))
		for k, r := range records {
			rows[k] = []any{pgUUID(r.ID), pgUUID(r.GameID), k, r.Date, r.PlayerName, r.NetAmount}
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"stats"},
			[]string{"id", "game_id", "position", "date", "player_name", "net_amount"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("failed to copy stats: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func (db *DB) LastStatsYear(ctx context.Context) (int, error) {
	value, ok, err := db.state(ctx, stateLastStatsYear)
	if err != nil || !ok {
		return 0, err
	}
	year, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("failed to decode %s: %w", stateLastStatsYear, err)
	}
	return year, nil
}

func (db *DB) SetLastStatsYear(ctx context.Context, year int) error {
	return db.setState(ctx, stateLastStatsYear, strconv.Itoa(year))
}

func (db *DB) state(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := db.pool.QueryRow(ctx, `SELECT value FROM app_state WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (db *DB) setState(ctx context.Context, key, value string) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO app_state (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		key, value,
	)
	return err
}

// pgUUID wraps id for CopyFrom, which always encodes in binary.
func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}
