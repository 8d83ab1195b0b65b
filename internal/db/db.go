package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// RunMigrations creates the tables used by the game repository.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS players (
			id UUID PRIMARY KEY,
			game_id UUID NOT NULL,
			position INT NOT NULL,
			name TEXT NOT NULL,
			buy_in DOUBLE PRECISION NOT NULL DEFAULT 0,
			final_balance DOUBLE PRECISION NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_players_game_id ON players(game_id);

		CREATE TABLE IF NOT EXISTS buy_ins (
			id UUID PRIMARY KEY,
			game_id UUID NOT NULL,
			player_id UUID NOT NULL,
			position INT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			note TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_buy_ins_game_id ON buy_ins(game_id);

		CREATE TABLE IF NOT EXISTS transactions (
			id UUID PRIMARY KEY,
			game_id UUID NOT NULL,
			position INT NOT NULL,
			pay_from TEXT NOT NULL,
			pay_to TEXT NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			date TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_transactions_game_id ON transactions(game_id);

		CREATE TABLE IF NOT EXISTS stats (
			id UUID PRIMARY KEY,
			game_id UUID NOT NULL,
			position INT NOT NULL,
			date TIMESTAMPTZ NOT NULL,
			player_name TEXT NOT NULL,
			net_amount DOUBLE PRECISION NOT NULL
		);

		CREATE TABLE IF NOT EXISTS app_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);
	`)
	return err
}
