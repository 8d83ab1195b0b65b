package game_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/susu3304/pokerdues/internal/game"
	"github.com/susu3304/pokerdues/internal/settlement"
	"github.com/susu3304/pokerdues/internal/stats"
	"github.com/susu3304/pokerdues/internal/store"
)

var testNow = time.Date(2026, 10, 16, 22, 0, 0, 0, time.UTC)

type fixture struct {
	svc   *game.Service
	store *store.Store
	clock *time.Time
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	return newFixtureWithStore(t, store.New(store.NewMemoryKV(), ""))
}

func newFixtureWithStore(t *testing.T, st *store.Store) fixture {
	t.Helper()
	ctx := context.Background()
	now := testNow
	clock := func() time.Time { return now }

	agg, err := stats.NewAggregator(ctx, st, stats.WithClock(clock))
	require.NoError(t, err)
	svc, err := game.NewService(ctx, st, agg, game.WithClock(clock))
	require.NoError(t, err)
	return fixture{svc: svc, store: st, clock: &now}
}

func (f fixture) add(t *testing.T, name string, buyIn, final float64) game.Player {
	t.Helper()
	p, err := f.svc.AddPlayer(context.Background(), name, buyIn, final, game.AddNew)
	require.NoError(t, err)
	return p
}

func TestAddPlayer(t *testing.T) {
	ctx := context.Background()

	t.Run("new player gets a trimmed name, net and initial history", func(t *testing.T) {
		f := newFixture(t)
		p := f.add(t, "  Alice ", 50, 80)

		assert.Equal(t, "Alice", p.Name)
		assert.Equal(t, 30.0, p.Net)
		assert.Equal(t, f.svc.GameID(), p.GameID)
		require.Len(t, p.BuyInHistory, 1)
		assert.Equal(t, 50.0, p.BuyInHistory[0].Amount)
		assert.Equal(t, testNow, p.BuyInHistory[0].Date)
	})

	t.Run("no buy-in means no history entry", func(t *testing.T) {
		f := newFixture(t)
		p := f.add(t, "Bo", 0, 10)
		assert.Empty(t, p.BuyInHistory)
	})

	t.Run("duplicate name is rejected case-insensitively", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, "Alice", 10, 0)

		_, err := f.svc.AddPlayer(ctx, "alice", 10, 0, game.AddNew)
		assert.ErrorIs(t, err, game.ErrDuplicateName)
		assert.Len(t, f.svc.Players(), 1)

		msg, show := f.svc.LastError()
		assert.True(t, show)
		assert.Equal(t, "Player names must be unique.", msg)

		f.svc.DismissError()
		_, show = f.svc.LastError()
		assert.False(t, show)
	})

	t.Run("buy-in mode accumulates and records history", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, "Alice", 20, 0)

		p, err := f.svc.AddPlayer(ctx, "ALICE", 30, 999, game.AddBuyIn)
		require.NoError(t, err)
		assert.Equal(t, 50.0, p.BuyIn)
		assert.Equal(t, 0.0, p.FinalBalance)
		assert.Equal(t, -50.0, p.Net)
		require.Len(t, p.BuyInHistory, 2)
		assert.Equal(t, 30.0, p.BuyInHistory[1].Amount)
		assert.Len(t, f.svc.Players(), 1)
	})

	t.Run("final balance mode replaces", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, "Alice", 20, 5)

		_, err := f.svc.AddPlayer(ctx, "alice", 0, 40, game.SetFinalBalance)
		require.NoError(t, err)
		p, err := f.svc.AddPlayer(ctx, "alice", 0, 35, game.SetFinalBalance)
		require.NoError(t, err)

		assert.Equal(t, 35.0, p.FinalBalance)
		assert.Equal(t, 20.0, p.BuyIn)
		assert.Equal(t, 15.0, p.Net)
		assert.Len(t, p.BuyInHistory, 1)
	})

	t.Run("upsert reports whether the player is new", func(t *testing.T) {
		f := newFixture(t)

		p, created, err := f.svc.UpsertPlayer(ctx, "Alice", 10, 0, game.AddBuyIn)
		require.NoError(t, err)
		assert.True(t, created)
		assert.Equal(t, 10.0, p.BuyIn)

		p, created, err = f.svc.UpsertPlayer(ctx, "alice", 5, 0, game.AddBuyIn)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, 15.0, p.BuyIn)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.AddPlayer(ctx, "   ", 10, 0, game.AddNew)
		assert.ErrorIs(t, err, game.ErrValidation)

		_, err = f.svc.AddPlayer(ctx, "Bo", -1, 0, game.AddNew)
		assert.ErrorIs(t, err, game.ErrValidation)

		assert.Empty(t, f.svc.Players())
	})
}

func TestApplyAmount(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.add(t, "Alice", 20, 0)

	updated, err := f.svc.ApplyAmount(ctx, p.ID, 15, game.AddBuyIn)
	require.NoError(t, err)
	assert.Equal(t, 35.0, updated.BuyIn)
	assert.Len(t, updated.BuyInHistory, 2)

	updated, err = f.svc.ApplyAmount(ctx, p.ID, 60, game.SetFinalBalance)
	require.NoError(t, err)
	assert.Equal(t, 60.0, updated.FinalBalance)
	assert.Equal(t, 25.0, updated.Net)

	_, err = f.svc.ApplyAmount(ctx, p.ID, 0, game.AddBuyIn)
	assert.ErrorIs(t, err, game.ErrValidation)

	_, err = f.svc.ApplyAmount(ctx, p.ID, 5, game.AddNew)
	assert.ErrorIs(t, err, game.ErrValidation)

	_, err = f.svc.ApplyAmount(ctx, uuid.New(), 5, game.AddBuyIn)
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)
}

func TestUpdatePlayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	alice := f.add(t, "Alice", 50, 0)
	f.add(t, "Bo", 50, 0)

	p, err := f.svc.UpdatePlayer(ctx, alice.ID, "Alicia", 40, 70)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", p.Name)
	assert.Equal(t, 40.0, p.BuyIn)
	assert.Equal(t, 30.0, p.Net)
	require.Len(t, p.BuyInHistory, 2)
	assert.Equal(t, -10.0, p.BuyInHistory[1].Amount)

	var sum float64
	for _, b := range p.BuyInHistory {
		sum += b.Amount
	}
	assert.Equal(t, p.BuyIn, sum)

	// keeping its own name in another case is fine
	_, err = f.svc.UpdatePlayer(ctx, alice.ID, "ALICIA", 40, 70)
	require.NoError(t, err)

	_, err = f.svc.UpdatePlayer(ctx, alice.ID, "bo", 40, 70)
	assert.ErrorIs(t, err, game.ErrDuplicateName)

	_, err = f.svc.UpdatePlayer(ctx, alice.ID, "", 40, 70)
	assert.ErrorIs(t, err, game.ErrValidation)

	_, err = f.svc.UpdatePlayer(ctx, uuid.New(), "Zed", 0, 0)
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)
}

func TestRemovePlayer(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "A", 0, 0)
	b := f.add(t, "B", 0, 0)
	f.add(t, "C", 0, 0)

	require.NoError(t, f.svc.RemovePlayer(ctx, 0))
	assert.Equal(t, []string{"B", "C"}, names(f.svc.Players()))

	require.NoError(t, f.svc.RemovePlayerByID(ctx, b.ID))
	assert.Equal(t, []string{"C"}, names(f.svc.Players()))

	assert.ErrorIs(t, f.svc.RemovePlayer(ctx, 5), game.ErrPlayerNotFound)
	assert.ErrorIs(t, f.svc.RemovePlayerByID(ctx, uuid.New()), game.ErrPlayerNotFound)
}

func TestSettle(t *testing.T) {
	ctx := context.Background()

	t.Run("empty game", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Settle(ctx, uuid.Nil, 0)
		assert.ErrorIs(t, err, game.ErrEmptyInput)

		msg, show := f.svc.LastError()
		assert.True(t, show)
		assert.Equal(t, "Please add at least one player", msg)
	})

	t.Run("imbalanced", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, "A", 10, 0)
		f.add(t, "B", 0, 11.5)

		_, err := f.svc.Settle(ctx, uuid.Nil, 0)
		assert.ErrorIs(t, err, settlement.ErrImbalancedTotal)
		msg, _ := f.svc.LastError()
		assert.Equal(t, "ERROR: Grand Total must be zero, check your data: 1.50", msg)
		assert.Empty(t, f.svc.Transactions())
		assert.Empty(t, f.svc.StatRecords())
	})

	t.Run("without expense", func(t *testing.T) {
		f := newFixture(t)
		f.add(t, "A", 30, 0)
		f.add(t, "B", 10, 20)
		f.add(t, "C", 20, 40)

		res, err := f.svc.Settle(ctx, uuid.Nil, 0)
		require.NoError(t, err)
		assert.Nil(t, res.Original)
		require.Len(t, res.Final, 2)
		assert.Equal(t, "A to B : 10.00", res.Final[0].String())
		assert.Equal(t, "A to C : 20.00", res.Final[1].String())
		assert.Equal(t, testNow, res.Final[0].Date)
		assert.Equal(t, f.svc.GameID(), res.Final[0].GameID)
		assert.Equal(t, res.Final, f.svc.Transactions())
		assert.Empty(t, f.svc.OriginalTransactions())

		stored, err := f.store.LoadTransactions(ctx, f.svc.GameID())
		require.NoError(t, err)
		assert.Len(t, stored, 2)

		records := f.svc.StatRecords()
		require.Len(t, records, 3)
		assert.Equal(t, "A", records[0].PlayerName)
		assert.Equal(t, -30.0, records[0].NetAmount)
	})

	t.Run("with host expense", func(t *testing.T) {
		f := newFixture(t)
		host := f.add(t, "H", 100, 0)
		f.add(t, "B", 10, 50)
		f.add(t, "C", 20, 80)

		res, err := f.svc.Settle(ctx, host.ID, 100)
		require.NoError(t, err)

		require.Len(t, res.Original, 2)
		assert.Equal(t, "B", res.Original[0].PayTo)
		assert.Equal(t, 40.0, res.Original[0].Amount)
		assert.Equal(t, "C", res.Original[1].PayTo)
		assert.Equal(t, 60.0, res.Original[1].Amount)

		// after the expense everyone's net is zero, so nobody pays
		for _, tx := range res.Final {
			assert.InDelta(t, 0, tx.Amount, 1e-9)
		}
		assert.Equal(t, res.Original, f.svc.OriginalTransactions())

		// stats keep the nets from before the expense
		byName := map[string]float64{}
		for _, r := range f.svc.StatRecords() {
			byName[r.PlayerName] = r.NetAmount
		}
		assert.Equal(t, map[string]float64{"H": -100, "B": 40, "C": 60}, byName)
	})

	t.Run("expense with no gainers", func(t *testing.T) {
		f := newFixture(t)
		host := f.add(t, "H", 10, 10)
		f.add(t, "B", 5, 5)

		_, err := f.svc.Settle(ctx, host.ID, 20)
		assert.ErrorIs(t, err, settlement.ErrNoPositiveNetPlayers)
	})

	t.Run("negative expense", func(t *testing.T) {
		f := newFixture(t)
		host := f.add(t, "H", 10, 10)
		_, err := f.svc.Settle(ctx, host.ID, -5)
		assert.ErrorIs(t, err, settlement.ErrNegativeExpense)
	})

	t.Run("settling twice replaces stats for the game", func(t *testing.T) {
		f := newFixture(t)
		a := f.add(t, "A", 30, 0)
		f.add(t, "B", 0, 30)

		_, err := f.svc.Settle(ctx, uuid.Nil, 0)
		require.NoError(t, err)

		_, err = f.svc.UpdatePlayer(ctx, a.ID, "A", 40, 0)
		require.NoError(t, err)
		_, err = f.svc.AddPlayer(ctx, "B", 0, 40, game.SetFinalBalance)
		require.NoError(t, err)

		_, err = f.svc.Settle(ctx, uuid.Nil, 0)
		require.NoError(t, err)

		records := f.svc.StatRecords()
		require.Len(t, records, 2)
		assert.Equal(t, []stats.Total{
			{PlayerName: "B", TotalNet: 40},
			{PlayerName: "A", TotalNet: -40},
		}, f.svc.YearTotals())
	})
}

func TestSettlementsFor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.add(t, "A", 30, 0)
	f.add(t, "B", 10, 20)
	f.add(t, "C", 20, 40)

	_, err := f.svc.Settle(ctx, uuid.Nil, 0)
	require.NoError(t, err)

	a := f.svc.SettlementsFor("a")
	require.Len(t, a, 2)
	assert.Equal(t, game.RolePaid, a[0].Role)
	assert.Equal(t, "B", a[0].CounterpartName)

	c := f.svc.SettlementsFor("C")
	require.Len(t, c, 1)
	assert.Equal(t, game.RoleReceived, c[0].Role)
	assert.Equal(t, "A", c[0].CounterpartName)
	assert.Equal(t, 20.0, c[0].Amount)
}

func TestBuyInHistoryNewestFirst(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	p := f.add(t, "A", 10, 0)

	*f.clock = testNow.Add(time.Hour)
	_, err := f.svc.ApplyAmount(ctx, p.ID, 20, game.AddBuyIn)
	require.NoError(t, err)

	history, err := f.svc.BuyInHistory(p.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 20.0, history[0].Amount)
	assert.Equal(t, 10.0, history[1].Amount)

	_, err = f.svc.BuyInHistory(uuid.New())
	assert.ErrorIs(t, err, game.ErrPlayerNotFound)
}

func TestClearGame(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV(), "")
	f := newFixtureWithStore(t, st)
	f.add(t, "A", 10, 0)
	f.add(t, "B", 0, 10)
	_, err := f.svc.Settle(ctx, uuid.Nil, 0)
	require.NoError(t, err)

	previous := f.svc.GameID()
	require.NoError(t, f.svc.ClearGame(ctx))

	assert.NotEqual(t, previous, f.svc.GameID())
	assert.Empty(t, f.svc.Players())
	assert.Empty(t, f.svc.Transactions())
	assert.Zero(t, f.svc.GrandTotal())

	old, err := st.LoadPlayers(ctx, previous)
	require.NoError(t, err)
	assert.Len(t, old, 2)

	// stats survive a new game and only go on ClearStats
	assert.Len(t, f.svc.StatRecords(), 2)
	require.NoError(t, f.svc.ClearStats(ctx))
	assert.Empty(t, f.svc.StatRecords())

	// a restarted service resumes the new game
	again := newFixtureWithStore(t, st)
	assert.Equal(t, f.svc.GameID(), again.svc.GameID())
}

func TestServiceRestoresGame(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV(), "")
	f := newFixtureWithStore(t, st)
	f.add(t, "A", 30, 0)
	f.add(t, "B", 0, 30)
	_, err := f.svc.Settle(ctx, uuid.Nil, 0)
	require.NoError(t, err)

	again := newFixtureWithStore(t, st)
	assert.Equal(t, names(f.svc.Players()), names(again.svc.Players()))
	assert.Equal(t, f.svc.Transactions(), again.svc.Transactions())
	assert.Equal(t, 0.0, again.svc.GrandTotal())
}

type failingRepo struct {
	*store.Store
}

func (failingRepo) SavePlayers(ctx context.Context, gameID uuid.UUID, players []game.Player) error {
	return errors.New("disk full")
}

func TestStorageFailureIsReported(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV(), "")
	agg, err := stats.NewAggregator(ctx, st)
	require.NoError(t, err)
	svc, err := game.NewService(ctx, failingRepo{st}, agg)
	require.NoError(t, err)

	_, err = svc.AddPlayer(ctx, "A", 1, 0, game.AddNew)
	require.Error(t, err)
	assert.False(t, game.IsUserError(err))

	msg, show := svc.LastError()
	assert.True(t, show)
	assert.Contains(t, msg, "disk full")
}

// flakyRepo fails the selected writes until the flags are cleared.
type flakyRepo struct {
	*store.Store
	failPlayers bool
	failGameID  bool
}

func (r *flakyRepo) SavePlayers(ctx context.Context, gameID uuid.UUID, players []game.Player) error {
	if r.failPlayers {
		return errors.New("disk full")
	}
	return r.Store.SavePlayers(ctx, gameID, players)
}

func (r *flakyRepo) SetCurrentGameID(ctx context.Context, gameID uuid.UUID) error {
	if r.failGameID {
		return errors.New("disk full")
	}
	return r.Store.SetCurrentGameID(ctx, gameID)
}

func TestFailedSaveLeavesLedgerUnchanged(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV(), "")
	repo := &flakyRepo{Store: st}
	agg, err := stats.NewAggregator(ctx, st, stats.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	svc, err := game.NewService(ctx, repo, agg, game.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	a, err := svc.AddPlayer(ctx, "A", 50, 0, game.AddNew)
	require.NoError(t, err)
	before := svc.Players()

	repo.failPlayers = true

	_, err = svc.AddPlayer(ctx, "B", 10, 0, game.AddNew)
	require.Error(t, err)
	_, err = svc.AddPlayer(ctx, "a", 20, 0, game.AddBuyIn)
	require.Error(t, err)
	_, err = svc.ApplyAmount(ctx, a.ID, 30, game.SetFinalBalance)
	require.Error(t, err)
	_, err = svc.UpdatePlayer(ctx, a.ID, "Alice", 60, 5)
	require.Error(t, err)
	require.Error(t, svc.RemovePlayer(ctx, 0))

	assert.Equal(t, before, svc.Players())
	_, show := svc.LastError()
	assert.True(t, show)

	repo.failPlayers = false

	_, err = svc.AddPlayer(ctx, "B", 10, 0, game.AddNew)
	require.NoError(t, err, "a failed add must not leave the name taken")
	p, err := svc.AddPlayer(ctx, "a", 20, 0, game.AddBuyIn)
	require.NoError(t, err)
	assert.Equal(t, 70.0, p.BuyIn)
	require.Len(t, p.BuyInHistory, 2)
	assert.Equal(t, 20.0, p.BuyInHistory[1].Amount)

	stored, err := st.LoadPlayers(ctx, svc.GameID())
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, names(stored))
	assert.Equal(t, 70.0, stored[0].BuyIn)
	assert.Equal(t, names(svc.Players()), names(stored))
}

func TestFailedClearKeepsCurrentGame(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV(), "")
	repo := &flakyRepo{Store: st}
	agg, err := stats.NewAggregator(ctx, st)
	require.NoError(t, err)
	svc, err := game.NewService(ctx, repo, agg)
	require.NoError(t, err)

	_, err = svc.AddPlayer(ctx, "A", 10, 0, game.AddNew)
	require.NoError(t, err)
	gameID := svc.GameID()

	for _, fail := range []func(){
		func() { repo.failPlayers = true },
		func() { repo.failGameID = true },
	} {
		repo.failPlayers, repo.failGameID = false, false
		fail()

		require.Error(t, svc.ClearGame(ctx))
		assert.Equal(t, gameID, svc.GameID())
		assert.Len(t, svc.Players(), 1)

		current, err := st.CurrentGameID(ctx)
		require.NoError(t, err)
		assert.Equal(t, gameID, current)
	}

	repo.failPlayers, repo.failGameID = false, false
	require.NoError(t, svc.ClearGame(ctx))
	assert.NotEqual(t, gameID, svc.GameID())
	assert.Empty(t, svc.Players())
}

// flakyStats fails SaveStats while fail is set.
type flakyStats struct {
	*store.Store
	fail bool
}

func (s *flakyStats) SaveStats(ctx context.Context, records []stats.Record) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.SaveStats(ctx, records)
}

func TestFailedStatsWriteKeepsLastSettlement(t *testing.T) {
	ctx := context.Background()
	st := store.New(store.NewMemoryKV(), "")
	statStore := &flakyStats{Store: st}
	agg, err := stats.NewAggregator(ctx, statStore, stats.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	svc, err := game.NewService(ctx, st, agg, game.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	a, err := svc.AddPlayer(ctx, "A", 30, 0, game.AddNew)
	require.NoError(t, err)
	_, err = svc.AddPlayer(ctx, "B", 0, 30, game.AddNew)
	require.NoError(t, err)

	first, err := svc.Settle(ctx, uuid.Nil, 0)
	require.NoError(t, err)
	firstStats := svc.StatRecords()

	_, err = svc.UpdatePlayer(ctx, a.ID, "A", 40, 0)
	require.NoError(t, err)
	_, err = svc.AddPlayer(ctx, "C", 0, 10, game.AddNew)
	require.NoError(t, err)

	statStore.fail = true
	_, err = svc.Settle(ctx, uuid.Nil, 0)
	require.Error(t, err)
	assert.False(t, game.IsUserError(err))

	assert.Equal(t, first.Final, svc.Transactions())
	assert.Equal(t, firstStats, svc.StatRecords())
	stored, err := st.LoadTransactions(ctx, svc.GameID())
	require.NoError(t, err)
	assert.Equal(t, payers(first.Final), payers(stored))
	storedStats, err := st.LoadStats(ctx)
	require.NoError(t, err)
	assert.Len(t, storedStats, 2)

	statStore.fail = false
	second, err := svc.Settle(ctx, uuid.Nil, 0)
	require.NoError(t, err)
	require.Len(t, second.Final, 2)
	assert.Equal(t, second.Final, svc.Transactions())
	assert.Len(t, svc.StatRecords(), 3)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{in: "", want: 0},
		{in: " 40 ", want: 40},
		{in: "1,250.50", want: 1250.5},
		{in: "-3", want: -3},
		{in: "abc", wantErr: true},
		{in: "NaN", wantErr: true},
		{in: "Inf", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := game.ParseAmount(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, game.ErrValidation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1,234.50", game.FormatAmount(1234.5))
	assert.Equal(t, "-0.25", game.FormatAmount(-0.25))
}

func names(players []game.Player) []string {
	out := make([]string, len(players))
	for k, p := range players {
		out[k] = p.Name
	}
	return out
}

func payers(txs []game.Transaction) []string {
	out := make([]string, len(txs))
	for k, tx := range txs {
		out[k] = tx.PayFrom + ">" + tx.PayTo
	}
	return out
}
