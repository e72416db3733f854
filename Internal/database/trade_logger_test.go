package datafeed

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fazecat/signalpilot/Internal/types"
)

func newTestJournal(t *testing.T) *TradeJournal {
	t.Helper()
	db, err := OpenDatabase(DriverSQLite, filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("OpenDatabase() error = %v", err)
	}
	j := NewTradeJournal(db, DriverSQLite, quietLogger())
	t.Cleanup(func() { j.Close() })
	return j
}

func TestTradeJournal_SaveTradeUpserts(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	created := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)

	trade := &types.AutoTrade{
		ID:             "t-1",
		Asset:          "EURUSD",
		Direction:      types.SignalCall,
		Amount:         10,
		SignalStrength: 0.42,
		Status:         types.TradePending,
		CreatedAt:      created,
	}
	if err := j.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("SaveTrade(pending) error = %v", err)
	}

	trade.Status = types.TradeClosed
	trade.PlatformTradeID = "p-1"
	trade.EntryPrice = 1.0712
	trade.ExitPrice = 1.0720
	trade.Profit = 8
	trade.Outcome = types.OutcomeWin
	trade.EntryTime = created.Add(time.Second)
	trade.ExpiryTime = created.Add(5 * time.Minute)
	trade.ClosedAt = created.Add(5 * time.Minute)
	if err := j.SaveTrade(ctx, trade); err != nil {
		t.Fatalf("SaveTrade(closed) error = %v", err)
	}

	rows, err := j.GetTradeHistory(ctx, "EURUSD", 10)
	if err != nil {
		t.Fatalf("GetTradeHistory() error = %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("GetTradeHistory() returned %d rows, want 1 after upsert", len(rows))
	}
	row := rows[0]
	if row.Status != string(types.TradeClosed) || row.PlatformTradeID != "p-1" {
		t.Errorf("row = %+v, want CLOSED with platform id p-1", row)
	}
	if !row.Profit.Equal(decimal.NewFromInt(8)) {
		t.Errorf("Profit = %s, want 8", row.Profit)
	}
	if !row.EntryPrice.Equal(decimal.RequireFromString("1.0712")) {
		t.Errorf("EntryPrice = %s, want 1.0712", row.EntryPrice)
	}
	if !row.ClosedAt.Valid {
		t.Errorf("ClosedAt should be set")
	}
}

func TestTradeJournal_DailySummary(t *testing.T) {
	j := newTestJournal(t)
	ctx := context.Background()
	day := time.Date(2024, 5, 6, 0, 0, 0, 0, time.UTC)

	trades := []*types.AutoTrade{
		{ID: "a", Asset: "EURUSD", Direction: types.SignalCall, Amount: 10, Status: types.TradeClosed, Outcome: types.OutcomeWin, Profit: 8, CreatedAt: day.Add(time.Hour)},
		{ID: "b", Asset: "EURUSD", Direction: types.SignalPut, Amount: 10, Status: types.TradeClosed, Outcome: types.OutcomeLoss, Profit: -10, CreatedAt: day.Add(2 * time.Hour)},
		{ID: "c", Asset: "GBPUSD", Direction: types.SignalCall, Amount: 10, Status: types.TradeFailed, CreatedAt: day.Add(3 * time.Hour)},
		{ID: "d", Asset: "GBPUSD", Direction: types.SignalCall, Amount: 10, Status: types.TradeClosed, Outcome: types.OutcomeWin, Profit: 8, CreatedAt: day.Add(-time.Hour)},
	}
	for _, tr := range trades {
		if err := j.SaveTrade(ctx, tr); err != nil {
			t.Fatalf("SaveTrade(%s) error = %v", tr.ID, err)
		}
	}

	summary, err := j.GetDailySummary(ctx, day)
	if err != nil {
		t.Fatalf("GetDailySummary() error = %v", err)
	}
	if summary.TotalTrades != 3 || summary.Closed != 2 || summary.Wins != 1 || summary.Losses != 1 {
		t.Errorf("summary = %+v, want 3 total, 2 closed, 1 win, 1 loss", summary)
	}
	if !summary.NetProfit.Equal(decimal.NewFromInt(-2)) {
		t.Errorf("NetProfit = %s, want -2", summary.NetProfit)
	}
	if summary.Counted != 2 || !summary.GrossLoss.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Counted = %d GrossLoss = %s, want 2 and 10", summary.Counted, summary.GrossLoss)
	}

	all, err := j.GetTradeHistory(ctx, "", 10)
	if err != nil {
		t.Fatalf("GetTradeHistory() error = %v", err)
	}
	if len(all) != 4 || all[0].TradeID != "c" {
		t.Errorf("GetTradeHistory() first = %v of %d, want newest trade c first", all[0].TradeID, len(all))
	}
}

func TestRebind(t *testing.T) {
	q := "SELECT * FROM t WHERE a = ? AND b = ?"
	if got := rebind(DriverPostgres, q); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("rebind(postgres) = %q", got)
	}
	if got := rebind(DriverSQLite, q); got != q {
		t.Errorf("rebind(sqlite3) = %q, want unchanged", got)
	}
}
