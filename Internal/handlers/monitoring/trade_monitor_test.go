package monitoring

import (
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/fazecat/signalpilot/Internal/types"
)

func newTestMonitor() *Monitor {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewMonitor(logger)
}

func closedTrade(id, asset string, profit float64, outcome types.TradeOutcome) *types.AutoTrade {
	entry := time.Date(2024, 5, 6, 9, 0, 0, 0, time.UTC)
	return &types.AutoTrade{
		ID:        id,
		Asset:     asset,
		Direction: types.SignalCall,
		Amount:    10,
		EntryTime: entry,
		ClosedAt:  entry.Add(5 * time.Minute),
		Profit:    profit,
		Outcome:   outcome,
		Status:    types.TradeClosed,
	}
}

func TestRecordTrade_IgnoresOpenTrades(t *testing.T) {
	tm := newTestMonitor()
	open := closedTrade("a", "EURUSD", 0, types.OutcomeNone)
	open.Status = types.TradeExecuted
	if rec := tm.RecordTrade(open); rec != nil {
		t.Errorf("RecordTrade(EXECUTED) = %+v, want nil", rec)
	}
	if got := tm.GetStats().TotalTrades; got != 0 {
		t.Errorf("TotalTrades = %d, want 0", got)
	}
}

func TestUpdateStats(t *testing.T) {
	tm := newTestMonitor()
	trades := []*types.AutoTrade{
		closedTrade("1", "EURUSD", 8, types.OutcomeWin),
		closedTrade("2", "EURUSD", 8, types.OutcomeWin),
		closedTrade("3", "GBPUSD", -10, types.OutcomeLoss),
		closedTrade("4", "GBPUSD", -10, types.OutcomeLoss),
		closedTrade("5", "GBPUSD", -10, types.OutcomeLoss),
		closedTrade("6", "EURUSD", 0, types.OutcomeDraw),
	}
	for _, tr := range trades {
		tm.RecordTrade(tr)
	}

	stats := tm.GetStats()
	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"TotalTrades", float64(stats.TotalTrades), 6},
		{"WinningTrades", float64(stats.WinningTrades), 2},
		{"LosingTrades", float64(stats.LosingTrades), 3},
		{"BreakevenTrades", float64(stats.BreakevenTrades), 1},
		{"NetProfit", stats.NetProfit, -14},
		{"ProfitFactor", stats.ProfitFactor, 16.0 / 30.0},
		{"LargestLoss", stats.LargestLoss, 10},
		{"MaxConsecutiveWins", float64(stats.MaxConsecutiveWins), 2},
		{"MaxConsecutiveLosses", float64(stats.MaxConsecutiveLosses), 3},
		{"MaxDrawdown", stats.MaxDrawdown, 30},
		{"MaxDrawdownPercent", stats.MaxDrawdownPercent, 30.0 / 16.0 * 100},
	}
	for _, tt := range tests {
		if math.Abs(tt.got-tt.want) > 1e-9 {
			t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
		}
	}
	if stats.AvgTradeLength != 5*time.Minute {
		t.Errorf("AvgTradeLength = %v, want 5m", stats.AvgTradeLength)
	}
	if stats.Sharpe >= 0 || stats.Sortino >= 0 {
		t.Errorf("Sharpe/Sortino = %v/%v, want negative for a losing record", stats.Sharpe, stats.Sortino)
	}
}

func TestRatios(t *testing.T) {
	if got := sharpeRatio([]float64{0.8}); got != 0 {
		t.Errorf("sharpeRatio(single) = %v, want 0", got)
	}
	if got := sharpeRatio([]float64{0.5, 0.5}); got != 0 {
		t.Errorf("sharpeRatio(no variance) = %v, want 0", got)
	}
	if got := sortinoRatio([]float64{0.8, 0.8, 0.2}); got != 0 {
		t.Errorf("sortinoRatio(no downside) = %v, want 0", got)
	}
	// mean 0.2, downside sqrt((0+0+1)/3)
	want := 0.2 / math.Sqrt(1.0/3.0)
	if got := sortinoRatio([]float64{0.8, 0.8, -1}); math.Abs(got-want) > 1e-9 {
		t.Errorf("sortinoRatio() = %v, want %v", got, want)
	}
}

func TestGetTradeHistory(t *testing.T) {
	tm := newTestMonitor()
	tm.maxHistory = 3
	for _, id := range []string{"1", "2", "3", "4"} {
		tm.RecordTrade(closedTrade(id, "EURUSD", 8, types.OutcomeWin))
	}
	all := tm.GetTradeHistory(0)
	if len(all) != 3 || all[0].ID != "2" {
		t.Errorf("GetTradeHistory(0) = %d records starting at %s, want 3 starting at 2", len(all), all[0].ID)
	}
	if got := tm.GetTradeHistory(1); len(got) != 1 || got[0].ID != "4" {
		t.Errorf("GetTradeHistory(1) should return the newest trade")
	}
}

func TestSummarizeByAsset(t *testing.T) {
	records := []*TradeRecord{
		{Asset: "GBPUSD", Profit: -10, Outcome: types.OutcomeLoss},
		{Asset: "EURUSD", Profit: 8, Outcome: types.OutcomeWin},
		{Asset: "EURUSD", Profit: -10, Outcome: types.OutcomeLoss},
	}
	got := SummarizeByAsset(records)
	if len(got) != 2 || got[0].Asset != "EURUSD" {
		t.Fatalf("SummarizeByAsset() = %+v", got)
	}
	if got[0].Trades != 2 || got[0].Wins != 1 || got[0].NetProfit != -2 || got[0].WinRate != 50 {
		t.Errorf("EURUSD summary = %+v", got[0])
	}

	rows := FormatTradeRecordsAsJSON(records)
	if len(rows) != 3 || rows[1]["realized_pl"] != 8.0 {
		t.Errorf("FormatTradeRecordsAsJSON() = %v", rows)
	}
}
