package monitoring

import (
	"fmt"
	"sort"
	"time"

	"github.com/fazecat/signalpilot/Internal/types"
	"github.com/fazecat/signalpilot/Internal/utils/formatting"
)

// AssetSummary groups closed trades per asset
type AssetSummary struct {
	Asset     string  `json:"asset"`
	Trades    int     `json:"trades"`
	Wins      int     `json:"wins"`
	Losses    int     `json:"losses"`
	NetProfit float64 `json:"net_profit"`
	WinRate   float64 `json:"win_rate"`
}

// SummarizeByAsset returns one summary per asset ordered by asset name
func SummarizeByAsset(records []*TradeRecord) []AssetSummary {
	byAsset := make(map[string]*AssetSummary)
	for _, rec := range records {
		s, ok := byAsset[rec.Asset]
		if !ok {
			s = &AssetSummary{Asset: rec.Asset}
			byAsset[rec.Asset] = s
		}
		s.Trades++
		s.NetProfit += rec.Profit
		if isWin(rec) {
			s.Wins++
		} else if isLoss(rec) {
			s.Losses++
		}
	}

	result := make([]AssetSummary, 0, len(byAsset))
	for _, s := range byAsset {
		if s.Trades > 0 {
			s.WinRate = float64(s.Wins) / float64(s.Trades) * 100
		}
		result = append(result, *s)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Asset < result[j].Asset })
	return result
}

// FormatTradeRecordsAsJSON converts trade history records to a JSON-friendly format
func FormatTradeRecordsAsJSON(records []*TradeRecord) []map[string]interface{} {
	trades := make([]map[string]interface{}, 0, len(records))

	for _, rec := range records {
		trades = append(trades, map[string]interface{}{
			"id":              rec.ID,
			"asset":           rec.Asset,
			"direction":       rec.Direction,
			"entry_time":      rec.EntryTime.UTC().Format(time.RFC3339),
			"exit_time":       rec.ExitTime.UTC().Format(time.RFC3339),
			"entry_price":     rec.EntryPrice,
			"exit_price":      rec.ExitPrice,
			"stake":           rec.Stake,
			"outcome":         rec.Outcome,
			"realized_pl":     rec.Profit,
			"realized_plpc":   rec.ReturnPct / 100,
			"signal_strength": rec.SignalStrength,
			"duration_ms":     rec.Duration.Milliseconds(),
		})
	}

	return trades
}

// prints the latest closed trades and a per-asset breakdown
func (tm *Monitor) PrintTradeHistory(limit int) {
	records := tm.GetTradeHistory(limit)
	if len(records) == 0 {
		fmt.Println("No closed trades yet")
		return
	}

	width := 90
	fmt.Println("\n" + formatting.Separator(width))
	fmt.Println("📜 TRADE HISTORY")
	fmt.Println(formatting.Separator(width))
	fmt.Printf("%-20s %-10s %-5s %-10s %-10s %-8s %-10s %-6s\n",
		"Closed", "Asset", "Dir", "Entry", "Exit", "Stake", "P&L", "Result")

	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		emoji := "🟢"
		if r.Profit < 0 {
			emoji = "🔴"
		}
		fmt.Printf("%-20s %-10s %-5s %-10.5f %-10.5f %-8.2f %-10s %s %s\n",
			formatting.Timestamp(r.ExitTime), r.Asset, r.Direction, r.EntryPrice, r.ExitPrice,
			r.Stake, formatting.Money(r.Profit), emoji, r.Outcome)
	}

	fmt.Println(formatting.Thin(width))
	for _, s := range SummarizeByAsset(records) {
		fmt.Printf("%-10s %3d trades  %3d W / %3d L  %5.1f%%  net %s\n",
			s.Asset, s.Trades, s.Wins, s.Losses, s.WinRate, formatting.Money(s.NetProfit))
	}
	fmt.Println(formatting.Separator(width) + "\n")
}

// PrintActiveTrades lists open trades with their time left to expiry
func PrintActiveTrades(trades []*types.AutoTrade, now time.Time) {
	if len(trades) == 0 {
		fmt.Println("No active trades")
		return
	}

	width := 90
	fmt.Println("\n" + formatting.Separator(width))
	fmt.Println("📊 ACTIVE TRADES")
	fmt.Println(formatting.Separator(width))
	fmt.Printf("%-10s %-10s %-5s %-8s %-10s %-9s %-12s\n",
		"Trade", "Asset", "Dir", "Stake", "Entry", "Status", "Expires in")

	for _, t := range trades {
		remaining := "-"
		if !t.ExpiryTime.IsZero() {
			remaining = formatting.Duration(t.ExpiryTime.Sub(now))
		}
		id := t.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Printf("%-10s %-10s %-5s %-8.2f %-10.5f %-9s %-12s\n",
			id, t.Asset, t.Direction, t.Amount, t.EntryPrice, t.Status, remaining)
	}
	fmt.Println(formatting.Separator(width) + "\n")
}
