package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fazecat/signalpilot/Internal/app"
	"github.com/fazecat/signalpilot/Internal/handlers/monitoring"
	"github.com/fazecat/signalpilot/Internal/handlers/trader"
	"github.com/fazecat/signalpilot/Internal/pipeline"
	"github.com/fazecat/signalpilot/Internal/utils/formatting"
)

var separator = formatting.Separator(60)

func readLine(reader *bufio.Reader) string {
	input, _ := reader.ReadString('\n')
	return strings.TrimSpace(input)
}

// HandleTogglePipeline starts the pipeline when stopped and stops it when running
func HandleTogglePipeline(ctx context.Context, a *app.App) {
	if a.Pipeline.IsRunning() {
		if err := a.Pipeline.Stop(); err != nil {
			fmt.Printf("Error stopping pipeline: %v\n", err)
			return
		}
		fmt.Println("🛑 Pipeline stopped (in-flight work will finish)")
		return
	}
	if err := a.StartPipeline(ctx); err != nil {
		fmt.Printf("Error starting pipeline: %v\n", err)
		return
	}
	if a.Trader.IsRunning() {
		fmt.Println("🚀 Pipeline started")
	} else {
		fmt.Println("🚀 Pipeline started (automated trading is off, signals are only reported)")
	}
}

// HandleToggleTrading enables or disables automated trade submission
func HandleToggleTrading(a *app.App) {
	if a.Trader.IsRunning() {
		a.StopTrading()
		fmt.Println("🔴 Automated trading stopped, open trades still settle")
		return
	}
	a.StartTrading()
	fmt.Println("🟢 Automated trading started")
}

// HandleStatus prints pipeline state and counters
func HandleStatus(a *app.App) {
	status := a.Pipeline.Status()
	m := status.Metrics

	fmt.Println("\n" + separator)
	fmt.Println("📡 PIPELINE STATUS")
	fmt.Println(separator)
	fmt.Printf("State:                 %s\n", status.State)
	if status.State == pipeline.StateRunning {
		fmt.Printf("Started:               %s\n", formatting.Timestamp(status.StartTime))
		fmt.Printf("Uptime:                %s\n", formatting.Duration(status.Uptime))
	}
	fmt.Printf("Market Data:           %s\n", connectedStr(status.Connected))
	fmt.Printf("Automated Trading:     %s\n", onOffStr(a.Trader.IsRunning()))
	fmt.Printf("Assets:                %s\n", strings.Join(status.Assets, ", "))
	fmt.Println(formatting.Thin(60))
	fmt.Printf("Cycles Completed:      %d\n", m.CyclesCompleted)
	fmt.Printf("Signals Generated:     %d\n", m.SignalsGenerated)
	fmt.Printf("Trades Executed:       %d\n", m.TradesExecuted)
	fmt.Printf("Trades Rejected:       %d\n", m.TradesRejected)
	fmt.Printf("Trades Failed:         %d\n", m.TradesFailed)
	fmt.Printf("Trades Closed:         %d\n", m.TradesClosed)
	fmt.Printf("Errors:                %d\n", m.Errors)
	fmt.Printf("Reconnection Attempts: %d\n", m.ReconnectionAttempts)
	if !m.LastCycleAt.IsZero() {
		fmt.Printf("Last Cycle:            %s\n", formatting.Timestamp(m.LastCycleAt))
	}
	fmt.Printf("Realized P&L:          %s\n", formatting.Money(a.Trader.RealizedPnL()))
	fmt.Println(separator)
}

// HandleActiveTrades lists trades that are still PENDING or EXECUTED
func HandleActiveTrades(a *app.App) {
	monitoring.PrintActiveTrades(a.Trader.ActiveTrades(), time.Now())
}

// HandleCancelTrade stops tracking one active trade
func HandleCancelTrade(ctx context.Context, a *app.App, reader *bufio.Reader) {
	active := a.Trader.ActiveTrades()
	if len(active) == 0 {
		fmt.Println("No active trades")
		return
	}
	for i, trade := range active {
		fmt.Printf("[%d] %s %s %s | %s\n", i+1, shortID(trade.ID), trade.Asset, trade.Direction, trade.Status)
	}
	fmt.Print("Enter trade number to cancel (or Enter to go back): ")
	idx, err := strconv.Atoi(readLine(reader))
	if err != nil || idx < 1 || idx > len(active) {
		fmt.Println("No trade cancelled")
		return
	}

	trade, err := a.Trader.Cancel(ctx, active[idx-1].ID)
	switch {
	case errors.Is(err, trader.ErrNotCancellable), errors.Is(err, trader.ErrTradeNotFound):
		fmt.Printf("Trade can no longer be cancelled: %v\n", err)
	case err != nil:
		fmt.Printf("Error cancelling trade: %v\n", err)
	default:
		fmt.Printf("✅ Trade %s cancelled\n", trade.ID)
	}
}

// HandleTradeHistory pages through the trade journal, newest first
func HandleTradeHistory(ctx context.Context, a *app.App, reader *bufio.Reader) {
	fmt.Println("\n=== Trade History ===")
	if a.Journal == nil {
		fmt.Println("Trade journal is not configured, showing this session only")
		a.Monitor.PrintTradeHistory(20)
		return
	}

	fmt.Print("Enter asset (or Enter for all trades): ")
	asset := strings.ToUpper(readLine(reader))

	trades, err := a.Journal.GetTradeHistory(ctx, asset, 100)
	if err != nil {
		fmt.Printf("Error retrieving trades: %v\n", err)
		return
	}
	if len(trades) == 0 {
		fmt.Println("\nNo trades found in journal")
		return
	}

	totalTrades := len(trades)
	displayCount := 10
	for {
		endIndex := displayCount
		if endIndex > totalTrades {
			endIndex = totalTrades
		}

		fmt.Printf("\nTrade History (Showing %d of %d):\n", endIndex, totalTrades)
		for i := 0; i < endIndex; i++ {
			trade := trades[i]
			line := fmt.Sprintf("  %s | %-8s %-4s $%s @ %s | %s",
				trade.CreatedAt.UTC().Format("2006-01-02 15:04"),
				trade.Asset, trade.Direction, trade.Amount.StringFixed(2),
				trade.EntryPrice.String(), trade.Status)
			if trade.Outcome != "" {
				line += fmt.Sprintf(" %s $%s", trade.Outcome, trade.Profit.StringFixed(2))
			}
			fmt.Println(line)
		}

		if endIndex >= totalTrades {
			fmt.Printf("\nAll %d trades displayed\n", totalTrades)
			return
		}
		fmt.Print("Press Enter to load 10 more, or type 'q' to quit: ")
		if strings.EqualFold(readLine(reader), "q") {
			return
		}
		displayCount += 10
	}
}

// HandleDailySummary aggregates today's journaled trades
func HandleDailySummary(ctx context.Context, a *app.App) {
	if a.Journal == nil {
		fmt.Println("Trade journal is not configured")
		return
	}
	summary, err := a.Journal.GetDailySummary(ctx, time.Now().UTC())
	if err != nil {
		fmt.Printf("Error building daily summary: %v\n", err)
		return
	}

	fmt.Println("\n" + separator)
	fmt.Printf("📅 DAILY SUMMARY %s\n", summary.Day.Format("2006-01-02"))
	fmt.Println(separator)
	fmt.Printf("Trades:     %d (%d closed)\n", summary.TotalTrades, summary.Closed)
	fmt.Printf("Wins:       %d\n", summary.Wins)
	fmt.Printf("Losses:     %d\n", summary.Losses)
	fmt.Printf("Win Rate:   %.1f%%\n", summary.WinRate)
	fmt.Printf("Net Profit: $%s\n", summary.NetProfit.StringFixed(2))
	fmt.Println(separator)
}

// HandleDisplayRiskManager prints the risk dashboard
func HandleDisplayRiskManager(a *app.App) {
	report := a.Risk.GenerateReport(a.Trader.ActiveCount())
	report.Print()

	events := a.Risk.GetRiskEvents(5)
	if len(events) == 0 {
		return
	}
	fmt.Println("Recent Risk Events:")
	for _, e := range events {
		fmt.Printf("  %s [%s] %s %s\n", e.Timestamp.UTC().Format("15:04:05"), e.Severity, e.EventType, e.Details)
	}
}

// HandleDisplayTradeMonitor prints portfolio statistics and per-asset results
func HandleDisplayTradeMonitor(a *app.App) {
	a.Monitor.PrintStatsReport()

	summaries := monitoring.SummarizeByAsset(a.Monitor.GetTradeHistory(0))
	if len(summaries) == 0 {
		return
	}
	fmt.Println("Per Asset:")
	for _, s := range summaries {
		fmt.Printf("  %-8s trades %-3d wins %-3d P&L %s\n", s.Asset, s.Trades, s.Wins, formatting.Money(s.NetProfit))
	}
}

// HandleRecentEvents prints the newest pipeline events
func HandleRecentEvents(a *app.App, limit int) {
	history := a.Bus.History(limit)
	if len(history) == 0 {
		fmt.Println("No events yet")
		return
	}
	fmt.Printf("\nLast %d events:\n", len(history))
	for _, e := range history {
		fmt.Printf("  %s %s\n", e.Timestamp.Format("15:04:05"), e.String())
	}
}

func connectedStr(connected bool) string {
	if connected {
		return "✅ Connected"
	}
	return "❌ Disconnected"
}

func onOffStr(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
