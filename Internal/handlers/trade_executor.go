package handlers

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fazecat/signalpilot/Internal/app"
	"github.com/fazecat/signalpilot/Internal/strategy/signals"
	"github.com/fazecat/signalpilot/Internal/types"
)

// ScanResult is one asset's outcome from a manual scan
type ScanResult struct {
	Asset  string
	Result signals.Result
	Err    error
}

// ScanAssets fetches a fresh window per configured asset and runs the signal engine on it
func ScanAssets(ctx context.Context, a *app.App) []ScanResult {
	cfg := a.Config.Get().Pipeline
	results := make([]ScanResult, 0, len(cfg.Assets))

	for _, asset := range cfg.Assets {
		fetchCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
		candles, err := a.MarketData.GetLatestCandles(fetchCtx, asset, cfg.TimeframeMinutes, cfg.CandleCount)
		cancel()
		if err != nil {
			results = append(results, ScanResult{Asset: asset, Err: err})
			continue
		}

		valid := candles[:0:0]
		for _, c := range candles {
			if c.Validate() == nil {
				valid = append(valid, c)
			}
		}
		results = append(results, ScanResult{
			Asset:  asset,
			Result: a.Engine.GenerateSignal(valid, asset),
		})
	}
	return results
}

// HandleManualScan lists current signals and submits the ones the user picks
func HandleManualScan(ctx context.Context, a *app.App, reader *bufio.Reader) {
	fmt.Println("\n🔍 Scanning assets...")
	results := ScanAssets(ctx, a)

	var signalsAvailable []*types.TradingSignal
	for _, r := range results {
		switch {
		case r.Err != nil:
			fmt.Printf("  %-8s ❌ %v\n", r.Asset, r.Err)
		case r.Result.Outcome == signals.OutcomeSignal:
			signalsAvailable = append(signalsAvailable, r.Result.Signal)
		default:
			fmt.Printf("  %-8s %s: %s\n", r.Asset, r.Result.Outcome, r.Result.Reason)
		}
	}

	if len(signalsAvailable) == 0 {
		fmt.Println("No trade signals detected")
		return
	}

	fmt.Printf("\nFound %d assets with trade signals\n", len(signalsAvailable))
	for i, sig := range signalsAvailable {
		fmt.Printf("\n[%d] %s\n", i+1, signals.FormatSignal(sig))
	}

	for {
		fmt.Print("\nEnter signal number to trade (or 'done' to finish): ")
		input := readLine(reader)
		if input == "" || strings.EqualFold(input, "done") {
			break
		}

		idx, err := strconv.Atoi(input)
		if err != nil || idx < 1 || idx > len(signalsAvailable) {
			fmt.Println("Invalid selection")
			continue
		}
		executeSignal(ctx, a, signalsAvailable[idx-1])
	}

	fmt.Println("\nTrade execution complete")
}

func executeSignal(ctx context.Context, a *app.App, sig *types.TradingSignal) {
	if !a.Trader.IsRunning() {
		fmt.Println("Automated trading is stopped, start it from the menu first")
		return
	}

	fmt.Printf("\nTrading %s %s...\n", sig.Asset, sig.SignalType)
	res := a.Trader.Submit(ctx, sig)
	switch {
	case res.Rejected:
		fmt.Printf("⛔ Rejected (%s): %s\n", res.Reason, res.Message)
	case res.Err != nil:
		fmt.Printf("❌ Execution failed: %v\n", res.Err)
	case res.Accepted():
		fmt.Printf("✅ Trade %s executed @ %.5f, expires %s\n",
			shortID(res.Trade.ID), res.Trade.EntryPrice, res.Trade.ExpiryTime.Format("15:04:05"))
	case res.Trade != nil:
		fmt.Printf("Trade submitted with status %s\n", res.Trade.Status)
	}
}
