package interactive

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fazecat/signalpilot/Internal/app"
	"github.com/fazecat/signalpilot/Internal/handlers"
	"github.com/fazecat/signalpilot/Internal/utils/config"
)

const (
	menuTogglePipeline = iota + 1
	menuToggleTrading
	menuStatus
	menuScan
	menuActiveTrades
	menuCancelTrade
	menuTradeHistory
	menuDailySummary
	menuRiskManager
	menuTradeMonitor
	menuEvents
	menuConfigure
	menuReload
	menuExit
)

// ShowMainMenu prints the menu and reads one numeric choice
func ShowMainMenu(a *app.App, reader *bufio.Reader) (int, error) {
	pipelineState := "stopped"
	if a.Pipeline.IsRunning() {
		pipelineState = "running"
	}
	tradingState := "off"
	if a.Trader.IsRunning() {
		tradingState = "on"
	}

	fmt.Println("\n--- SignalPilot Menu ---")
	fmt.Printf("%d. Start/Stop Pipeline (%s)\n", menuTogglePipeline, pipelineState)
	fmt.Printf("%d. Start/Stop Automated Trading (%s)\n", menuToggleTrading, tradingState)
	fmt.Printf("%d. Pipeline Status\n", menuStatus)
	fmt.Printf("%d. Scan Assets & Trade Manually\n", menuScan)
	fmt.Printf("%d. Active Trades\n", menuActiveTrades)
	fmt.Printf("%d. Cancel Trade\n", menuCancelTrade)
	fmt.Printf("%d. Trade History\n", menuTradeHistory)
	fmt.Printf("%d. Daily Summary\n", menuDailySummary)
	fmt.Printf("%d. Risk Manager Dashboard\n", menuRiskManager)
	fmt.Printf("%d. Trade Monitor\n", menuTradeMonitor)
	fmt.Printf("%d. Recent Events\n", menuEvents)
	fmt.Printf("%d. Configure Settings\n", menuConfigure)
	fmt.Printf("%d. Reload Config File\n", menuReload)
	fmt.Printf("%d. Exit\n", menuExit)
	fmt.Printf("Enter choice (1-%d): ", menuExit)

	input, err := reader.ReadString('\n')
	if err != nil && input == "" {
		return 0, err
	}
	choice, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil {
		return 0, fmt.Errorf("invalid choice %q", strings.TrimSpace(input))
	}
	return choice, nil
}

// Run drives the console menu until the user exits, input ends or ctx is cancelled
func Run(ctx context.Context, a *app.App, in io.Reader) error {
	reader := bufio.NewReader(in)

	for {
		if ctx.Err() != nil {
			return nil
		}

		choice, err := ShowMainMenu(a, reader)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			fmt.Println("Invalid input. Try again.")
			continue
		}

		switch choice {
		case menuTogglePipeline:
			handlers.HandleTogglePipeline(ctx, a)
		case menuToggleTrading:
			handlers.HandleToggleTrading(a)
		case menuStatus:
			handlers.HandleStatus(a)
		case menuScan:
			handlers.HandleManualScan(ctx, a, reader)
		case menuActiveTrades:
			handlers.HandleActiveTrades(a)
		case menuCancelTrade:
			handlers.HandleCancelTrade(ctx, a, reader)
		case menuTradeHistory:
			handlers.HandleTradeHistory(ctx, a, reader)
		case menuDailySummary:
			handlers.HandleDailySummary(ctx, a)
		case menuRiskManager:
			handlers.HandleDisplayRiskManager(a)
		case menuTradeMonitor:
			handlers.HandleDisplayTradeMonitor(a)
		case menuEvents:
			handlers.HandleRecentEvents(a, 20)
		case menuConfigure:
			if err := config.ConfigureInteractive(a.Config, reader); err != nil {
				fmt.Printf("Error configuring settings: %v\n", err)
			}
		case menuReload:
			if a.Config.Path() == "" {
				fmt.Println("No config file loaded")
				continue
			}
			if _, err := a.Config.Reload(); err != nil {
				fmt.Printf("❌ Reload failed, keeping current config: %v\n", err)
				continue
			}
			fmt.Println("✅ Configuration reloaded")
		case menuExit:
			fmt.Println("Goodbye!")
			return nil
		default:
			fmt.Println("Invalid choice. Try again.")
		}
	}
}
