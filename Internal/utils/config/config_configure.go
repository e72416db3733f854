package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ConfigureInteractive edits a copy of the live config and swaps it in on save
func ConfigureInteractive(store *Store, in io.Reader) error {
	reader := bufio.NewReader(in)
	cfg := store.Get().Clone()

	for {
		fmt.Println("\n⚙️  Configuration Menu:")
		fmt.Println("1. View Current Configuration")
		fmt.Println("2. Configure Signal Thresholds")
		fmt.Println("3. Configure Signal Weights")
		fmt.Println("4. Configure Trading & Risk Limits")
		fmt.Println("5. Configure Assets & Interval")
		fmt.Println("6. Save & Exit")
		fmt.Println("7. Exit Without Saving")
		fmt.Print("Select option: ")

		choice, err := reader.ReadString('\n')
		if err != nil && choice == "" {
			return nil
		}
		choice = strings.TrimSpace(choice)

		switch choice {
		case "1":
			DisplayConfiguration(cfg)
		case "2":
			configureThresholds(cfg, reader)
		case "3":
			configureSignalWeights(cfg, reader)
		case "4":
			configureTrading(cfg, reader)
		case "5":
			configureAssets(cfg, reader)
		case "6":
			if err := store.Swap(cfg); err != nil {
				fmt.Printf("❌ Configuration is invalid: %v\n", err)
				continue
			}
			if store.Path() != "" {
				if err := SaveConfig(cfg, store.Path()); err != nil {
					fmt.Printf("❌ Error saving config: %v\n", err)
					continue
				}
			}
			fmt.Println("✅ Configuration saved successfully!")
			return nil
		case "7":
			fmt.Println("No changes made")
			return nil
		default:
			fmt.Println("❌ Invalid option")
		}
	}
}

// DisplayConfiguration shows current configuration
func DisplayConfiguration(cfg *Config) {
	fmt.Println("\n📋 Current Configuration:")

	fmt.Println("\n=== Pipeline ===")
	fmt.Printf("Assets: %s\n", strings.Join(cfg.Pipeline.Assets, ", "))
	fmt.Printf("Timeframe: %dm\n", cfg.Pipeline.TimeframeMinutes)
	fmt.Printf("Signal Interval: %s\n", cfg.Pipeline.SignalInterval)
	fmt.Printf("Max Concurrent Signals: %d\n", cfg.Pipeline.MaxConcurrentSignals)
	fmt.Printf("Candles per Fetch: %d\n", cfg.Pipeline.CandleCount)

	fmt.Println("\n=== Signals ===")
	fmt.Printf("  • Min Strength: %.2f\n", cfg.Signals.MinStrength)
	fmt.Printf("  • Min Confidence: %.2f\n", cfg.Signals.MinConfidence)
	fmt.Printf("  • Min Candles: %d\n", cfg.Signals.MinCandles)
	fmt.Printf("  • Signal Weights:\n")
	fmt.Printf("    - RSI: %.2f\n", cfg.Signals.Weights.RSI)
	fmt.Printf("    - MACD: %.2f\n", cfg.Signals.Weights.MACD)
	fmt.Printf("    - Bollinger: %.2f\n", cfg.Signals.Weights.Bollinger)
	fmt.Printf("    - Stochastic: %.2f\n", cfg.Signals.Weights.Stochastic)
	fmt.Printf("    - EMA Trend: %.2f\n", cfg.Signals.Weights.EMATrend)

	fmt.Println("\n=== Trading ===")
	fmt.Printf("Stake: $%.2f\n", cfg.Trading.StakeAmount)
	fmt.Printf("Trade Duration: %s\n", cfg.Trading.TradeDuration)
	fmt.Printf("Max Daily Trades: %d\n", cfg.Risk.MaxDailyTrades)
	fmt.Printf("Max Concurrent Trades: %d\n", cfg.Risk.MaxConcurrentTrades)
	fmt.Printf("Stake Bounds: $%.2f - $%.2f\n", cfg.Risk.MinStake, cfg.Risk.MaxStake)
	if cfg.Risk.MaxDailyLoss > 0 {
		fmt.Printf("Max Daily Loss: $%.2f\n", cfg.Risk.MaxDailyLoss)
	} else {
		fmt.Println("Max Daily Loss: disabled")
	}

	fmt.Println("\n=== Integrations ===")
	fmt.Printf("Market Data: %s\n", cfg.MarketData.Source)
	fmt.Printf("Broker: %s\n", cfg.Broker.Kind)
	fmt.Printf("Alpaca Key: %s\n", MaskSecret(cfg.Alpaca.APIKey))
	fmt.Printf("Journal: %s\n", cfg.Journal.Driver)
	fmt.Printf("Kafka: %v\n", enabledStr(cfg.Kafka.Enabled))
}

func configureThresholds(cfg *Config, reader *bufio.Reader) {
	fmt.Println("\n📊 Configure Signal Thresholds:")
	promptFloat(reader, "Min strength (0-1)", &cfg.Signals.MinStrength)
	promptFloat(reader, "Min confidence (0-1)", &cfg.Signals.MinConfidence)
	promptInt(reader, "Min candles", &cfg.Signals.MinCandles)
	fmt.Println("✅ Thresholds updated")
}

func configureSignalWeights(cfg *Config, reader *bufio.Reader) {
	fmt.Println("\n⚖️  Configure Signal Weights:")
	fmt.Println("(The combined score is clipped to [-1, 1])")

	weights := cfg.Signals.Weights
	promptFloat(reader, "RSI weight", &weights.RSI)
	promptFloat(reader, "MACD weight", &weights.MACD)
	promptFloat(reader, "Bollinger weight", &weights.Bollinger)
	promptFloat(reader, "Stochastic weight", &weights.Stochastic)
	promptFloat(reader, "EMA trend weight", &weights.EMATrend)
	cfg.Signals.Weights = weights

	sum := weights.RSI + weights.MACD + weights.Bollinger + weights.Stochastic + weights.EMATrend
	fmt.Printf("✅ Weights updated (Sum: %.2f)\n", sum)
}

func configureTrading(cfg *Config, reader *bufio.Reader) {
	fmt.Println("\n💰 Configure Trading & Risk Limits:")
	promptFloat(reader, "Stake amount", &cfg.Trading.StakeAmount)
	promptInt(reader, "Max daily trades", &cfg.Risk.MaxDailyTrades)
	promptInt(reader, "Max concurrent trades", &cfg.Risk.MaxConcurrentTrades)
	promptFloat(reader, "Max daily loss (0 disables)", &cfg.Risk.MaxDailyLoss)

	minutes := cfg.Signals.TradeDurationMinutes
	promptInt(reader, "Trade duration (minutes)", &minutes)
	if minutes > 0 {
		cfg.Signals.TradeDurationMinutes = minutes
		cfg.Trading.TradeDuration = time.Duration(minutes) * time.Minute
	}
	fmt.Println("✅ Trading settings updated")
}

func configureAssets(cfg *Config, reader *bufio.Reader) {
	fmt.Println("\n🌐 Configure Assets & Interval:")
	fmt.Printf("Current assets: %s\n", strings.Join(cfg.Pipeline.Assets, ", "))
	fmt.Print("New assets (comma separated, Enter to keep): ")
	input, _ := reader.ReadString('\n')
	if assets := parseAssets(input); len(assets) > 0 {
		cfg.Pipeline.Assets = assets
	}

	seconds := int(cfg.Pipeline.SignalInterval / time.Second)
	promptInt(reader, "Signal interval (seconds)", &seconds)
	if seconds > 0 {
		cfg.Pipeline.SignalInterval = time.Duration(seconds) * time.Second
	}
	promptInt(reader, "Max concurrent signals", &cfg.Pipeline.MaxConcurrentSignals)
	fmt.Println("✅ Assets updated")
}

func parseAssets(input string) []string {
	var assets []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(input, ",") {
		asset := strings.ToUpper(strings.TrimSpace(part))
		if asset == "" || seen[asset] {
			continue
		}
		seen[asset] = true
		assets = append(assets, asset)
	}
	return assets
}

// empty or unparsable input keeps the current value
func promptFloat(reader *bufio.Reader, label string, target *float64) {
	fmt.Printf("Current %s: %.2f\n", label, *target)
	fmt.Printf("New %s: ", label)
	input, _ := reader.ReadString('\n')
	if val, err := strconv.ParseFloat(strings.TrimSpace(input), 64); err == nil {
		*target = val
	}
}

func promptInt(reader *bufio.Reader, label string, target *int) {
	fmt.Printf("Current %s: %d\n", label, *target)
	fmt.Printf("New %s: ", label)
	input, _ := reader.ReadString('\n')
	if val, err := strconv.Atoi(strings.TrimSpace(input)); err == nil {
		*target = val
	}
}

func enabledStr(enabled bool) string {
	if enabled {
		return "✅ Enabled"
	}
	return "❌ Disabled"
}
