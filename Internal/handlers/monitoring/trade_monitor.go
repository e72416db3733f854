package monitoring

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"

	"github.com/fazecat/signalpilot/Internal/types"
	"github.com/fazecat/signalpilot/Internal/utils/formatting"
)

const defaultMaxHistory = 1000

// Realized P&L tracking and analytics for closed trades
type Monitor struct {
	tradeHistory   []*TradeRecord
	historyMutex   sync.RWMutex
	portfolioStats *PortfolioStats
	statsMutex     sync.RWMutex
	maxHistory     int
	logger         *logrus.Logger
	now            func() time.Time
}

// record of a closed trade
type TradeRecord struct {
	ID             string             `json:"trade_id"`
	Asset          string             `json:"asset"`
	Direction      types.SignalType   `json:"direction"`
	EntryTime      time.Time          `json:"entry_time"`
	ExitTime       time.Time          `json:"exit_time"`
	EntryPrice     float64            `json:"entry_price"`
	ExitPrice      float64            `json:"exit_price"`
	Stake          float64            `json:"stake"`
	Profit         float64            `json:"profit"`
	ReturnPct      float64            `json:"return_pct"`
	Outcome        types.TradeOutcome `json:"outcome"`
	SignalStrength float64            `json:"signal_strength"`
	Duration       time.Duration      `json:"duration"`
}

// running statistics across all closed trades
type PortfolioStats struct {
	TotalTrades           int           `json:"total_trades"`
	WinningTrades         int           `json:"winning_trades"`
	LosingTrades          int           `json:"losing_trades"`
	BreakevenTrades       int           `json:"breakeven_trades"`
	WinRate               float64       `json:"win_rate"` // 0-100%
	TotalProfit           float64       `json:"total_profit"`
	TotalLoss             float64       `json:"total_loss"`
	NetProfit             float64       `json:"net_profit"`
	AverageProfitPerTrade float64       `json:"average_profit_per_trade"`
	AverageLossPerTrade   float64       `json:"average_loss_per_trade"`
	LargestWin            float64       `json:"largest_win"`
	LargestLoss           float64       `json:"largest_loss"`
	ProfitFactor          float64       `json:"profit_factor"` // Total profit / Total loss
	AvgTradeLength        time.Duration `json:"avg_trade_length"`
	MaxConsecutiveWins    int           `json:"max_consecutive_wins"`
	MaxConsecutiveLosses  int           `json:"max_consecutive_losses"`
	Sharpe                float64       `json:"sharpe"`
	Sortino               float64       `json:"sortino"`
	MaxDrawdown           float64       `json:"max_drawdown"`
	MaxDrawdownPercent    float64       `json:"max_drawdown_percent"`
	LastUpdated           time.Time     `json:"last_updated"`
}

// creates a new trade monitor
func NewMonitor(logger *logrus.Logger) *Monitor {
	return &Monitor{
		tradeHistory:   make([]*TradeRecord, 0),
		portfolioStats: &PortfolioStats{},
		maxHistory:     defaultMaxHistory,
		logger:         logger,
		now:            time.Now,
	}
}

// ============================================================================
// TRADE RECORDING
// ============================================================================

// records a closed trade; other statuses are ignored
func (tm *Monitor) RecordTrade(trade *types.AutoTrade) *TradeRecord {
	if trade == nil || trade.Status != types.TradeClosed {
		return nil
	}

	returnPct := 0.0
	if trade.Amount > 0 {
		returnPct = trade.Profit / trade.Amount * 100
	}
	exitTime := trade.ClosedAt
	if exitTime.IsZero() {
		exitTime = tm.now()
	}

	record := &TradeRecord{
		ID:             trade.ID,
		Asset:          trade.Asset,
		Direction:      trade.Direction,
		EntryTime:      trade.EntryTime,
		ExitTime:       exitTime,
		EntryPrice:     trade.EntryPrice,
		ExitPrice:      trade.ExitPrice,
		Stake:          trade.Amount,
		Profit:         trade.Profit,
		ReturnPct:      returnPct,
		Outcome:        trade.Outcome,
		SignalStrength: trade.SignalStrength,
		Duration:       exitTime.Sub(trade.EntryTime),
	}

	tm.historyMutex.Lock()
	tm.tradeHistory = append(tm.tradeHistory, record)
	if len(tm.tradeHistory) > tm.maxHistory {
		tm.tradeHistory = tm.tradeHistory[len(tm.tradeHistory)-tm.maxHistory:]
	}
	tm.historyMutex.Unlock()

	tm.updateStats()

	emoji := "🟢"
	if record.Profit < 0 {
		emoji = "🔴"
	}
	tm.logger.WithFields(logrus.Fields{
		"trade_id": record.ID,
		"asset":    record.Asset,
		"outcome":  record.Outcome,
		"profit":   record.Profit,
	}).Infof("%s Trade recorded: %s %s %.5f->%.5f (%+.2f, %+.2f%%)",
		emoji, record.Asset, record.Direction, record.EntryPrice, record.ExitPrice, record.Profit, record.ReturnPct)

	return record
}

func isWin(r *TradeRecord) bool {
	if r.Outcome != types.OutcomeNone {
		return r.Outcome == types.OutcomeWin
	}
	return r.Profit > 0.01
}

func isLoss(r *TradeRecord) bool {
	if r.Outcome != types.OutcomeNone {
		return r.Outcome == types.OutcomeLoss
	}
	return r.Profit < -0.01
}

// updates portfolio statistics
func (tm *Monitor) updateStats() {
	tm.historyMutex.RLock()
	trades := make([]*TradeRecord, len(tm.tradeHistory))
	copy(trades, tm.tradeHistory)
	tm.historyMutex.RUnlock()

	if len(trades) == 0 {
		return
	}

	stats := computeStats(trades)
	stats.LastUpdated = tm.now()

	tm.statsMutex.Lock()
	tm.portfolioStats = stats
	tm.statsMutex.Unlock()
}

func computeStats(trades []*TradeRecord) *PortfolioStats {
	stats := &PortfolioStats{TotalTrades: len(trades)}

	currentWinStreak := 0
	currentLossStreak := 0

	for _, trade := range trades {
		switch {
		case isWin(trade):
			stats.WinningTrades++
			stats.TotalProfit += trade.Profit
			if trade.Profit > stats.LargestWin {
				stats.LargestWin = trade.Profit
			}

			currentWinStreak++
			if currentWinStreak > stats.MaxConsecutiveWins {
				stats.MaxConsecutiveWins = currentWinStreak
			}
			currentLossStreak = 0

		case isLoss(trade):
			stats.LosingTrades++
			loss := math.Abs(trade.Profit)
			stats.TotalLoss += loss
			if loss > stats.LargestLoss {
				stats.LargestLoss = loss
			}

			currentLossStreak++
			if currentLossStreak > stats.MaxConsecutiveLosses {
				stats.MaxConsecutiveLosses = currentLossStreak
			}
			currentWinStreak = 0

		default:
			stats.BreakevenTrades++
			currentWinStreak = 0
			currentLossStreak = 0
		}
	}

	if stats.WinningTrades > 0 {
		stats.AverageProfitPerTrade = stats.TotalProfit / float64(stats.WinningTrades)
	}
	if stats.LosingTrades > 0 {
		stats.AverageLossPerTrade = stats.TotalLoss / float64(stats.LosingTrades)
	}

	stats.WinRate = (float64(stats.WinningTrades) / float64(stats.TotalTrades)) * 100
	stats.NetProfit = stats.TotalProfit - stats.TotalLoss

	if stats.TotalLoss > 0 {
		stats.ProfitFactor = stats.TotalProfit / stats.TotalLoss
	}

	totalDuration := time.Duration(0)
	for _, trade := range trades {
		totalDuration += trade.Duration
	}
	stats.AvgTradeLength = totalDuration / time.Duration(len(trades))

	stats.MaxDrawdown, stats.MaxDrawdownPercent = calculateMaxDrawdown(trades)

	returns := tradeReturns(trades)
	stats.Sharpe = sharpeRatio(returns)
	stats.Sortino = sortinoRatio(returns)
	return stats
}

// calculates maximum drawdown of cumulative realized P&L
func calculateMaxDrawdown(trades []*TradeRecord) (float64, float64) {
	if len(trades) == 0 {
		return 0, 0
	}

	balance := 0.0
	peak := 0.0
	maxDrawdown := 0.0
	maxDrawdownPercent := 0.0

	for _, trade := range trades {
		balance += trade.Profit

		if balance > peak {
			peak = balance
		}

		drawdown := peak - balance
		if drawdown > maxDrawdown {
			maxDrawdown = drawdown
			if peak > 0 {
				maxDrawdownPercent = (drawdown / peak) * 100
			} else {
				maxDrawdownPercent = 0
			}
		}
	}

	return maxDrawdown, maxDrawdownPercent
}

// per-trade returns as profit over stake
func tradeReturns(trades []*TradeRecord) []float64 {
	returns := make([]float64, 0, len(trades))
	for _, t := range trades {
		if t.Stake > 0 {
			returns = append(returns, t.Profit/t.Stake)
		}
	}
	return returns
}

// per-trade Sharpe ratio, not annualized
func sharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 {
		return 0
	}
	return mean / std
}

// per-trade Sortino ratio using downside deviation below zero
func sortinoRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	downside := make([]float64, len(returns))
	for i, r := range returns {
		if r < 0 {
			downside[i] = r * r
		}
	}
	dd := math.Sqrt(stat.Mean(downside, nil))
	if dd == 0 {
		return 0
	}
	return stat.Mean(returns, nil) / dd
}

// ============================================================================
// STATISTICS & REPORTING
// ============================================================================

// returns a copy of the current portfolio statistics
func (tm *Monitor) GetStats() PortfolioStats {
	tm.statsMutex.RLock()
	defer tm.statsMutex.RUnlock()
	return *tm.portfolioStats
}

// returns the newest closed trades, oldest first
func (tm *Monitor) GetTradeHistory(limit int) []*TradeRecord {
	tm.historyMutex.RLock()
	defer tm.historyMutex.RUnlock()

	trades := tm.tradeHistory
	if limit > 0 && len(trades) > limit {
		trades = trades[len(trades)-limit:]
	}
	out := make([]*TradeRecord, len(trades))
	copy(out, trades)
	return out
}

// prints formatted statistics report
func (tm *Monitor) PrintStatsReport() {
	stats := tm.GetStats()

	width := 70
	fmt.Println("\n" + formatting.Separator(width))
	fmt.Println("📈 TRADE STATISTICS REPORT")
	fmt.Println(formatting.Separator(width))
	fmt.Printf("Total Trades:          %d\n", stats.TotalTrades)
	fmt.Printf("Winning Trades:        %d (%.1f%% win rate)\n", stats.WinningTrades, stats.WinRate)
	fmt.Printf("Losing Trades:         %d\n", stats.LosingTrades)
	fmt.Printf("Breakeven Trades:      %d\n", stats.BreakevenTrades)
	fmt.Printf("\n")
	fmt.Printf("Total Profit:          %s\n", formatting.Money(stats.TotalProfit))
	fmt.Printf("Total Loss:            %s\n", formatting.Money(stats.TotalLoss))
	fmt.Printf("Net Profit:            %s\n", formatting.Money(stats.NetProfit))
	fmt.Printf("Profit Factor:         %.2f (revenue/losses ratio)\n", stats.ProfitFactor)
	fmt.Printf("\n")
	fmt.Printf("Avg Profit/Trade:      %s\n", formatting.Money(stats.AverageProfitPerTrade))
	fmt.Printf("Avg Loss/Trade:        %s\n", formatting.Money(stats.AverageLossPerTrade))
	fmt.Printf("Largest Win:           %s\n", formatting.Money(stats.LargestWin))
	fmt.Printf("Largest Loss:          %s\n", formatting.Money(stats.LargestLoss))
	fmt.Printf("\n")
	fmt.Printf("Max Consecutive Wins:  %d\n", stats.MaxConsecutiveWins)
	fmt.Printf("Max Consecutive Losses: %d\n", stats.MaxConsecutiveLosses)
	fmt.Printf("Avg Trade Duration:    %s\n", formatting.Duration(stats.AvgTradeLength))
	fmt.Printf("Sharpe / Sortino:      %.2f / %.2f (per trade)\n", stats.Sharpe, stats.Sortino)
	fmt.Printf("Max Drawdown:          %s (%.2f%%)\n", formatting.Money(stats.MaxDrawdown), stats.MaxDrawdownPercent)
	fmt.Println(formatting.Separator(width) + "\n")
}
