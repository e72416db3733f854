package datafeed

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/fazecat/signalpilot/Internal/types"
)

// TradeJournal persists every AutoTrade transition
type TradeJournal struct {
	db     *sql.DB
	driver string
	logger *logrus.Logger
}

func NewTradeJournal(db *sql.DB, driver string, logger *logrus.Logger) *TradeJournal {
	return &TradeJournal{db: db, driver: driver, logger: logger}
}

func (j *TradeJournal) Close() error {
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}

func (j *TradeJournal) HealthCheck(ctx context.Context) error {
	if j.db == nil {
		return fmt.Errorf("database connection is nil")
	}
	return j.db.PingContext(ctx)
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t.UTC(), Valid: !t.IsZero()}
}

func money(v float64) string {
	return decimal.NewFromFloat(v).String()
}

// SaveTrade upserts the current state of a trade keyed by its trade id
func (j *TradeJournal) SaveTrade(ctx context.Context, trade *types.AutoTrade) error {
	if j == nil || j.db == nil {
		return fmt.Errorf("trade journal not initialized")
	}

	query := rebind(j.driver, `
	INSERT INTO auto_trades (
		trade_id, platform_trade_id, asset, direction, amount, signal_strength,
		entry_price, exit_price, profit, outcome, status, error,
		created_at, entry_time, expiry_time, closed_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (trade_id) DO UPDATE SET
		platform_trade_id = excluded.platform_trade_id,
		entry_price = excluded.entry_price,
		exit_price = excluded.exit_price,
		profit = excluded.profit,
		outcome = excluded.outcome,
		status = excluded.status,
		error = excluded.error,
		entry_time = excluded.entry_time,
		expiry_time = excluded.expiry_time,
		closed_at = excluded.closed_at`)

	_, err := j.db.ExecContext(ctx, query,
		trade.ID,
		trade.PlatformTradeID,
		trade.Asset,
		string(trade.Direction),
		money(trade.Amount),
		trade.SignalStrength,
		money(trade.EntryPrice),
		money(trade.ExitPrice),
		money(trade.Profit),
		string(trade.Outcome),
		string(trade.Status),
		trade.Error,
		trade.CreatedAt.UTC(),
		nullTime(trade.EntryTime),
		nullTime(trade.ExpiryTime),
		nullTime(trade.ClosedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save trade %s: %w", trade.ID, err)
	}

	j.logger.WithFields(logrus.Fields{
		"trade_id": trade.ID,
		"asset":    trade.Asset,
		"status":   trade.Status,
	}).Debug("Trade journaled")
	return nil
}

// TradeRow is one journal entry with decimal amounts
type TradeRow struct {
	TradeID         string
	PlatformTradeID string
	Asset           string
	Direction       string
	Amount          decimal.Decimal
	SignalStrength  float64
	EntryPrice      decimal.Decimal
	ExitPrice       decimal.Decimal
	Profit          decimal.Decimal
	Outcome         string
	Status          string
	Error           string
	CreatedAt       time.Time
	EntryTime       sql.NullTime
	ExpiryTime      sql.NullTime
	ClosedAt        sql.NullTime
}

// GetTradeHistory returns newest-first trades, all assets when asset is empty
func (j *TradeJournal) GetTradeHistory(ctx context.Context, asset string, limit int) ([]TradeRow, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT trade_id, platform_trade_id, asset, direction, amount, signal_strength,
		entry_price, exit_price, profit, outcome, status, error,
		created_at, entry_time, expiry_time, closed_at
	FROM auto_trades`
	args := []interface{}{}
	if asset != "" {
		query += " WHERE asset = ?"
		args = append(args, asset)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, rebind(j.driver, query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trade history: %w", err)
	}
	defer rows.Close()

	var trades []TradeRow
	for rows.Next() {
		var (
			row                               TradeRow
			platformID, outcome, errText      sql.NullString
			amount, entry, exit, profitString sql.NullString
		)
		if err := rows.Scan(
			&row.TradeID, &platformID, &row.Asset, &row.Direction, &amount, &row.SignalStrength,
			&entry, &exit, &profitString, &outcome, &row.Status, &errText,
			&row.CreatedAt, &row.EntryTime, &row.ExpiryTime, &row.ClosedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		row.PlatformTradeID = platformID.String
		row.Outcome = outcome.String
		row.Error = errText.String
		row.Amount = parseDecimal(amount)
		row.EntryPrice = parseDecimal(entry)
		row.ExitPrice = parseDecimal(exit)
		row.Profit = parseDecimal(profitString)
		trades = append(trades, row)
	}
	return trades, rows.Err()
}

func parseDecimal(s sql.NullString) decimal.Decimal {
	if !s.Valid || s.String == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return decimal.Zero
	}
	return d
}

type DailySummary struct {
	Day         time.Time
	TotalTrades int
	Counted     int // trades that still count against the daily limit
	Closed      int
	Wins        int
	Losses      int
	NetProfit   decimal.Decimal
	GrossLoss   decimal.Decimal
	WinRate     float64
}

// GetDailySummary aggregates trades created on the given UTC day
func (j *TradeJournal) GetDailySummary(ctx context.Context, day time.Time) (*DailySummary, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	query := rebind(j.driver, `
	SELECT status, outcome, profit FROM auto_trades
	WHERE created_at >= ? AND created_at < ?`)
	rows, err := j.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch daily trades: %w", err)
	}
	defer rows.Close()

	summary := &DailySummary{Day: start, NetProfit: decimal.Zero, GrossLoss: decimal.Zero}
	for rows.Next() {
		var status string
		var outcome, profit sql.NullString
		if err := rows.Scan(&status, &outcome, &profit); err != nil {
			return nil, fmt.Errorf("failed to scan daily trade: %w", err)
		}
		summary.TotalTrades++
		if status != string(types.TradeFailed) && status != string(types.TradeCancelled) {
			summary.Counted++
		}
		if status != string(types.TradeClosed) {
			continue
		}
		summary.Closed++
		p := parseDecimal(profit)
		summary.NetProfit = summary.NetProfit.Add(p)
		if p.IsNegative() {
			summary.GrossLoss = summary.GrossLoss.Sub(p)
		}
		switch types.TradeOutcome(outcome.String) {
		case types.OutcomeWin:
			summary.Wins++
		case types.OutcomeLoss:
			summary.Losses++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if summary.Closed > 0 {
		summary.WinRate = float64(summary.Wins) / float64(summary.Closed) * 100
	}
	return summary, nil
}
