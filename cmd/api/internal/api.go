package internal

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/fazecat/signalpilot/Internal/app"
	datafeed "github.com/fazecat/signalpilot/Internal/database"
	"github.com/fazecat/signalpilot/Internal/handlers/monitoring"
	"github.com/fazecat/signalpilot/Internal/handlers/settings"
	"github.com/fazecat/signalpilot/Internal/handlers/trader"
	"github.com/fazecat/signalpilot/Internal/pipeline"
)

type API struct {
	App           *app.App
	Settings      *settings.Handler
	JWTManager    *JWTManager
	Hub           *EventHub
	AdminUser     string
	AdminPassword string

	// lifetime of a pipeline started over HTTP, detached from any request
	RunContext context.Context
}

// NewRouter mounts every route; protected routes need a bearer token
func NewRouter(api *API) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(api.App.Logger))
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", api.HandleHealth)
	r.Post("/api/auth/token", api.HandleGenerateToken)

	// Public routes
	r.Get("/api/status", api.HandleGetStatus)
	r.Get("/api/events", api.HandleGetEvents)
	r.Get("/api/trades/active", api.HandleGetActiveTrades)
	r.Get("/api/trades/closed", api.HandleGetClosedTrades)
	r.Get("/api/trades/history", api.HandleGetTradeHistory)
	r.Get("/api/risk", api.HandleGetRiskStatus)
	r.Get("/api/stats", api.HandleGetStats)
	r.Get("/api/settings", api.Settings.HandleGetSettings)

	if api.Hub != nil {
		r.Get("/ws/events", api.Hub.HandleWebSocket(api.App.Bus.History))
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(api.JWTManager))
		r.Post("/api/pipeline/start", api.HandleStartPipeline)
		r.Post("/api/pipeline/stop", api.HandleStopPipeline)
		r.Post("/api/trading/start", api.HandleStartTrading)
		r.Post("/api/trading/stop", api.HandleStopTrading)
		r.Post("/api/trades/{id}/cancel", api.HandleCancelTrade)
		r.Put("/api/settings", api.Settings.HandleUpdateSettings)
	})

	return r
}

func queryLimit(r *http.Request, def int) int {
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

func (api *API) HandleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !api.App.MarketData.IsConnected() {
		status = "degraded"
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"pipeline": api.App.Pipeline.IsRunning(),
		"trading":  api.App.Trader.IsRunning(),
	})
}

func (api *API) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pipeline":      api.App.Pipeline.Status(),
		"trading":       api.App.Trader.IsRunning(),
		"active_trades": api.App.Trader.ActiveCount(),
		"realized_pnl":  api.App.Trader.RealizedPnL(),
	})
}

func (api *API) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.App.Bus.History(queryLimit(r, 50)))
}

func (api *API) HandleGetActiveTrades(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.App.Trader.ActiveTrades())
}

func (api *API) HandleGetClosedTrades(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, api.App.Trader.ClosedTrades(queryLimit(r, 50)))
}

func (api *API) HandleGetTradeHistory(w http.ResponseWriter, r *http.Request) {
	if api.App.Journal == nil {
		WriteError(w, http.StatusServiceUnavailable, "Trade journal is not configured")
		return
	}
	rows, err := api.App.Journal.GetTradeHistory(r.Context(), r.URL.Query().Get("asset"), queryLimit(r, 50))
	if err != nil {
		api.App.Logger.WithError(err).Error("Error fetching trade history")
		WriteError(w, http.StatusInternalServerError, "Failed to fetch trades")
		return
	}
	WriteJSON(w, http.StatusOK, formatJournalRows(rows))
}

func formatJournalRows(rows []datafeed.TradeRow) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(rows))
	for _, row := range rows {
		out = append(out, map[string]interface{}{
			"trade_id":          row.TradeID,
			"platform_trade_id": row.PlatformTradeID,
			"asset":             row.Asset,
			"direction":         row.Direction,
			"amount":            row.Amount.StringFixed(2),
			"signal_strength":   row.SignalStrength,
			"entry_price":       row.EntryPrice.String(),
			"exit_price":        row.ExitPrice.String(),
			"profit":            row.Profit.StringFixed(2),
			"outcome":           row.Outcome,
			"status":            row.Status,
			"error":             row.Error,
			"created_at":        row.CreatedAt.UTC(),
		})
	}
	return out
}

func (api *API) HandleGetRiskStatus(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"report": api.App.Risk.GenerateReport(api.App.Trader.ActiveCount()),
		"daily":  api.App.Risk.DailyStats(),
		"events": api.App.Risk.GetRiskEvents(queryLimit(r, 20)),
	})
}

func (api *API) HandleGetStats(w http.ResponseWriter, r *http.Request) {
	history := api.App.Monitor.GetTradeHistory(0)
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"portfolio": api.App.Monitor.GetStats(),
		"by_asset":  monitoring.SummarizeByAsset(history),
		"pipeline":  api.App.Pipeline.Metrics(),
		"recent":    monitoring.FormatTradeRecordsAsJSON(api.App.Monitor.GetTradeHistory(queryLimit(r, 20))),
	})
}

func (api *API) HandleStartPipeline(w http.ResponseWriter, r *http.Request) {
	ctx := api.RunContext
	if ctx == nil {
		ctx = context.Background()
	}
	if api.App.Pipeline.IsRunning() {
		WriteError(w, http.StatusConflict, pipeline.ErrAlreadyRunning.Error())
		return
	}
	if err := api.App.StartPipeline(ctx); err != nil {
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, api.App.Pipeline.Status())
}

func (api *API) HandleStopPipeline(w http.ResponseWriter, r *http.Request) {
	if err := api.App.Pipeline.Stop(); err != nil {
		if errors.Is(err, pipeline.ErrNotRunning) {
			WriteError(w, http.StatusConflict, err.Error())
			return
		}
		WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, api.App.Pipeline.Status())
}

func (api *API) HandleStartTrading(w http.ResponseWriter, r *http.Request) {
	api.App.StartTrading()
	WriteJSON(w, http.StatusOK, map[string]bool{"trading": true})
}

func (api *API) HandleStopTrading(w http.ResponseWriter, r *http.Request) {
	api.App.StopTrading()
	WriteJSON(w, http.StatusOK, map[string]bool{"trading": false})
}

func (api *API) HandleCancelTrade(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	trade, err := api.App.Trader.Cancel(r.Context(), id)
	switch {
	case errors.Is(err, trader.ErrTradeNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, trader.ErrNotCancellable):
		WriteError(w, http.StatusConflict, err.Error())
	case err != nil:
		WriteError(w, http.StatusInternalServerError, err.Error())
	default:
		WriteJSON(w, http.StatusOK, trade)
	}
}
