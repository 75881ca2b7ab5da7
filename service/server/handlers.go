package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brojonat/mintmarket/service/journal"
	"github.com/brojonat/mintmarket/service/market"
	"github.com/brojonat/mintmarket/service/temporal"
)

const (
	maxRequestBodySize = 1 << 20 // 1MB
	minResyncInterval  = 10 * time.Second
	maxResyncInterval  = 24 * time.Hour
)

// MarketService is the market facade the handlers drive.
type MarketService interface {
	Snapshot() market.Snapshot
	Connect(ctx context.Context) (market.Account, error)
	Refresh(ctx context.Context, views ...market.View) error
	Mint(ctx context.Context, cid string) (*market.Result, error)
	List(ctx context.Context, id market.TokenID, price market.Price) (*market.Result, error)
	Delist(ctx context.Context, id market.TokenID) (*market.Result, error)
	Buy(ctx context.Context, id market.TokenID, payment market.Price) (*market.Result, error)
	BuyListed(ctx context.Context, id market.TokenID) (*market.Result, error)
}

// HistoryStore is the read side of the operation journal.
type HistoryStore interface {
	Get(ctx context.Context, id string) (market.OperationRecord, error)
	List(ctx context.Context, params journal.ListParams) ([]market.OperationRecord, error)
}

// operationResponse is returned by every write endpoint.
type operationResponse struct {
	Operation    market.OperationRecord `json:"operation"`
	RefreshError string                 `json:"refresh_error,omitempty"`
}

// handleGetSession returns a handler that reports the session snapshot.
// GET /api/v1/session
func handleGetSession(mkt MarketService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, mkt.Snapshot(), http.StatusOK)
	})
}

// handleConnect returns a handler that (re)connects the signing account and
// loads both views.
// POST /api/v1/session
func handleConnect(mkt MarketService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := mkt.Connect(r.Context())
		if err != nil && account.IsZero() {
			writeMarketError(w, r, logger, "connect", err)
			return
		}
		if err != nil {
			// Connected, but the initial load failed; the snapshot shows what is known.
			logger.WarnContext(r.Context(), "initial view load failed", "account", account, "error", err)
		}
		writeJSON(w, mkt.Snapshot(), http.StatusOK)
	})
}

// handleGetCatalog returns a handler that lists tokens for sale.
// GET /api/v1/catalog
func handleGetCatalog(mkt MarketService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := mkt.Snapshot()
		writeJSON(w, map[string]interface{}{
			"catalog":    snap.ForSaleCatalog,
			"updated_at": snap.CatalogUpdatedAt,
		}, http.StatusOK)
	})
}

// handleGetTokens returns a handler that lists the connected account's tokens.
// GET /api/v1/tokens
func handleGetTokens(mkt MarketService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := mkt.Snapshot()
		if !snap.Connected() {
			writeError(w, market.ErrNotConnected.Error(), http.StatusPreconditionFailed)
			return
		}
		writeJSON(w, map[string]interface{}{
			"account":    snap.Account,
			"tokens":     snap.MyTokens,
			"updated_at": snap.TokensUpdatedAt,
		}, http.StatusOK)
	})
}

// handleRefresh returns a handler that rebuilds views on demand.
// POST /api/v1/refresh {"views": ["for_sale_catalog"]}
func handleRefresh(mkt MarketService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Views []market.View `json:"views"`
		}
		if r.ContentLength != 0 {
			if !decodeBody(w, r, logger, &req) {
				return
			}
		}
		for _, v := range req.Views {
			if v != market.ViewForSaleCatalog && v != market.ViewMyTokens {
				writeError(w, fmt.Sprintf("unknown view %q", v), http.StatusBadRequest)
				return
			}
		}

		if err := mkt.Refresh(r.Context(), req.Views...); err != nil {
			writeMarketError(w, r, logger, "refresh", err)
			return
		}
		writeJSON(w, mkt.Snapshot(), http.StatusOK)
	})
}

// handleMint returns a handler that mints a token for the connected account.
// POST /api/v1/mint {"cid": "..."}
func handleMint(mkt MarketService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			CID string `json:"cid"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if strings.TrimSpace(req.CID) == "" {
			writeError(w, "cid is required", http.StatusBadRequest)
			return
		}

		runOperation(w, r, logger, "mint", func(ctx context.Context) (*market.Result, error) {
			return mkt.Mint(ctx, strings.TrimSpace(req.CID))
		})
	})
}

// handleList returns a handler that offers a token for sale.
// POST /api/v1/listings {"token_id": 3, "price": "0.25"}
func handleList(mkt MarketService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TokenID *market.TokenID `json:"token_id"`
			Price   string          `json:"price"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if req.TokenID == nil {
			writeError(w, "token_id is required", http.StatusBadRequest)
			return
		}
		price, err := market.ParsePrice(req.Price)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		id := *req.TokenID
		runOperation(w, r, logger, "list", func(ctx context.Context) (*market.Result, error) {
			return mkt.List(ctx, id, price)
		})
	})
}

// handleDelist returns a handler that withdraws a token from sale.
// DELETE /api/v1/listings/{token_id}
func handleDelist(mkt MarketService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := market.ParseTokenID(r.PathValue("token_id"))
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		runOperation(w, r, logger, "delist", func(ctx context.Context) (*market.Result, error) {
			return mkt.Delist(ctx, id)
		})
	})
}

// handleBuy returns a handler that purchases a listed token. Without a price
// the catalog's current price is paid.
// POST /api/v1/purchases {"token_id": 3, "price": "0.25"}
func handleBuy(mkt MarketService, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TokenID *market.TokenID `json:"token_id"`
			Price   string          `json:"price,omitempty"`
		}
		if !decodeBody(w, r, logger, &req) {
			return
		}
		if req.TokenID == nil {
			writeError(w, "token_id is required", http.StatusBadRequest)
			return
		}

		id := *req.TokenID
		if req.Price == "" {
			runOperation(w, r, logger, "buy", func(ctx context.Context) (*market.Result, error) {
				return mkt.BuyListed(ctx, id)
			})
			return
		}

		price, err := market.ParsePrice(req.Price)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		runOperation(w, r, logger, "buy", func(ctx context.Context) (*market.Result, error) {
			return mkt.Buy(ctx, id, price)
		})
	})
}

// handleListOperations returns a handler that lists journaled operations.
// GET /api/v1/operations?account=&tag=&status=&limit=
func handleListOperations(history HistoryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		params := journal.ListParams{
			Account: market.Account(q.Get("account")),
			Tag:     market.OperationTag(q.Get("tag")),
			Status:  market.OperationStatus(q.Get("status")),
		}

		if params.Tag != "" && !params.Tag.Valid() {
			writeError(w, fmt.Sprintf("unknown tag %q", params.Tag), http.StatusBadRequest)
			return
		}
		if params.Status != "" {
			if err := validateStatus(params.Status); err != nil {
				writeError(w, err.Error(), http.StatusBadRequest)
				return
			}
		}
		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit <= 0 || limit > journal.MaxListLimit {
				writeError(w, fmt.Sprintf("invalid limit: must be between 1 and %d", journal.MaxListLimit), http.StatusBadRequest)
				return
			}
			params.Limit = limit
		}

		ops, err := history.List(r.Context(), params)
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to list operations", "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}

		logger.DebugContext(r.Context(), "operations listed", "count", len(ops))
		writeJSON(w, map[string]interface{}{
			"operations": ops,
		}, http.StatusOK)
	})
}

// handleGetOperation returns a handler that reports one journaled operation.
// GET /api/v1/operations/{id}
func handleGetOperation(history HistoryStore, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		rec, err := history.Get(r.Context(), id)
		if errors.Is(err, journal.ErrNotFound) {
			writeError(w, "operation not found", http.StatusNotFound)
			return
		}
		if err != nil {
			logger.ErrorContext(r.Context(), "failed to get operation", "operation_id", id, "error", err)
			writeError(w, "internal server error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, rec, http.StatusOK)
	})
}

// handleUpsertResync returns a handler that schedules background resyncs for
// the connected account.
// PUT /api/v1/resync {"interval": "1m"}
func handleUpsertResync(mkt MarketService, scheduler temporal.Scheduler, defaultInterval time.Duration, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Interval string `json:"interval"`
		}
		if r.ContentLength != 0 {
			if !decodeBody(w, r, logger, &req) {
				return
			}
		}

		interval := defaultInterval
		if req.Interval != "" {
			parsed, err := time.ParseDuration(req.Interval)
			if err != nil {
				writeError(w, "invalid interval: must be a valid duration (e.g. '30s', '1m')", http.StatusBadRequest)
				return
			}
			interval = parsed
		}
		if err := validateResyncInterval(interval); err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}

		account := mkt.Snapshot().Account
		if account.IsZero() {
			writeError(w, market.ErrNotConnected.Error(), http.StatusPreconditionFailed)
			return
		}

		if err := scheduler.UpsertResyncSchedule(r.Context(), account, interval); err != nil {
			logger.ErrorContext(r.Context(), "failed to upsert resync schedule", "account", account, "error", err)
			writeError(w, "failed to schedule resync", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "resync scheduled", "account", account, "interval", interval)
		writeJSON(w, map[string]interface{}{
			"account":  account,
			"interval": interval.String(),
		}, http.StatusOK)
	})
}

// handleDeleteResync returns a handler that stops background resyncs.
// DELETE /api/v1/resync
func handleDeleteResync(mkt MarketService, scheduler temporal.Scheduler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account := mkt.Snapshot().Account
		if account.IsZero() {
			writeError(w, market.ErrNotConnected.Error(), http.StatusPreconditionFailed)
			return
		}

		if err := scheduler.DeleteResyncSchedule(r.Context(), account); err != nil {
			logger.ErrorContext(r.Context(), "failed to delete resync schedule", "account", account, "error", err)
			writeError(w, "failed to delete resync schedule", http.StatusInternalServerError)
			return
		}

		logger.InfoContext(r.Context(), "resync unscheduled", "account", account)
		w.WriteHeader(http.StatusNoContent)
	})
}

// runOperation executes a write and reports its outcome. The write is
// detached from the request context; the coordinator's confirm timeout
// bounds it.
func runOperation(w http.ResponseWriter, r *http.Request, logger *slog.Logger, action string, run func(context.Context) (*market.Result, error)) {
	// Confirmation can outlast the server's write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	result, err := run(context.WithoutCancel(r.Context()))
	if err != nil {
		writeMarketError(w, r, logger, action, err)
		return
	}

	resp := operationResponse{Operation: result.Operation}
	if result.RefreshErr != nil {
		resp.RefreshError = result.RefreshErr.Error()
		logger.WarnContext(r.Context(), "operation confirmed but view refresh failed",
			"operation_id", result.Operation.ID,
			"error", result.RefreshErr,
		)
	}
	writeJSON(w, resp, http.StatusOK)
}

// statusForError maps market errors onto HTTP status codes.
func statusForError(err error) int {
	var (
		gatewayErr *market.GatewayError
		readErr    *market.ReadError
	)
	switch {
	case errors.Is(err, market.ErrNotConnected), errors.Is(err, market.ErrNoWallet):
		return http.StatusPreconditionFailed
	case errors.Is(err, market.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, market.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &gatewayErr), errors.As(err, &readErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeMarketError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, action string, err error) {
	status := statusForError(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "market action failed", "action", action, "status", status, "error", err)
	} else {
		logger.DebugContext(r.Context(), "market action rejected", "action", action, "status", status, "error", err)
	}
	if status == http.StatusInternalServerError {
		writeError(w, "internal server error", status)
		return
	}
	writeError(w, err.Error(), status)
}

// decodeBody decodes a size-limited JSON body into dst, writing a 400 on
// failure. It reports whether decoding succeeded.
func decodeBody(w http.ResponseWriter, r *http.Request, logger *slog.Logger, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		logger.DebugContext(r.Context(), "failed to decode request", "error", err)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, "request body too large: maximum size is 1MB", http.StatusBadRequest)
			return false
		}
		writeError(w, "invalid request body: must be valid JSON", http.StatusBadRequest)
		return false
	}
	return true
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]string{
		"error": message,
	})
}

func validateStatus(status market.OperationStatus) error {
	switch status {
	case market.StatusPending, market.StatusConfirmed, market.StatusFailed, market.StatusTimeout:
		return nil
	default:
		return fmt.Errorf("unknown status %q", status)
	}
}

func validateResyncInterval(interval time.Duration) error {
	if interval < minResyncInterval {
		return fmt.Errorf("interval too short: minimum is %v", minResyncInterval)
	}
	if interval > maxResyncInterval {
		return fmt.Errorf("interval too long: maximum is %v", maxResyncInterval)
	}
	return nil
}
