package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-shop-fulfillment/internal/orders"
	"github.com/ariefcatur/go-shop-fulfillment/internal/redisx"
	"github.com/ariefcatur/go-shop-fulfillment/internal/session"
	"github.com/ariefcatur/go-shop-fulfillment/internal/stock"
	"github.com/ariefcatur/go-shop-fulfillment/internal/users"
)

// Handler is the thin entry point the chat layer calls into. All money and
// stock decisions live in the order machine; this layer only decodes,
// rate-limits and maps errors.
type Handler struct {
	Machine  *orders.Machine
	Repo     orders.Repository
	Ledger   stock.Ledger
	Sessions session.Store

	// Redis is optional; without it rate limiting, webhook dedup and the
	// stock-count cache are skipped.
	Redis *redis.Client

	RateLimit int
	Log       *logrus.Entry
}

func (h *Handler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Post("/deposits", h.createDeposit)
	r.Post("/orders/{id}/cancel", h.cancelOrder)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/products", h.listProducts)
	r.Post("/webhooks/payment", h.paymentWebhook)
	r.Get("/sessions/{actor}", h.getSession)
	r.Put("/sessions/{actor}", h.putSession)
	r.Delete("/sessions/{actor}", h.clearSession)
}

type CreateOrderReq struct {
	UserID int64              `json:"user_id"`
	Items  []orders.ItemInput `json:"items"`
	Method string             `json:"method"`
}

type CreateDepositReq struct {
	UserID      int64 `json:"user_id"`
	AmountCents int64 `json:"amount_cents"`
}

type CancelReq struct {
	UserID int64 `json:"user_id"`
}

type OrderResp struct {
	OrderID       string `json:"order_id"`
	InvoiceID     string `json:"invoice_id"`
	Status        string `json:"status"`
	Kind          string `json:"kind"`
	SubtotalCents int64  `json:"subtotal_cents"`
	FeeCents      int64  `json:"fee_cents"`
	TotalCents    int64  `json:"total_cents"`
	Method        string `json:"method"`
	DeadlineAt    string `json:"deadline_at"`
}

// PaymentWebhookReq mirrors the gateway callback payload.
type PaymentWebhookReq struct {
	OrderID     string `json:"order_id"` // invoice reference
	AmountCents int64  `json:"amount_cents"`
	Status      string `json:"status"` // completed | expired | pending
}

func orderResp(o *orders.Order) OrderResp {
	return OrderResp{
		OrderID:       o.ID,
		InvoiceID:     o.InvoiceID,
		Status:        string(o.Status),
		Kind:          string(o.Kind),
		SubtotalCents: o.SubtotalCents,
		FeeCents:      o.FeeCents,
		TotalCents:    o.TotalCents,
		Method:        string(o.Method),
		DeadlineAt:    o.DeadlineAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	var code int
	var tag string
	switch {
	case errors.Is(err, stock.ErrInsufficientStock):
		code, tag = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, orders.ErrPendingOrderExists):
		code, tag = http.StatusConflict, "pending_order_exists"
	case errors.Is(err, orders.ErrNotPending):
		code, tag = http.StatusConflict, "not_pending"
	case errors.Is(err, orders.ErrAmountMismatch):
		code, tag = http.StatusUnprocessableEntity, "amount_mismatch"
	case errors.Is(err, orders.ErrInsufficientBalance):
		code, tag = http.StatusPaymentRequired, "insufficient_balance"
	case errors.Is(err, orders.ErrActorBanned):
		code, tag = http.StatusForbidden, "banned"
	case errors.Is(err, orders.ErrOrderNotFound), errors.Is(err, users.ErrActorNotFound),
		errors.Is(err, orders.ErrProductNotFound):
		code, tag = http.StatusNotFound, "not_found"
	case errors.Is(err, orders.ErrEmptyOrder), errors.Is(err, orders.ErrInvalidQuantity),
		errors.Is(err, orders.ErrInvalidAmount):
		code, tag = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, session.ErrConflict):
		code, tag = http.StatusConflict, "session_conflict"
	default:
		h.logger().WithError(err).Error("request failed")
		code, tag = http.StatusServiceUnavailable, "transient_failure"
	}
	writeJSON(w, code, map[string]string{"error": tag})
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == 0 || len(req.Items) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if !h.allow(ctx, req.UserID, "order") {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
		return
	}

	o, err := h.Machine.CreateOrder(ctx, req.UserID, req.Items, orders.PaymentMethod(req.Method))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	for _, it := range req.Items {
		h.invalidateStockCount(ctx, it.ProductID)
	}
	writeJSON(w, http.StatusCreated, orderResp(o))
}

func (h *Handler) createDeposit(w http.ResponseWriter, r *http.Request) {
	var req CreateDepositReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.UserID == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if !h.allow(ctx, req.UserID, "deposit") {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate_limited"})
		return
	}

	o, err := h.Machine.CreateDeposit(ctx, req.UserID, req.AmountCents)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, orderResp(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	var req CancelReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Machine.Cancel(ctx, orderID, req.UserID); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(orders.StatusCancelled)})
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Repo.GetByID(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orderResp(o))
}

type ProductResp struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Category           string `json:"category"`
	CustomerPriceCents int64  `json:"customer_price_cents"`
	ResellerPriceCents int64  `json:"reseller_price_cents,omitempty"`
	SoldCount          int64  `json:"sold_count"`
	FreeStock          int    `json:"free_stock"`
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Repo.ListProducts(ctx)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	out := make([]ProductResp, 0, len(ps))
	for _, p := range ps {
		out = append(out, ProductResp{
			ID:                 p.ID,
			Name:               p.Name,
			Category:           p.Category,
			CustomerPriceCents: p.CustomerPriceCents,
			ResellerPriceCents: p.ResellerPriceCents,
			SoldCount:          p.SoldCount,
			FreeStock:          h.freeStock(ctx, p.ID),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) paymentWebhook(w http.ResponseWriter, r *http.Request) {
	var req PaymentWebhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.OrderID == "" || req.Status == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing fields"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// fast-path dedup for gateway redeliveries; ConfirmPayment is
	// idempotent anyway, DB stays the source of truth
	if h.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyWebhookDedup, req.OrderID, req.Status)
		if ok, _ := redisx.Exists(ctx, h.Redis, dkey); ok {
			writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate"})
			return
		}
		_ = h.Redis.Set(ctx, dkey, "1", redisx.TTLDedup).Err()
	}

	switch req.Status {
	case "completed":
		if err := h.Machine.ConfirmPayment(ctx, req.OrderID, req.AmountCents); err != nil {
			h.writeErr(w, err)
			return
		}
	case "expired", "pending":
		// expiry is owned by the scheduler; gateway notices are informational
		h.logger().WithFields(logrus.Fields{"invoice": req.OrderID, "status": req.Status}).
			Info("gateway status notice")
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown status"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	actorID, err := strconv.ParseInt(chi.URLParam(r, "actor"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad actor id"})
		return
	}
	s, err := h.Sessions.Get(r.Context(), actorID)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	if s == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

type PutSessionReq struct {
	Flow            string `json:"flow"`
	ProductID       int64  `json:"product_id,omitempty"`
	Quantity        int    `json:"quantity,omitempty"`
	OrderID         string `json:"order_id,omitempty"`
	ExpectedVersion int64  `json:"expected_version,omitempty"`
}

func (h *Handler) putSession(w http.ResponseWriter, r *http.Request) {
	actorID, err := strconv.ParseInt(chi.URLParam(r, "actor"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad actor id"})
		return
	}
	var req PutSessionReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	s := session.Session{
		Flow:      req.Flow,
		ProductID: req.ProductID,
		Quantity:  req.Quantity,
		OrderID:   req.OrderID,
	}
	if req.ExpectedVersion != 0 {
		err = h.Sessions.CompareAndReplace(r.Context(), actorID, s, req.ExpectedVersion)
	} else {
		err = h.Sessions.Replace(r.Context(), actorID, s)
	}
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) clearSession(w http.ResponseWriter, r *http.Request) {
	actorID, err := strconv.ParseInt(chi.URLParam(r, "actor"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad actor id"})
		return
	}
	if err := h.Sessions.Clear(r.Context(), actorID); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) allow(ctx context.Context, actorID int64, action string) bool {
	if h.Redis == nil || h.RateLimit <= 0 {
		return true
	}
	ok, err := redisx.Allow(ctx, h.Redis, actorID, action, h.RateLimit, time.Minute)
	if err != nil {
		// rate limiting is advisory; fail open
		h.logger().WithError(err).Warn("rate limiter unavailable")
		return true
	}
	return ok
}

func (h *Handler) freeStock(ctx context.Context, productID int64) int {
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyStockCount, productID)
		if n, err := h.Redis.Get(ctx, key).Int(); err == nil {
			return n
		}
	}
	n, err := h.Ledger.CountFree(ctx, productID)
	if err != nil {
		h.logger().WithError(err).WithField("product_id", productID).Warn("count free stock")
		return 0
	}
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyStockCount, productID)
		_ = h.Redis.Set(ctx, key, n, redisx.TTLStockCache).Err()
	}
	return n
}

func (h *Handler) invalidateStockCount(ctx context.Context, productID int64) {
	if h.Redis == nil {
		return
	}
	_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyStockCount, productID)).Err()
}

func (h *Handler) logger() *logrus.Entry {
	if h.Log != nil {
		return h.Log
	}
	return logrus.WithField("component", "http")
}
