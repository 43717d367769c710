package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
	"github.com/rl1809/inventory-ledger/internal/core/service"
)

// HTTPHandler is a thin JSON surface over the engine: allocation,
// reservations, wallet operations and the payment-gateway result callbacks.
// Routing, auth and anything else belongs to the application embedding the
// engine.
type HTTPHandler struct {
	allocations  *service.AllocationService
	reservations *service.ReservationService
	wallets      *service.WalletService
	transactions *service.TransactionService
	logger       *zap.Logger
}

func NewHTTPHandler(
	allocations *service.AllocationService,
	reservations *service.ReservationService,
	wallets *service.WalletService,
	transactions *service.TransactionService,
	logger *zap.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		allocations:  allocations,
		reservations: reservations,
		wallets:      wallets,
		transactions: transactions,
		logger:       logger,
	}
}

// Register installs all engine routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthCheck)
	mux.HandleFunc("/api/allocate", h.Allocate)
	mux.HandleFunc("/api/reservations/reserve", h.reservationOp(h.reservations.Reserve))
	mux.HandleFunc("/api/reservations/release", h.reservationOp(h.reservations.Release))
	mux.HandleFunc("/api/reservations/confirm", h.reservationOp(h.reservations.Confirm))
	mux.HandleFunc("/api/wallets", h.CreateWallet)
	mux.HandleFunc("/api/wallets/deposit", h.Deposit)
	mux.HandleFunc("/api/wallets/withdraw", h.Withdraw)
	mux.HandleFunc("/api/wallets/transfer", h.Transfer)
	mux.HandleFunc("/api/transactions", h.CreateTransaction)
	mux.HandleFunc("/api/transactions/success", h.MarkSuccess)
	mux.HandleFunc("/api/transactions/failed", h.MarkFailed)
}

type cartLineRequest struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type allocateRequest struct {
	Actor   string            `json:"actor"`
	OrderID string            `json:"order_id"`
	Lines   []cartLineRequest `json:"lines"`
}

type lineItemResponse struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}

type allocateResponse struct {
	Items     []lineItemResponse `json:"items"`
	Shortages []domain.Shortage  `json:"shortages,omitempty"`
}

func (h *HTTPHandler) Allocate(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req allocateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	orderID, err := uuid.Parse(req.OrderID)
	if err != nil || req.Actor == "" || len(req.Lines) == 0 {
		writeError(w, http.StatusBadRequest, "missing required fields")
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, l := range req.Lines {
		price, err := decimal.NewFromString(l.UnitPrice)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid unit price")
			return
		}
		lines = append(lines, domain.CartLine{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: price})
	}

	items, shortages, err := h.allocations.Allocate(r.Context(), req.Actor, orderID, lines)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := allocateResponse{Shortages: shortages}
	for _, item := range items {
		resp.Items = append(resp.Items, lineItemResponse{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type reservationRequest struct {
	OrderID string `json:"order_id"`
	Lines   []struct {
		ProductID int64 `json:"product_id"`
		Quantity  int   `json:"quantity"`
	} `json:"lines"`
}

func (h *HTTPHandler) reservationOp(op func(ctx context.Context, order domain.Order) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !requirePost(w, r) {
			return
		}

		var req reservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		orderID, err := uuid.Parse(req.OrderID)
		if err != nil || len(req.Lines) == 0 {
			writeError(w, http.StatusBadRequest, "missing required fields")
			return
		}

		order := domain.Order{ID: orderID}
		for _, l := range req.Lines {
			order.Lines = append(order.Lines, domain.OrderLine{ProductID: l.ProductID, Quantity: l.Quantity})
		}

		if err := op(r.Context(), order); err != nil {
			h.writeEngineError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"order_id": orderID.String()})
	}
}

type createWalletRequest struct {
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
}

type walletResponse struct {
	ID        string `json:"id"`
	OwnerType string `json:"owner_type"`
	OwnerID   string `json:"owner_id"`
	Balance   string `json:"balance"`
}

func (h *HTTPHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
	case http.MethodGet:
		h.getWallet(w, r)
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createWalletRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	ownerID, err := uuid.Parse(req.OwnerID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid owner id")
		return
	}

	wallet, err := h.wallets.CreateWallet(r.Context(), domain.OwnerType(req.OwnerType), ownerID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, walletToResponse(wallet))
}

func (h *HTTPHandler) getWallet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}
	wallet, err := h.wallets.Wallet(r.Context(), id)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, walletToResponse(wallet))
}

func walletToResponse(w *domain.Wallet) walletResponse {
	return walletResponse{
		ID:        w.ID.String(),
		OwnerType: string(w.OwnerType),
		OwnerID:   w.OwnerID.String(),
		Balance:   w.Balance.String(),
	}
}

type walletMutationRequest struct {
	WalletID    string `json:"wallet_id"`
	Amount      string `json:"amount"`
	Description string `json:"description"`
}

type ledgerEntryResponse struct {
	ID            string `json:"id"`
	WalletID      string `json:"wallet_id"`
	Amount        string `json:"amount"`
	BalanceAfter  string `json:"balance_after"`
	IsCredit      bool   `json:"is_credit"`
	TransactionID string `json:"transaction_id,omitempty"`
}

func (h *HTTPHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	h.walletMutation(w, r, h.wallets.Deposit)
}

func (h *HTTPHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	h.walletMutation(w, r, h.wallets.Withdraw)
}

func (h *HTTPHandler) walletMutation(w http.ResponseWriter, r *http.Request,
	op func(ctx context.Context, walletID uuid.UUID, amount decimal.Decimal, description string) (*domain.LedgerEntry, error)) {

	if !requirePost(w, r) {
		return
	}

	var req walletMutationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	entry, err := op(r.Context(), walletID, amount, req.Description)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := ledgerEntryResponse{
		ID:           entry.ID.String(),
		WalletID:     entry.WalletID.String(),
		Amount:       entry.Amount.String(),
		BalanceAfter: entry.BalanceAfter.String(),
		IsCredit:     entry.IsCredit,
	}
	if entry.TransactionID != nil {
		resp.TransactionID = entry.TransactionID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

type transferRequest struct {
	FromWalletID string `json:"from_wallet_id"`
	ToWalletID   string `json:"to_wallet_id"`
	Amount       string `json:"amount"`
	Description  string `json:"description"`
}

func (h *HTTPHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req transferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	fromID, err := uuid.Parse(req.FromWalletID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source wallet id")
		return
	}
	toID, err := uuid.Parse(req.ToWalletID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid destination wallet id")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}

	if err := h.wallets.Transfer(r.Context(), fromID, toID, amount, req.Description); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "transferred"})
}

type createTransactionRequest struct {
	Type     string `json:"type"`
	WalletID string `json:"wallet_id"`
	Amount   string `json:"amount"`
	OrderID  string `json:"order_id,omitempty"`
}

type transactionResponse struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Status   string `json:"status"`
	WalletID string `json:"wallet_id"`
	Amount   string `json:"amount"`
	OrderID  string `json:"order_id,omitempty"`
}

func (h *HTTPHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	if !requirePost(w, r) {
		return
	}

	var req createTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	walletID, err := uuid.Parse(req.WalletID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid wallet id")
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid amount")
		return
	}
	var orderID *uuid.UUID
	if req.OrderID != "" {
		parsed, err := uuid.Parse(req.OrderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid order id")
			return
		}
		orderID = &parsed
	}

	t, err := h.transactions.Create(r.Context(), domain.TransactionType(req.Type), walletID, amount, orderID)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}

	resp := transactionResponse{
		ID:       t.ID.String(),
		Type:     string(t.Type),
		Status:   string(t.Status),
		WalletID: t.WalletID.String(),
		Amount:   t.Amount.String(),
	}
	if t.OrderID != nil {
		resp.OrderID = t.OrderID.String()
	}
	writeJSON(w, http.StatusCreated, resp)
}

type gatewayCallbackRequest struct {
	TransactionID string `json:"transaction_id"`
}

func (h *HTTPHandler) MarkSuccess(w http.ResponseWriter, r *http.Request) {
	h.gatewayCallback(w, r, h.transactions.MarkSuccess)
}

func (h *HTTPHandler) MarkFailed(w http.ResponseWriter, r *http.Request) {
	h.gatewayCallback(w, r, h.transactions.MarkFailed)
}

func (h *HTTPHandler) gatewayCallback(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error) {
	if !requirePost(w, r) {
		return
	}

	var req gatewayCallbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := uuid.Parse(req.TransactionID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid transaction id")
		return
	}

	if err := op(r.Context(), id); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"transaction_id": id.String()})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func requirePost(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (h *HTTPHandler) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, domain.ErrInvalidOwner):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrAllocationImpossible):
		writeError(w, http.StatusGone, "sold out")
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientBalance),
		errors.Is(err, domain.ErrDuplicateApplication),
		errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrResourceBusy):
		writeError(w, http.StatusServiceUnavailable, "busy, retry later")
	case errors.Is(err, domain.ErrStockNotFound),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrTransactionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		h.logger.Error("engine error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
