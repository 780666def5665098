/*
handlers.go - HTTP handlers for the marketplace engine

PURPOSE:
  Exposes the transactional workflows over REST. Handlers parse and
  validate input, resolve the acting user, delegate to a workflow, and
  serialize the result. No business logic lives here.

IDENTITY:
  Credential verification is an external collaborator. The acting user id
  arrives in the X-User-ID header (set by the auth layer in front of this
  service); requests without it are rejected.

ERROR HANDLING:
  Engine errors map to stable codes and statuses:
    400 VALIDATION               422-style input problems
    402 INSUFFICIENT_FUNDS       balance below total
    404 NOT_FOUND                absent or not visible to the caller
    409 CONFLICT / INSUFFICIENT_STOCK / CONCURRENCY_CONFLICT
    429 COOLDOWN_ACTIVE          carries retry metadata
    500 everything else

SEE ALSO:
  - dto.go: request/response shapes
  - server.go: routing and middleware
  - stream.go: the SSE endpoint
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/warp/card-market/market"
	"github.com/warp/card-market/notify"
	"github.com/warp/card-market/reward"
	"github.com/warp/card-market/trade"
)

// Handler holds all dependencies for HTTP handlers. Workflows are
// constructed once at process start and injected here.
type Handler struct {
	Store     market.TxStore
	Purchases *trade.Purchases
	Listings  *trade.Listings
	Exchanges *trade.Exchanges
	Minter    *trade.Minter
	Rewards   *reward.Service
	Fanout    *notify.Fanout

	// BackfillLimit caps reconnect replay on the stream endpoint.
	BackfillLimit int
}

// NewHandler wires a handler from its collaborators.
func NewHandler(store market.TxStore, fanout *notify.Fanout) *Handler {
	return &Handler{
		Store:         store,
		Purchases:     trade.NewPurchases(store, fanout),
		Listings:      trade.NewListings(store),
		Exchanges:     trade.NewExchanges(store, fanout),
		Minter:        trade.NewMinter(store),
		Rewards:       reward.NewService(store),
		Fanout:        fanout,
		BackfillLimit: notify.DefaultBackfillLimit,
	}
}

// userID resolves the acting user; empty means unauthenticated.
func userID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// Buy purchases from a listing with points.
// POST /api/sales/{id}/buy
func (h *Handler) Buy(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	var req BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	result, err := h.Purchases.Buy(r.Context(), uid, chi.URLParam(r, "id"), req.Quantity)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BuyResponse{
		PurchaseIDs: result.PurchaseIDs,
		Remaining:   result.Remaining,
		SoldOut:     result.SoldOut,
	})
}

// CreateListing publishes a sale.
// POST /api/sales
func (h *Handler) CreateListing(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	var req CreateListingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	listing, err := h.Listings.Create(r.Context(), uid, trade.CreateListingInput{
		TemplateID:   req.TemplateID,
		Price:        req.Price,
		Quantity:     req.Quantity,
		DesiredGrade: market.Grade(req.DesiredGrade),
		DesiredGenre: market.Genre(req.DesiredGenre),
		DesiredDesc:  req.DesiredDesc,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toListingDTO(*listing))
}

// CancelListing withdraws a sale and releases its remaining units.
// DELETE /api/sales/{id}
func (h *Handler) CancelListing(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	released, err := h.Listings.Cancel(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"released_units": released})
}

// =============================================================================
// EXCHANGE HANDLERS
// =============================================================================

// Propose opens an exchange proposal against a listing.
// POST /api/sales/{id}/proposals
func (h *Handler) Propose(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	var req ProposeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.OfferedUnitID == "" {
		writeBadRequest(w, "offered_unit_id is required")
		return
	}

	proposal, err := h.Exchanges.Propose(r.Context(), uid, chi.URLParam(r, "id"), req.OfferedUnitID, req.Message)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toProposalDTO(*proposal))
}

// CancelProposal withdraws a pending proposal.
// DELETE /api/proposals/{id}
func (h *Handler) CancelProposal(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	if err := h.Exchanges.Cancel(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(market.ProposalCancelled)})
}

// AcceptProposal settles a pending proposal.
// POST /api/proposals/{id}/accept
func (h *Handler) AcceptProposal(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	result, err := h.Exchanges.Accept(r.Context(), uid, chi.URLParam(r, "id"))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, AcceptResponse{
		ProposalID: result.ProposalID,
		Status:     string(market.ProposalAccepted),
		Remaining:  result.Remaining,
		SoldOut:    result.SoldOut,
	})
}

// RejectProposal declines a pending proposal.
// POST /api/proposals/{id}/reject
func (h *Handler) RejectProposal(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	if err := h.Exchanges.Reject(r.Context(), uid, chi.URLParam(r, "id")); err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": string(market.ProposalRejected)})
}

// =============================================================================
// CARD AND REWARD HANDLERS
// =============================================================================

// Mint creates a card template and its unit batch.
// POST /api/cards
func (h *Handler) Mint(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}

	result, err := h.Minter.Mint(r.Context(), uid, trade.MintInput{
		Name:          req.Name,
		Description:   req.Description,
		Grade:         market.Grade(req.Grade),
		Genre:         market.Genre(req.Genre),
		InitialPrice:  req.InitialPrice,
		TotalQuantity: req.TotalQuantity,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, MintResponse{
		TemplateID: result.Template.ID,
		UnitIDs:    result.UnitIDs,
		Limit:      result.Limit,
	})
}

// ClaimReward draws the timed random point reward.
// POST /api/points/claim
func (h *Handler) ClaimReward(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	claim, err := h.Rewards.Claim(r.Context(), uid)
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ClaimResponse{
		Points:        claim.Points,
		TotalPoints:   claim.TotalPoints,
		NextAllowedAt: claim.NextAllowedAt.UTC().Format(time.RFC3339),
	})
}

// =============================================================================
// NOTIFICATION HANDLERS
// =============================================================================

// ListNotifications returns a cursor page of the caller's notifications.
// GET /api/notifications?cursor=&limit=&unread_only=&types=a,b
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	q := market.NotificationQuery{Limit: 10}
	if v := r.URL.Query().Get("cursor"); v != "" {
		q.Cursor, _ = strconv.ParseInt(v, 10, 64)
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			q.Limit = n
		}
	}
	q.UnreadOnly = r.URL.Query().Get("unread_only") == "true"
	q.Types = parseTypes(r.URL.Query()["types"])

	rows, err := h.Store.ListNotifications(r.Context(), uid, q)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	resp := NotificationListResponse{Items: make([]NotificationDTO, 0, len(rows))}
	for _, n := range rows {
		resp.Items = append(resp.Items, toNotificationDTO(n))
	}
	if len(rows) > 0 {
		resp.NextCursor = rows[len(rows)-1].ID
	}
	resp.HasMore = len(rows) == q.Limit

	writeJSON(w, http.StatusOK, resp)
}

// UnreadCount returns the caller's unread badge count.
// GET /api/notifications/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	count, err := h.Store.CountUnread(r.Context(), uid, parseTypes(r.URL.Query()["types"]))
	if err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, UnreadCountResponse{Count: count})
}

// MarkRead marks one notification read.
// PATCH /api/notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeBadRequest(w, "invalid notification id")
		return
	}

	n, err := h.Store.MarkRead(r.Context(), uid, id)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"updated": n == 1})
}

// MarkAllRead marks a bounded set of notifications read.
// POST /api/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeUnauthenticated(w)
		return
	}

	var req MarkAllReadRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeBadRequest(w, "invalid request body")
			return
		}
	}

	n, err := h.Store.MarkAllRead(r.Context(), uid, market.MarkAllQuery{
		BeforeID: req.BeforeID,
		Types:    parseTypes(req.Types),
	})
	if err != nil {
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func parseTypes(raw []string) []market.NotificationType {
	var types []market.NotificationType
	for _, v := range raw {
		if v != "" {
			types = append(types, market.NotificationType(v))
		}
	}
	return types
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Code: "VALIDATION", Message: message})
}

func writeUnauthenticated(w http.ResponseWriter) {
	writeJSON(w, http.StatusUnauthorized, ErrorResponse{Code: "UNAUTHENTICATED", Message: "X-User-ID header is required"})
}

func writeInternalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: err.Error()})
}

// writeEngineError maps an engine error to its stable code and status.
func writeEngineError(w http.ResponseWriter, err error) {
	resp := ErrorResponse{Code: market.Code(err), Message: err.Error()}

	var cool *market.CooldownActiveError
	if errors.As(err, &cool) {
		resp.RetryAfterSeconds = cool.RetryAfterSeconds()
		resp.NextAllowedAt = cool.NextAllowedAt.UTC().Format(time.RFC3339)
	}

	status := http.StatusInternalServerError
	switch resp.Code {
	case "VALIDATION":
		status = http.StatusBadRequest
	case "NOT_FOUND":
		status = http.StatusNotFound
	case "INSUFFICIENT_FUNDS":
		status = http.StatusPaymentRequired
	case "CONFLICT", "INSUFFICIENT_STOCK", "CONCURRENCY_CONFLICT":
		status = http.StatusConflict
	case "COOLDOWN_ACTIVE":
		status = http.StatusTooManyRequests
	}

	writeJSON(w, status, resp)
}
