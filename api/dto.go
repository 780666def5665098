/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  JSON structures for the API contract, decoupled from the domain types.
  *Request types are parsed from clients, *DTO types are returned.
  DTOs are pure data carriers; validation happens in handlers.

SEE ALSO:
  - handlers.go: uses these types
*/
package api

import (
	"time"

	"github.com/warp/card-market/market"
)

// ErrorResponse is the uniform error envelope: a stable machine-readable
// code, a human message, and optional retry metadata for cooldown errors.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`

	RetryAfterSeconds int64  `json:"retry_after_seconds,omitempty"`
	NextAllowedAt     string `json:"next_allowed_at,omitempty"`
}

// BuyRequest purchases from a listing with points.
type BuyRequest struct {
	Quantity int `json:"quantity"`
}

// BuyResponse reports a settled purchase.
type BuyResponse struct {
	PurchaseIDs []string `json:"purchase_ids"`
	Remaining   int64    `json:"remaining_quantity"`
	SoldOut     bool     `json:"sold_out"`
}

// CreateListingRequest publishes a sale.
type CreateListingRequest struct {
	TemplateID   string `json:"template_id"`
	Price        int64  `json:"price"`
	Quantity     int    `json:"quantity"`
	DesiredGrade string `json:"desired_grade,omitempty"`
	DesiredGenre string `json:"desired_genre,omitempty"`
	DesiredDesc  string `json:"desired_desc,omitempty"`
}

// ListingDTO represents a sale listing.
type ListingDTO struct {
	ID              string `json:"id"`
	SellerID        string `json:"seller_id"`
	TemplateID      string `json:"template_id"`
	Price           int64  `json:"price"`
	InitialQuantity int64  `json:"initial_quantity"`
	Quantity        int64  `json:"quantity"`
	DesiredGrade    string `json:"desired_grade,omitempty"`
	DesiredGenre    string `json:"desired_genre,omitempty"`
	DesiredDesc     string `json:"desired_desc,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// ProposeRequest opens an exchange proposal against a listing.
type ProposeRequest struct {
	OfferedUnitID string `json:"offered_unit_id"`
	Message       string `json:"message,omitempty"`
}

// ProposalDTO represents an exchange proposal.
type ProposalDTO struct {
	ID            string `json:"id"`
	ListingID     string `json:"listing_id"`
	ProposerID    string `json:"proposer_id"`
	OfferedUnitID string `json:"offered_unit_id"`
	Message       string `json:"message,omitempty"`
	Status        string `json:"status"`
	CreatedAt     string `json:"created_at"`
}

// AcceptResponse reports a settled exchange.
type AcceptResponse struct {
	ProposalID string `json:"proposal_id"`
	Status     string `json:"status"`
	Remaining  int64  `json:"remaining_quantity"`
	SoldOut    bool   `json:"sold_out"`
}

// MintRequest creates a card template and its unit batch.
type MintRequest struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Grade         string `json:"grade"`
	Genre         string `json:"genre"`
	InitialPrice  int64  `json:"initial_price"`
	TotalQuantity int    `json:"total_quantity"`
}

// MintResponse reports a created template.
type MintResponse struct {
	TemplateID string   `json:"template_id"`
	UnitIDs    []string `json:"unit_ids"`
	Limit      int      `json:"monthly_limit"`
}

// ClaimResponse reports a reward payout.
type ClaimResponse struct {
	Points        int64  `json:"points"`
	TotalPoints   int64  `json:"total_points"`
	NextAllowedAt string `json:"next_allowed_at"`
}

// NotificationDTO represents one notification row.
type NotificationDTO struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	Content   string `json:"content"`
	Link      string `json:"link,omitempty"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"created_at"`
}

// NotificationListResponse is a cursor page of notifications.
type NotificationListResponse struct {
	Items      []NotificationDTO `json:"items"`
	NextCursor int64             `json:"next_cursor,omitempty"`
	HasMore    bool              `json:"has_more"`
}

// UnreadCountResponse carries the unread badge count.
type UnreadCountResponse struct {
	Count int64 `json:"count"`
}

// MarkAllReadRequest bounds a bulk mark-read.
type MarkAllReadRequest struct {
	BeforeID int64    `json:"before_id,omitempty"`
	Types    []string `json:"types,omitempty"`
}

func toNotificationDTO(n market.Notification) NotificationDTO {
	return NotificationDTO{
		ID:        n.ID,
		Type:      string(n.Type),
		Content:   n.Content,
		Link:      n.Link,
		Read:      n.Read,
		CreatedAt: n.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toListingDTO(l market.SaleListing) ListingDTO {
	return ListingDTO{
		ID:              l.ID,
		SellerID:        l.SellerID,
		TemplateID:      l.TemplateID,
		Price:           l.Price,
		InitialQuantity: l.InitialQuantity,
		Quantity:        l.Quantity,
		DesiredGrade:    string(l.DesiredGrade),
		DesiredGenre:    string(l.DesiredGenre),
		DesiredDesc:     l.DesiredDesc,
		CreatedAt:       l.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toProposalDTO(p market.ExchangeProposal) ProposalDTO {
	return ProposalDTO{
		ID:            p.ID,
		ListingID:     p.ListingID,
		ProposerID:    p.ProposerID,
		OfferedUnitID: p.OfferedUnitID,
		Message:       p.Message,
		Status:        string(p.Status),
		CreatedAt:     p.CreatedAt.UTC().Format(time.RFC3339),
	}
}
