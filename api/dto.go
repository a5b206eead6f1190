/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Monetary fields travel as decimal strings ("47.25"), never JSON numbers,
  so clients cannot introduce float drift.

VALIDATION:
  Request types carry go-playground/validator tags; handlers run them
  through a shared validator instance before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Router setup and middleware
*/
package api

import (
	"time"

	"github.com/warp/bartab/billing"
)

// =============================================================================
// USERS
// =============================================================================

// UserDTO represents a user account in API responses.
type UserDTO struct {
	ID           string  `json:"id"`
	Email        string  `json:"email"`
	DisplayName  string  `json:"display_name"`
	IsActive     bool    `json:"is_active"`
	IsBuyer      bool    `json:"is_buyer"`
	IsFavorite   bool    `json:"is_favorite"`
	IsAdmin      bool    `json:"is_admin"`
	IsAutolocked bool    `json:"is_autolocked"`
	PaidBy       *string `json:"paid_by,omitempty"`
	CreatedAt    string  `json:"created_at,omitempty"`
}

// CreateUserRequest is the request to create a user.
type CreateUserRequest struct {
	Email       string  `json:"email" validate:"required,email"`
	DisplayName string  `json:"display_name" validate:"required"`
	IsActive    *bool   `json:"is_active,omitempty"`
	IsBuyer     *bool   `json:"is_buyer,omitempty"`
	IsFavorite  bool    `json:"is_favorite"`
	IsAdmin     bool    `json:"is_admin"`
	PaidBy      *string `json:"paid_by,omitempty"`
}

// UpdateUserRequest is the request to update user fields. Omitted fields
// keep their current values.
type UpdateUserRequest struct {
	Email       *string `json:"email,omitempty" validate:"omitempty,email"`
	DisplayName *string `json:"display_name,omitempty"`
	IsActive    *bool   `json:"is_active,omitempty"`
	IsBuyer     *bool   `json:"is_buyer,omitempty"`
	IsFavorite  *bool   `json:"is_favorite,omitempty"`
	IsAdmin     *bool   `json:"is_admin,omitempty"`
}

// SetPayerRequest assigns or clears a user's payer.
type SetPayerRequest struct {
	PayerID *string `json:"payer_id"`
}

// BalanceDTO is a user's derived account balance.
type BalanceDTO struct {
	UserID  string `json:"user_id"`
	Balance string `json:"balance"`
}

// =============================================================================
// CATALOG
// =============================================================================

type CategoryDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type CreateCategoryRequest struct {
	Name string `json:"name" validate:"required"`
}

type ProductDTO struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Price      string `json:"price"`
	Amount     string `json:"amount,omitempty"`
	CategoryID string `json:"category_id"`
	IsActive   bool   `json:"is_active"`
	IsBold     bool   `json:"is_bold"`
}

// SaveProductRequest creates or updates a product. ID is set on update.
type SaveProductRequest struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name" validate:"required"`
	Price      string `json:"price" validate:"required"`
	Amount     string `json:"amount"`
	CategoryID string `json:"category_id" validate:"required"`
	IsActive   *bool  `json:"is_active,omitempty"`
	IsBold     bool   `json:"is_bold"`
}

// BatchUpdateProductsRequest applies the same change to many products.
type BatchUpdateProductsRequest struct {
	ProductIDs []string `json:"product_ids" validate:"required,min=1"`
	Price      *string  `json:"price,omitempty"`
	IsActive   *bool    `json:"is_active,omitempty"`
	IsBold     *bool    `json:"is_bold,omitempty"`
}

type FreeItemDTO struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name,omitempty"`
	Leftover    int    `json:"leftover"`
	Purchasable bool   `json:"purchasable"`
	GiverID     string `json:"giver_id,omitempty"`
	Comment     string `json:"comment,omitempty"`
	CreatedAt   string `json:"created_at,omitempty"`
}

type CreateFreeItemRequest struct {
	ProductID   string `json:"product_id" validate:"required"`
	Leftover    int    `json:"leftover" validate:"min=1"`
	Purchasable bool   `json:"purchasable"`
	Comment     string `json:"comment"`
}

// GiveAwayRequest records a paid purchase by the giver and opens the
// bought quantity as a free item for others.
type GiveAwayRequest struct {
	GiverID   string `json:"giver_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
	Comment   string `json:"comment"`
}

// =============================================================================
// PURCHASES AND PAYMENTS
// =============================================================================

type PurchaseDTO struct {
	ID                  string `json:"id"`
	UserID              string `json:"user_id"`
	Quantity            int    `json:"quantity"`
	CategoryName        string `json:"category_name"`
	ProductName         string `json:"product_name"`
	ProductAmount       string `json:"product_amount,omitempty"`
	ProductPrice        string `json:"product_price"`
	Cost                string `json:"cost"`
	Comment             string `json:"comment,omitempty"`
	InvoiceID           string `json:"invoice_id,omitempty"`
	IsFreeItemPurchase  bool   `json:"is_free_item_purchase,omitempty"`
	FreeItemDescription string `json:"free_item_description,omitempty"`
	CreatedAt           string `json:"created_at,omitempty"`
}

type CreatePurchaseRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	ProductID string `json:"product_id" validate:"required"`
	Quantity  int    `json:"quantity" validate:"min=1"`
	Comment   string `json:"comment"`
}

// UpdatePurchaseRequest edits an unbilled purchase. The product snapshot
// is not editable; record a fresh purchase instead.
type UpdatePurchaseRequest struct {
	Quantity int    `json:"quantity" validate:"min=1"`
	Comment  string `json:"comment"`
}

type FreeItemPurchaseRequest struct {
	UserID   string `json:"user_id" validate:"required"`
	Quantity int    `json:"quantity" validate:"min=1"`
	Comment  string `json:"comment"`
}

type PaymentDTO struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Amount    string `json:"amount"`
	Method    string `json:"method"`
	Comment   string `json:"comment,omitempty"`
	InvoiceID string `json:"invoice_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
	ValueDate string `json:"value_date,omitempty"`
}

type CreatePaymentRequest struct {
	UserID    string `json:"user_id" validate:"required"`
	Amount    string `json:"amount" validate:"required"`
	Method    string `json:"method" validate:"required"`
	Comment   string `json:"comment"`
	ValueDate string `json:"value_date,omitempty"` // RFC3339, defaults to now
}

// UpdatePaymentRequest edits an unbilled payment.
type UpdatePaymentRequest struct {
	Amount    string `json:"amount" validate:"required"`
	Method    string `json:"method" validate:"required"`
	Comment   string `json:"comment"`
	ValueDate string `json:"value_date,omitempty"` // RFC3339, empty keeps the stored date
}

// =============================================================================
// INVOICES
// =============================================================================

type InvoiceDTO struct {
	ID              string `json:"id"`
	RecipientID     string `json:"recipient_id"`
	AmountPurchases string `json:"amount_purchases"`
	AmountPayments  string `json:"amount_payments"`
	Due             string `json:"due"`
	Comment         string `json:"comment,omitempty"`
	CreatedAt       string `json:"created_at,omitempty"`
}

// InvoiceDetailDTO includes the line items bundled by an invoice.
type InvoiceDetailDTO struct {
	InvoiceDTO
	Purchases []PurchaseDTO `json:"purchases"`
	Payments  []PaymentDTO  `json:"payments"`
}

// RunBillingRequest triggers invoice generation for the given users.
type RunBillingRequest struct {
	UserIDs []string `json:"user_ids" validate:"required,min=1"`
	Comment string   `json:"comment"`
}

type BillingOutcomeDTO struct {
	UserID      string      `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`
	Invoice     *InvoiceDTO `json:"invoice,omitempty"`
	Error       string      `json:"error,omitempty"`
}

type BillingSummaryDTO struct {
	Invoiced      int                 `json:"invoiced"`
	Failed        int                 `json:"failed"`
	Outcomes      []BillingOutcomeDTO `json:"outcomes"`
	Notifications NotifySummaryDTO    `json:"notifications"`
}

type NotifySummaryDTO struct {
	Sent             int      `json:"sent"`
	Failed           int      `json:"failed"`
	FailedRecipients []string `json:"failed_recipients,omitempty"`
}

// =============================================================================
// STATS
// =============================================================================

type UserQuantityStatDTO struct {
	UserID        string `json:"user_id"`
	DisplayName   string `json:"display_name"`
	TotalQuantity int    `json:"total_quantity"`
}

type UserCostStatDTO struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	TotalCost   string `json:"total_cost"`
}

type ProductStatDTO struct {
	ProductName   string `json:"product_name"`
	ProductAmount string `json:"product_amount,omitempty"`
	TotalQuantity int    `json:"total_quantity"`
}

type CategoryStatDTO struct {
	CategoryName  string `json:"category_name"`
	TotalQuantity int    `json:"total_quantity"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toUserDTO(u *billing.User) UserDTO {
	dto := UserDTO{
		ID:           string(u.ID),
		Email:        u.Email,
		DisplayName:  u.DisplayName,
		IsActive:     u.IsActive,
		IsBuyer:      u.IsBuyer,
		IsFavorite:   u.IsFavorite,
		IsAdmin:      u.IsAdmin,
		IsAutolocked: u.IsAutolocked,
		CreatedAt:    formatTime(u.CreatedAt),
	}
	if u.PaidBy != nil {
		id := string(*u.PaidBy)
		dto.PaidBy = &id
	}
	return dto
}

func toProductDTO(p *billing.Product) ProductDTO {
	return ProductDTO{
		ID:         string(p.ID),
		Name:       p.Name,
		Price:      p.Price.String(),
		Amount:     p.Amount,
		CategoryID: string(p.CategoryID),
		IsActive:   p.IsActive,
		IsBold:     p.IsBold,
	}
}

func toFreeItemDTO(fi *billing.FreeItem) FreeItemDTO {
	dto := FreeItemDTO{
		ID:          string(fi.ID),
		ProductID:   string(fi.ProductID),
		Leftover:    fi.Leftover,
		Purchasable: fi.Purchasable,
		Comment:     fi.Comment,
		CreatedAt:   formatTime(fi.CreatedAt),
	}
	if fi.GiverID != nil {
		dto.GiverID = string(*fi.GiverID)
	}
	return dto
}

func toPurchaseDTO(p *billing.Purchase) PurchaseDTO {
	dto := PurchaseDTO{
		ID:                  string(p.ID),
		UserID:              string(p.UserID),
		Quantity:            p.Quantity,
		CategoryName:        p.CategoryName,
		ProductName:         p.ProductName,
		ProductAmount:       p.ProductAmount,
		ProductPrice:        p.ProductPrice.String(),
		Cost:                p.Cost().String(),
		Comment:             p.Comment,
		IsFreeItemPurchase:  p.IsFreeItemPurchase,
		FreeItemDescription: p.FreeItemDescription,
		CreatedAt:           formatTime(p.CreatedAt),
	}
	if p.InvoiceID != nil {
		dto.InvoiceID = string(*p.InvoiceID)
	}
	return dto
}

func toPurchaseDTOs(ps []billing.Purchase) []PurchaseDTO {
	dtos := make([]PurchaseDTO, len(ps))
	for i := range ps {
		dtos[i] = toPurchaseDTO(&ps[i])
	}
	return dtos
}

func toPaymentDTO(p *billing.Payment) PaymentDTO {
	dto := PaymentDTO{
		ID:        string(p.ID),
		UserID:    string(p.UserID),
		Amount:    p.Amount.String(),
		Method:    string(p.Method),
		Comment:   p.Comment,
		CreatedAt: formatTime(p.CreatedAt),
		ValueDate: formatTime(p.ValueDate),
	}
	if p.InvoiceID != nil {
		dto.InvoiceID = string(*p.InvoiceID)
	}
	return dto
}

func toPaymentDTOs(ps []billing.Payment) []PaymentDTO {
	dtos := make([]PaymentDTO, len(ps))
	for i := range ps {
		dtos[i] = toPaymentDTO(&ps[i])
	}
	return dtos
}

func toInvoiceDTO(inv *billing.Invoice) InvoiceDTO {
	return InvoiceDTO{
		ID:              string(inv.ID),
		RecipientID:     string(inv.RecipientID),
		AmountPurchases: inv.AmountPurchases.String(),
		AmountPayments:  inv.AmountPayments.String(),
		Due:             inv.Due().String(),
		Comment:         inv.Comment,
		CreatedAt:       formatTime(inv.CreatedAt),
	}
}

func toBillingSummaryDTO(s billing.BillingSummary) BillingSummaryDTO {
	dto := BillingSummaryDTO{
		Invoiced: s.Invoiced,
		Failed:   s.Failed,
		Notifications: NotifySummaryDTO{
			Sent:             s.Notifications.Sent,
			Failed:           s.Notifications.Failed,
			FailedRecipients: s.Notifications.FailedRecipients,
		},
	}
	for _, o := range s.Outcomes {
		out := BillingOutcomeDTO{
			UserID:      string(o.UserID),
			DisplayName: o.DisplayName,
		}
		if o.Invoice != nil {
			inv := toInvoiceDTO(o.Invoice)
			out.Invoice = &inv
		}
		if o.Err != nil {
			out.Error = o.Err.Error()
		}
		dto.Outcomes = append(dto.Outcomes, out)
	}
	return dto
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
