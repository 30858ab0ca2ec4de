package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const (
	MaxEmailLen   = 254
	MaxShopLen    = 255
	MaxVariantLen = 64
	MaxTitleLen   = 255
)

// Subscription is one customer's request to hear about one variant in one shop.
type Subscription struct {
	ID              string     `json:"id"`
	Shop            string     `json:"shop"`
	Email           string     `json:"email"`
	VariantID       string     `json:"variant_id"`
	ProductTitle    string     `json:"product_title"`
	ProductHandle   string     `json:"product_handle,omitempty"`
	VariantTitle    string     `json:"variant_title,omitempty"`
	SubscribedPrice string     `json:"subscribed_price,omitempty"`
	InventoryItemID string     `json:"inventory_item_id,omitempty"`
	Funnel          Funnel     `json:"funnel"`
	MessageID       string     `json:"message_id,omitempty"`
	NotifiedAt      *time.Time `json:"notified_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Product returns the product context stored with the subscription.
func (s Subscription) Product() ProductContext {
	return ProductContext{
		ProductTitle:  s.ProductTitle,
		ProductHandle: s.ProductHandle,
		VariantTitle:  s.VariantTitle,
		Price:         s.SubscribedPrice,
	}
}

type CreateSubscriptionRequest struct {
	Shop            string `json:"shop"`
	Email           string `json:"email"`
	VariantID       string `json:"variantId"`
	ProductTitle    string `json:"productTitle,omitempty"`
	ProductHandle   string `json:"productHandle,omitempty"`
	VariantTitle    string `json:"variantTitle,omitempty"`
	Price           string `json:"price,omitempty"`
	InventoryItemID string `json:"inventoryItemId,omitempty"`
}

// Normalize trims every field and lower-cases shop and email so that the
// (shop, email, variant) key is stable.
func (r *CreateSubscriptionRequest) Normalize() {
	r.Shop = strings.ToLower(strings.TrimSpace(r.Shop))
	r.Email = strings.ToLower(strings.TrimSpace(r.Email))
	r.VariantID = strings.TrimSpace(r.VariantID)
	r.ProductTitle = strings.TrimSpace(r.ProductTitle)
	r.ProductHandle = strings.TrimSpace(r.ProductHandle)
	r.VariantTitle = strings.TrimSpace(r.VariantTitle)
	r.Price = strings.TrimSpace(r.Price)
	r.InventoryItemID = strings.TrimSpace(r.InventoryItemID)
}

// Validate checks a normalized request. It returns nil when the request is valid.
func (r *CreateSubscriptionRequest) Validate() error {
	var errs []FieldError

	if r.Shop == "" {
		errs = append(errs, FieldError{"shop", "required"})
	} else if len(r.Shop) > MaxShopLen {
		errs = append(errs, FieldError{"shop", fmt.Sprintf("max length %d", MaxShopLen)})
	}

	if r.Email == "" {
		errs = append(errs, FieldError{"email", "required"})
	} else if len(r.Email) > MaxEmailLen {
		errs = append(errs, FieldError{"email", fmt.Sprintf("max length %d", MaxEmailLen)})
	} else if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		errs = append(errs, FieldError{"email", "must be a plain email address"})
	}

	if r.VariantID == "" {
		errs = append(errs, FieldError{"variantId", "required"})
	} else if len(r.VariantID) > MaxVariantLen {
		errs = append(errs, FieldError{"variantId", fmt.Sprintf("max length %d", MaxVariantLen)})
	}

	if len(r.ProductTitle) > MaxTitleLen {
		errs = append(errs, FieldError{"productTitle", fmt.Sprintf("max length %d", MaxTitleLen)})
	}
	if len(r.VariantTitle) > MaxTitleLen {
		errs = append(errs, FieldError{"variantTitle", fmt.Sprintf("max length %d", MaxTitleLen)})
	}

	if len(errs) > 0 {
		return NewValidationError(errs...)
	}
	return nil
}

// SubscriptionFilter selects subscriptions. Empty fields do not filter.
type SubscriptionFilter struct {
	Shop      string
	VariantID string
	Email     string
	Stage     string
	Limit     int
}

// FunnelStats aggregates funnel flags for one shop.
type FunnelStats struct {
	Shop           string  `json:"shop"`
	Subscriptions  int     `json:"subscriptions"`
	Pending        int     `json:"pending"`
	Notified       int     `json:"notified"`
	Opened         int     `json:"opened"`
	Clicked        int     `json:"clicked"`
	Purchased      int     `json:"purchased"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Finalize derives the computed fields.
func (s *FunnelStats) Finalize() {
	s.Pending = s.Subscriptions - s.Notified
	s.ConversionRate = 0
	if s.Notified > 0 {
		s.ConversionRate = float64(s.Purchased) / float64(s.Notified) * 100
	}
}
