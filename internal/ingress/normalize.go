package ingress

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/Priya8975/restock-notifier/internal/domain"
)

// shopifyID accepts numeric ids, string ids and GraphQL global ids
// ("gid://shopify/ProductVariant/123") and keeps the trailing numeric part.
type shopifyID string

func (id *shopifyID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if i := strings.LastIndex(s, "/"); i >= 0 && strings.HasPrefix(s, "gid://") {
			s = s[i+1:]
		}
		*id = shopifyID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = shopifyID(n.String())
	return nil
}

// flexString accepts a JSON string or number, as Shopify sends prices both ways.
type flexString string

func (s *flexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*s = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*s = flexString(n.String())
	return nil
}

type productPayload struct {
	ID       shopifyID        `json:"id"`
	Title    string           `json:"title"`
	Handle   string           `json:"handle"`
	Variants []variantPayload `json:"variants"`
}

type variantPayload struct {
	ID                shopifyID  `json:"id"`
	Title             string     `json:"title"`
	Price             flexString `json:"price"`
	InventoryQuantity *int       `json:"inventory_quantity"`
	InventoryItemID   shopifyID  `json:"inventory_item_id"`
}

type orderPayload struct {
	ID           shopifyID `json:"id"`
	Email        string    `json:"email"`
	ContactEmail string    `json:"contact_email"`
	Customer     *struct {
		Email string `json:"email"`
	} `json:"customer"`
	LineItems []struct {
		VariantID shopifyID `json:"variant_id"`
	} `json:"line_items"`
}

type inventoryLevelPayload struct {
	InventoryItemID shopifyID `json:"inventory_item_id"`
	Available       *int      `json:"available"`
}

func normalizeShop(shop string) (string, error) {
	shop = strings.ToLower(strings.TrimSpace(shop))
	if shop == "" {
		return "", domain.NewValidationError(domain.FieldError{Field: "shop", Msg: "required"})
	}
	return shop, nil
}

func decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return domain.NewValidationError(domain.FieldError{Field: "body", Msg: "malformed JSON"})
	}
	return nil
}

// ParseProductUpdate turns a products/update payload into one restock event
// per variant with a positive quantity. Depleted or untracked variants yield
// nothing.
func ParseProductUpdate(shop string, body []byte) ([]domain.RestockEvent, error) {
	shop, err := normalizeShop(shop)
	if err != nil {
		return nil, err
	}
	var p productPayload
	if err := decode(body, &p); err != nil {
		return nil, err
	}

	var events []domain.RestockEvent
	for i, v := range p.Variants {
		if v.ID == "" {
			return nil, domain.NewValidationError(domain.FieldError{Field: variantField(i), Msg: "required"})
		}
		if v.InventoryQuantity == nil || *v.InventoryQuantity <= 0 {
			continue
		}
		events = append(events, domain.RestockEvent{
			Shop:      shop,
			VariantID: string(v.ID),
			Quantity:  *v.InventoryQuantity,
			Product: domain.ProductContext{
				ProductTitle:  strings.TrimSpace(p.Title),
				ProductHandle: strings.TrimSpace(p.Handle),
				VariantTitle:  strings.TrimSpace(v.Title),
				Price:         strings.TrimSpace(string(v.Price)),
			},
		})
	}
	return events, nil
}

func variantField(i int) string {
	return "variants[" + strconv.Itoa(i) + "].id"
}

// ParseOrder normalizes an orders/create payload. The customer email is taken
// from email, contact_email or customer.email, in that order.
func ParseOrder(shop string, body []byte) (domain.OrderEvent, error) {
	shop, err := normalizeShop(shop)
	if err != nil {
		return domain.OrderEvent{}, err
	}
	var p orderPayload
	if err := decode(body, &p); err != nil {
		return domain.OrderEvent{}, err
	}

	email := strings.TrimSpace(p.Email)
	if email == "" {
		email = strings.TrimSpace(p.ContactEmail)
	}
	if email == "" && p.Customer != nil {
		email = strings.TrimSpace(p.Customer.Email)
	}
	if email == "" {
		return domain.OrderEvent{}, domain.NewValidationError(domain.FieldError{Field: "email", Msg: "required"})
	}

	order := domain.OrderEvent{
		Shop:    shop,
		OrderID: string(p.ID),
		Email:   strings.ToLower(email),
	}
	for _, item := range p.LineItems {
		// Custom line items carry no variant.
		if item.VariantID != "" {
			order.VariantIDs = append(order.VariantIDs, string(item.VariantID))
		}
	}
	return order, nil
}

// ParseInventoryLevel normalizes an inventory_levels/update payload. A null
// available count is treated as zero.
func ParseInventoryLevel(shop string, body []byte) (domain.InventoryLevelEvent, error) {
	shop, err := normalizeShop(shop)
	if err != nil {
		return domain.InventoryLevelEvent{}, err
	}
	var p inventoryLevelPayload
	if err := decode(body, &p); err != nil {
		return domain.InventoryLevelEvent{}, err
	}
	if p.InventoryItemID == "" {
		return domain.InventoryLevelEvent{}, domain.NewValidationError(domain.FieldError{Field: "inventory_item_id", Msg: "required"})
	}

	event := domain.InventoryLevelEvent{Shop: shop, InventoryItemID: string(p.InventoryItemID)}
	if p.Available != nil {
		event.Available = *p.Available
	}
	return event, nil
}
