package domain

// Webhook topics the ingress understands.
const (
	TopicProductsUpdate        = "products/update"
	TopicOrdersCreate          = "orders/create"
	TopicInventoryLevelsUpdate = "inventory_levels/update"
)

// ProductContext is what a notification email needs to describe the variant.
type ProductContext struct {
	ProductTitle  string `json:"product_title"`
	ProductHandle string `json:"product_handle,omitempty"`
	VariantTitle  string `json:"variant_title,omitempty"`
	Price         string `json:"price,omitempty"`
}

// RestockEvent signals that a variant's available quantity is positive.
type RestockEvent struct {
	Shop      string         `json:"shop"`
	VariantID string         `json:"variant_id"`
	Quantity  int            `json:"quantity"`
	Product   ProductContext `json:"product"`
}

// OrderEvent is a normalized order used for purchase attribution.
type OrderEvent struct {
	Shop       string   `json:"shop"`
	OrderID    string   `json:"order_id,omitempty"`
	Email      string   `json:"email"`
	VariantIDs []string `json:"variant_ids"`
}

// InventoryLevelEvent is a restock signal keyed by inventory item.
type InventoryLevelEvent struct {
	Shop            string `json:"shop"`
	InventoryItemID string `json:"inventory_item_id"`
	Available       int    `json:"available"`
}

// VariantRef resolves an inventory item to a variant plus its stored context.
type VariantRef struct {
	VariantID string
	Product   ProductContext
}

// SendFailure describes one subscriber whose email could not be sent.
type SendFailure struct {
	SubscriptionID string `json:"subscription_id"`
	Error          string `json:"error"`
	Released       bool   `json:"released"`
}

// DispatchReport summarizes one dispatch of a restock cohort.
type DispatchReport struct {
	Shop      string        `json:"shop"`
	VariantID string        `json:"variant_id"`
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
	Failures  []SendFailure `json:"failures,omitempty"`
}

// PartialFailure reports whether some but not all sends failed.
func (r DispatchReport) PartialFailure() bool {
	return r.Failed > 0 && r.Succeeded > 0
}

// AttributionReport summarizes one order attribution.
type AttributionReport struct {
	Shop     string `json:"shop"`
	OrderID  string `json:"order_id,omitempty"`
	Checked  int    `json:"checked"`
	Matched  int    `json:"matched"`
	Failures int    `json:"failures"`
}
