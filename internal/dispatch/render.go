package dispatch

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/url"
	"strings"
	texttemplate "text/template"

	"github.com/Priya8975/restock-notifier/internal/domain"
)

//go:embed templates
var templatesFS embed.FS

// Shopify names the only variant of a single-variant product this way.
const defaultVariantTitle = "Default Title"

// Email is a rendered notification.
type Email struct {
	Subject string
	HTML    string
	Text    string
}

type emailData struct {
	Shop         string
	ProductTitle string
	VariantTitle string
	Price        string
	ProductURL   string
	ClickURL     string
	OpenURL      string
}

// Renderer turns a claimed subscription into a notification with tracking links.
type Renderer struct {
	baseURL string
	html    *htmltemplate.Template
	text    *texttemplate.Template
}

// NewRenderer parses the embedded templates. baseURL is where the beacon
// endpoints are reachable from a mail client.
func NewRenderer(baseURL string) (*Renderer, error) {
	html, err := htmltemplate.ParseFS(templatesFS, "templates/restock.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing html template: %w", err)
	}
	text, err := texttemplate.ParseFS(templatesFS, "templates/restock.txt.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parsing text template: %w", err)
	}
	return &Renderer{
		baseURL: strings.TrimRight(baseURL, "/"),
		html:    html,
		text:    text,
	}, nil
}

// Render prefers the product context carried by the restock signal and falls
// back to what was stored when the customer subscribed.
func (r *Renderer) Render(sub domain.Subscription, product domain.ProductContext) (Email, error) {
	ctx := mergeProduct(product, sub.Product())

	data := emailData{
		Shop:         sub.Shop,
		ProductTitle: ctx.ProductTitle,
		VariantTitle: ctx.VariantTitle,
		Price:        ctx.Price,
		ProductURL:   ProductURL(sub.Shop, ctx.ProductHandle, sub.VariantID),
	}
	if data.ProductTitle == "" {
		data.ProductTitle = "Your item"
	}
	if data.VariantTitle == defaultVariantTitle {
		data.VariantTitle = ""
	}
	data.ClickURL = r.baseURL + "/t/click?" + url.Values{"sid": {sub.ID}, "url": {data.ProductURL}}.Encode()
	data.OpenURL = r.baseURL + "/t/open?" + url.Values{"sid": {sub.ID}}.Encode()

	var html, text bytes.Buffer
	if err := r.html.Execute(&html, data); err != nil {
		return Email{}, fmt.Errorf("rendering html body: %w", err)
	}
	if err := r.text.Execute(&text, data); err != nil {
		return Email{}, fmt.Errorf("rendering text body: %w", err)
	}

	subject := data.ProductTitle + " is back in stock"
	if data.VariantTitle != "" {
		subject = fmt.Sprintf("%s (%s) is back in stock", data.ProductTitle, data.VariantTitle)
	}

	return Email{Subject: subject, HTML: html.String(), Text: text.String()}, nil
}

// ProductURL links to the variant on the shop's storefront.
func ProductURL(shop, handle, variantID string) string {
	u := url.URL{Scheme: "https", Host: shop, Path: "/"}
	if handle != "" {
		u.Path = "/products/" + handle
	}
	u.RawQuery = url.Values{"variant": {variantID}}.Encode()
	return u.String()
}

func mergeProduct(primary, fallback domain.ProductContext) domain.ProductContext {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	return domain.ProductContext{
		ProductTitle:  pick(primary.ProductTitle, fallback.ProductTitle),
		ProductHandle: pick(primary.ProductHandle, fallback.ProductHandle),
		VariantTitle:  pick(primary.VariantTitle, fallback.VariantTitle),
		Price:         pick(primary.Price, fallback.Price),
	}
}
