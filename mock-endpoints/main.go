// Command mock-endpoints plays the Shopify side against a local server: it
// sends signed webhooks and app proxy subscribe requests.
//
//	mock-endpoints subscribe <email> <variant-id> [inventory-item-id]
//	mock-endpoints restock <variant-id> <quantity>
//	mock-endpoints inventory <inventory-item-id> <available>
//	mock-endpoints order <email> <variant-id>...
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/Priya8975/restock-notifier/internal/ingress"
	"github.com/google/uuid"
)

var requestCount atomic.Int64

type target struct {
	baseURL string
	secret  string
	shop    string
	client  *http.Client
}

func main() {
	t := target{
		baseURL: getEnv("TARGET_URL", "http://localhost:8080"),
		secret:  getEnv("SHOPIFY_API_SECRET", "shpss_dev_secret"),
		shop:    getEnv("SHOP", "demo.myshopify.com"),
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	if len(os.Args) < 2 {
		usage()
	}
	args := os.Args[2:]

	var err error
	switch os.Args[1] {
	case "subscribe":
		if len(args) < 2 {
			usage()
		}
		req := domain.CreateSubscriptionRequest{
			Email:        args[0],
			VariantID:    args[1],
			ProductTitle: "Linen Shirt",
			VariantTitle: "M / Blue",
			Price:        "49.00",
		}
		if len(args) > 2 {
			req.InventoryItemID = args[2]
		}
		err = t.subscribe(req)
	case "restock":
		if len(args) != 2 {
			usage()
		}
		qty, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			log.Fatalf("quantity: %v", convErr)
		}
		err = t.webhook(domain.TopicProductsUpdate, map[string]any{
			"id":     7001,
			"title":  "Linen Shirt",
			"handle": "linen-shirt",
			"variants": []map[string]any{{
				"id":                 args[0],
				"title":              "M / Blue",
				"price":              "49.00",
				"inventory_quantity": qty,
			}},
		})
	case "inventory":
		if len(args) != 2 {
			usage()
		}
		available, convErr := strconv.Atoi(args[1])
		if convErr != nil {
			log.Fatalf("available: %v", convErr)
		}
		err = t.webhook(domain.TopicInventoryLevelsUpdate, map[string]any{
			"inventory_item_id": args[0],
			"location_id":       1,
			"available":         available,
		})
	case "order":
		if len(args) < 2 {
			usage()
		}
		items := make([]map[string]any, 0, len(args)-1)
		for _, v := range args[1:] {
			items = append(items, map[string]any{"variant_id": v, "quantity": 1})
		}
		err = t.webhook(domain.TopicOrdersCreate, map[string]any{
			"id":         time.Now().Unix(),
			"email":      args[0],
			"line_items": items,
		})
	default:
		usage()
	}
	if err != nil {
		log.Fatal(err)
	}
}

func (t target) webhook(topic string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodPost, t.baseURL+"/webhooks/shopify", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(ingress.HeaderTopic, topic)
	req.Header.Set(ingress.HeaderShop, t.shop)
	req.Header.Set(ingress.HeaderWebhookID, uuid.NewString())
	req.Header.Set(ingress.HeaderHMAC, ingress.SignWebhook(t.secret, body))
	return t.send(req)
}

func (t target) subscribe(sub domain.CreateSubscriptionRequest) error {
	body, err := json.Marshal(sub)
	if err != nil {
		return err
	}
	q := url.Values{
		"shop":        {t.shop},
		"path_prefix": {"/apps/restock"},
		"timestamp":   {strconv.FormatInt(time.Now().Unix(), 10)},
	}
	q.Set("signature", ingress.SignProxy(t.secret, q))

	req, err := http.NewRequest(http.MethodPost, t.baseURL+"/apps/restock/subscribe?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return t.send(req)
}

func (t target) send(req *http.Request) error {
	count := requestCount.Add(1)
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	fmt.Printf("[#%d] %s %s -> %d | topic=%s\n%s\n",
		count,
		req.Method,
		req.URL.Path,
		resp.StatusCode,
		req.Header.Get(ingress.HeaderTopic),
		truncate(string(body), 1024),
	)
	return nil
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  mock-endpoints subscribe <email> <variant-id> [inventory-item-id]
  mock-endpoints restock <variant-id> <quantity>
  mock-endpoints inventory <inventory-item-id> <available>
  mock-endpoints order <email> <variant-id>...

env: TARGET_URL, SHOPIFY_API_SECRET, SHOP`)
	os.Exit(2)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
