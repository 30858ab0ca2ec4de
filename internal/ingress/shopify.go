package ingress

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
)

// Shopify webhook headers.
const (
	HeaderHMAC      = "X-Shopify-Hmac-Sha256"
	HeaderTopic     = "X-Shopify-Topic"
	HeaderShop      = "X-Shopify-Shop-Domain"
	HeaderWebhookID = "X-Shopify-Webhook-Id"
)

// SignWebhook returns the base64 HMAC-SHA256 Shopify sends for body.
func SignWebhook(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyWebhook checks the X-Shopify-Hmac-Sha256 value against the raw body.
func VerifyWebhook(secret string, body []byte, signature string) error {
	if secret == "" {
		return &domain.AuthError{Reason: "webhook secret not configured"}
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return &domain.AuthError{Reason: "missing " + HeaderHMAC}
	}

	given, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return &domain.AuthError{Reason: "malformed signature"}
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return &domain.AuthError{Reason: "signature mismatch"}
	}
	return nil
}

// SignProxy computes the app proxy signature over query, ignoring any
// existing signature parameter.
func SignProxy(secret string, query url.Values) string {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k == "signature" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strings.Join(query[k], ","))
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// ProxyMaxSkew bounds how far an app proxy timestamp may be from now.
const ProxyMaxSkew = 5 * time.Minute

// VerifyProxy checks the signature Shopify appends to app proxy requests and
// rejects requests signed outside ProxyMaxSkew.
func VerifyProxy(secret string, query url.Values) error {
	return verifyProxyAt(secret, query, time.Now())
}

func verifyProxyAt(secret string, query url.Values, now time.Time) error {
	if secret == "" {
		return &domain.AuthError{Reason: "proxy secret not configured"}
	}
	signature := query.Get("signature")
	if signature == "" {
		return &domain.AuthError{Reason: "missing proxy signature"}
	}
	given, err := hex.DecodeString(signature)
	if err != nil {
		return &domain.AuthError{Reason: "malformed proxy signature"}
	}
	want, _ := hex.DecodeString(SignProxy(secret, query))
	if !hmac.Equal(given, want) {
		return &domain.AuthError{Reason: "proxy signature mismatch"}
	}

	ts, err := strconv.ParseInt(query.Get("timestamp"), 10, 64)
	if err != nil {
		return &domain.AuthError{Reason: "missing or malformed proxy timestamp"}
	}
	if skew := now.Sub(time.Unix(ts, 0)); skew > ProxyMaxSkew || skew < -ProxyMaxSkew {
		return &domain.AuthError{Reason: "proxy timestamp outside allowed window"}
	}
	return nil
}
