package ingress

import (
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/stretchr/testify/assert"
)

const secret = "shpss_test_secret"

func TestVerifyWebhook(t *testing.T) {
	body := []byte(`{"id":1,"variants":[]}`)
	good := SignWebhook(secret, body)

	tests := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		wantErr   bool
	}{
		{"valid", secret, body, good, false},
		{"valid with padding whitespace", secret, body, " " + good + " ", false},
		{"tampered body", secret, []byte(`{"id":2,"variants":[]}`), good, true},
		{"wrong secret", "other", body, good, true},
		{"missing signature", secret, body, "", true},
		{"not base64", secret, body, "%%%", true},
		{"no secret configured", "", body, good, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyWebhook(tt.secret, tt.body, tt.signature)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrAuth)
			var authErr *domain.AuthError
			assert.ErrorAs(t, err, &authErr)
		})
	}
}

func signedProxyQuery(ts string) url.Values {
	query := url.Values{
		"shop":        {"demo.myshopify.com"},
		"path_prefix": {"/apps/restock"},
	}
	if ts != "" {
		query.Set("timestamp", ts)
	}
	query.Set("signature", SignProxy(secret, query))
	return query
}

func TestVerifyProxy(t *testing.T) {
	query := signedProxyQuery(strconv.FormatInt(time.Now().Unix(), 10))

	assert.NoError(t, VerifyProxy(secret, query))

	tampered := url.Values{}
	for k, v := range query {
		tampered[k] = v
	}
	tampered.Set("shop", "evil.myshopify.com")
	assert.ErrorIs(t, VerifyProxy(secret, tampered), domain.ErrAuth)

	unsigned := url.Values{"shop": {"demo.myshopify.com"}}
	assert.ErrorIs(t, VerifyProxy(secret, unsigned), domain.ErrAuth)
}

func TestVerifyProxy_Timestamp(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	at := func(d time.Duration) string { return strconv.FormatInt(now.Add(d).Unix(), 10) }

	tests := []struct {
		name    string
		ts      string
		wantErr bool
	}{
		{"current", at(0), false},
		{"slightly old", at(-4 * time.Minute), false},
		{"slightly ahead", at(time.Minute), false},
		{"replayed later", at(-6 * time.Minute), true},
		{"far future", at(time.Hour), true},
		{"missing", "", true},
		{"not a number", "yesterday", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyProxyAt(secret, signedProxyQuery(tt.ts), now)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, domain.ErrAuth)
		})
	}
}

func TestSignProxy_JoinsRepeatedValues(t *testing.T) {
	a := SignProxy(secret, url.Values{"ids": {"1", "2"}})
	b := SignProxy(secret, url.Values{"ids": {"1,2"}})
	assert.Equal(t, a, b)
}
