package ingress

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSQS struct {
	messages []types.Message
	deleted  []string
}

func (f *fakeSQS) ReceiveMessage(_ context.Context, _ *sqs.ReceiveMessageInput, _ ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	out := &sqs.ReceiveMessageOutput{Messages: f.messages}
	f.messages = nil
	return out, nil
}

func (f *fakeSQS) DeleteMessage(_ context.Context, in *sqs.DeleteMessageInput, _ ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	f.deleted = append(f.deleted, aws.ToString(in.ReceiptHandle))
	return &sqs.DeleteMessageOutput{}, nil
}

func envelope(id, topic, payload string) string {
	return `{"id":"evb-` + id + `","detail-type":"shopifyWebhook","detail":{"payload":` + payload +
		`,"metadata":{"X-Shopify-Topic":"` + topic + `","X-Shopify-Shop-Domain":"demo.myshopify.com","X-Shopify-Webhook-Id":"` + id + `"}}}`
}

func TestSQSConsumer_Poll(t *testing.T) {
	h := newHarness(t)
	h.processor.resolver = failingResolver{}

	client := &fakeSQS{messages: []types.Message{
		{ReceiptHandle: aws.String("ok"), Body: aws.String(envelope("wh-1", domain.TopicProductsUpdate, productUpdate))},
		{ReceiptHandle: aws.String("garbage"), Body: aws.String(`not json`)},
		{ReceiptHandle: aws.String("invalid"), Body: aws.String(envelope("wh-2", domain.TopicOrdersCreate, `{"email":"a@b.com"}`))},
		{ReceiptHandle: aws.String("transient"), Body: aws.String(envelope("wh-3", domain.TopicInventoryLevelsUpdate, `{"inventory_item_id":1,"available":2}`))},
	}}
	consumer := NewSQSConsumerWithClient(client, "https://sqs.local/restock", h.processor, slog.New(slog.NewTextHandler(io.Discard, nil)))

	consumer.poll(context.Background())

	assert.ElementsMatch(t, []string{"ok", "garbage", "invalid"}, client.deleted)
	require.Len(t, h.queue.events, 2)
	assert.Equal(t, "demo.myshopify.com", h.queue.events[0].Shop)
}

func TestUnwrapEventBridge(t *testing.T) {
	w, err := unwrapEventBridge(envelope("wh-9", domain.TopicOrdersCreate, `{"line_items":[]}`))
	require.NoError(t, err)
	assert.Equal(t, "wh-9", w.ID)
	assert.Equal(t, domain.TopicOrdersCreate, w.Topic)
	assert.Equal(t, "demo.myshopify.com", w.Shop)
	assert.JSONEq(t, `{"line_items":[]}`, string(w.Body))

	_, err = unwrapEventBridge(`{"detail":{}}`)
	assert.Error(t, err)
}
