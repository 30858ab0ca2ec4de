package ingress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Priya8975/restock-notifier/internal/domain"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSAPI is the part of the SQS client the consumer uses.
type SQSAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// eventBridgeEnvelope is how Shopify's EventBridge integration wraps a
// webhook. The metadata map carries the same headers as an HTTP delivery.
type eventBridgeEnvelope struct {
	ID     string `json:"id"`
	Detail struct {
		Payload  json.RawMessage   `json:"payload"`
		Metadata map[string]string `json:"metadata"`
	} `json:"detail"`
}

// SQSConsumer reads Shopify webhooks routed through EventBridge into SQS.
// Messages are deleted on success and when they can never succeed; transient
// failures are left for SQS to redeliver after the visibility timeout.
type SQSConsumer struct {
	client    SQSAPI
	queueURL  string
	processor *Processor
	logger    *slog.Logger
	backoff   time.Duration
}

// NewSQSConsumer loads AWS configuration from the environment. endpoint
// overrides the SQS endpoint, e.g. for LocalStack.
func NewSQSConsumer(ctx context.Context, queueURL, endpoint string, processor *Processor, logger *slog.Logger) (*SQSConsumer, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := sqs.NewFromConfig(cfg, func(o *sqs.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return NewSQSConsumerWithClient(client, queueURL, processor, logger), nil
}

func NewSQSConsumerWithClient(client SQSAPI, queueURL string, processor *Processor, logger *slog.Logger) *SQSConsumer {
	return &SQSConsumer{
		client:    client,
		queueURL:  queueURL,
		processor: processor,
		logger:    logger,
		backoff:   5 * time.Second,
	}
}

// Start long-polls until ctx is cancelled.
func (c *SQSConsumer) Start(ctx context.Context) {
	c.logger.Info("sqs consumer started", "queue", c.queueURL)
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sqs consumer stopping")
			return
		default:
			c.poll(ctx)
		}
	}
}

func (c *SQSConsumer) poll(ctx context.Context) {
	output, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.queueURL),
		MaxNumberOfMessages: 10,
		WaitTimeSeconds:     20,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		c.logger.Error("sqs receive failed", "error", err)
		select {
		case <-ctx.Done():
		case <-time.After(c.backoff):
		}
		return
	}

	for _, msg := range output.Messages {
		c.handle(ctx, msg)
	}
}

func (c *SQSConsumer) handle(ctx context.Context, msg types.Message) {
	if msg.ReceiptHandle == nil || *msg.ReceiptHandle == "" {
		c.logger.Error("sqs message without receipt handle")
		return
	}

	webhook, err := unwrapEventBridge(aws.ToString(msg.Body))
	if err != nil {
		// Unparseable messages would loop forever.
		c.logger.Error("dropping malformed sqs message", "error", err, "message_id", aws.ToString(msg.MessageId))
		c.delete(ctx, msg.ReceiptHandle)
		return
	}

	outcome, err := c.processor.Process(ctx, webhook)
	switch {
	case err == nil:
		c.logger.Info("sqs webhook processed",
			"topic", outcome.Topic,
			"shop", webhook.Shop,
			"restocks", outcome.Restocks,
			"duplicate", outcome.Duplicate,
		)
		c.delete(ctx, msg.ReceiptHandle)
	case errors.Is(err, domain.ErrValidation):
		c.logger.Warn("dropping invalid webhook", "error", err, "topic", webhook.Topic, "shop", webhook.Shop)
		c.delete(ctx, msg.ReceiptHandle)
	default:
		c.logger.Error("sqs webhook failed, leaving for redelivery", "error", err, "topic", webhook.Topic, "shop", webhook.Shop)
	}
}

func unwrapEventBridge(body string) (Webhook, error) {
	var env eventBridgeEnvelope
	if err := json.Unmarshal([]byte(body), &env); err != nil {
		return Webhook{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if len(env.Detail.Payload) == 0 {
		return Webhook{}, errors.New("envelope has no payload")
	}

	meta := env.Detail.Metadata
	id := meta[HeaderWebhookID]
	if id == "" {
		id = env.ID
	}
	return Webhook{
		ID:    id,
		Topic: meta[HeaderTopic],
		Shop:  meta[HeaderShop],
		Body:  env.Detail.Payload,
	}, nil
}

func (c *SQSConsumer) delete(ctx context.Context, receiptHandle *string) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: receiptHandle,
	})
	if err != nil {
		c.logger.Error("failed to delete sqs message", "error", err)
	}
}
