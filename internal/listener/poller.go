// Package listener runs the long-poll loop over the marketplace notification
// queue. The loop never terminates on its own: receive failures (including
// expired assume-role credentials) are logged and retried on the next cycle,
// and a fresh SQS client is built per cycle so credentials are always current.
package listener

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/vantage-compute/vantage-billing/internal/config"
	"github.com/vantage-compute/vantage-billing/internal/telemetry"
)

// SQSClient is the subset of the SQS API the poller uses.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// ClientFactory builds an SQS client. Called once per poll cycle so that
// assume-role credentials are re-resolved before they expire.
type ClientFactory func(ctx context.Context) (SQSClient, error)

// Handler processes one message body and reports whether the message should
// be deleted from the queue. A false return leaves the message for SQS
// redelivery.
type Handler func(ctx context.Context, body []byte) bool

// Poller long-polls an SQS queue and feeds message bodies to a handler.
type Poller struct {
	cfg      *config.SQSConfig
	clients  ClientFactory
	handler  Handler
	stopChan chan struct{}
}

// NewPoller creates a poller. Start must be called to begin polling.
func NewPoller(cfg *config.SQSConfig, clients ClientFactory, handler Handler) *Poller {
	return &Poller{
		cfg:      cfg,
		clients:  clients,
		handler:  handler,
		stopChan: make(chan struct{}),
	}
}

// Start runs the poll loop until the context is cancelled or Stop is called.
// It blocks; run it under a supervised goroutine.
func (p *Poller) Start(ctx context.Context) {
	slog.Info("starting marketplace queue listener",
		"queue_url", p.cfg.QueueURL,
		"wait_time_seconds", p.cfg.WaitTimeSeconds,
		"poll_interval", p.cfg.PollInterval)

	for {
		p.poll(ctx)

		select {
		case <-ctx.Done():
			slog.Info("marketplace queue listener stopped", "reason", "context cancelled")
			return
		case <-p.stopChan:
			slog.Info("marketplace queue listener stopped", "reason", "stop requested")
			return
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// Stop signals the poll loop to exit after the in-flight cycle.
func (p *Poller) Stop() {
	close(p.stopChan)
}

// poll runs one receive cycle. All failures are logged and swallowed so the
// loop survives transient queue and credential errors.
func (p *Poller) poll(ctx context.Context) {
	client, err := p.clients(ctx)
	if err != nil {
		slog.Error("failed to build SQS client", "error", err)
		telemetry.SQSReceiveErrorsTotal.Inc()
		return
	}

	out, err := client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(p.cfg.QueueURL),
		MaxNumberOfMessages: p.cfg.MaxMessages,
		WaitTimeSeconds:     p.cfg.WaitTimeSeconds,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		slog.Error("failed to receive from marketplace queue", "error", err)
		telemetry.SQSReceiveErrorsTotal.Inc()
		return
	}

	for _, msg := range out.Messages {
		telemetry.SQSMessagesReceivedTotal.Inc()

		if msg.Body == nil {
			slog.Warn("received SQS message with empty body", "message_id", aws.ToString(msg.MessageId))
			continue
		}

		if !p.handler(ctx, []byte(*msg.Body)) {
			continue
		}

		if _, err := client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(p.cfg.QueueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}); err != nil {
			slog.Error("failed to delete processed message",
				"message_id", aws.ToString(msg.MessageId),
				"error", err)
			continue
		}
		telemetry.SQSMessagesDeletedTotal.Inc()
	}
}
