package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
)

type pubsubSender struct {
	id     string
	client *pubsub.Client
	topic  *pubsub.Topic
	log    logger.Logger
}

func newPubSubSender(ctx context.Context, cfg ChannelConfig, log logger.Logger) (Sender, error) {
	if cfg.PubSub == nil {
		return nil, fmt.Errorf("channel %q missing pubsub configuration", cfg.ID)
	}
	return newPubSubSenderWithOptions(ctx, cfg, log)
}

// newPubSubSenderWithOptions exists so tests can point the client at the
// pstest emulator.
func newPubSubSenderWithOptions(ctx context.Context, cfg ChannelConfig, log logger.Logger, opts ...option.ClientOption) (Sender, error) {
	client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &pubsubSender{
		id:     cfg.ID,
		client: client,
		topic:  client.Topic(cfg.PubSub.Topic),
		log:    log,
	}, nil
}

func (p *pubsubSender) ID() string   { return p.id }
func (p *pubsubSender) Type() string { return TypePubSub }

func (p *pubsubSender) Send(ctx context.Context, report RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	result := p.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"account": report.Account,
			"status":  report.Status,
		},
	})
	if _, err := result.Get(ctx); err != nil {
		p.log.ErrorObj("pubsub notification failed", "notify_pubsub_error", map[string]any{
			"channel_id": p.id,
			"error":      err.Error(),
		})
		return fmt.Errorf("publish to pubsub: %w", err)
	}
	p.log.DebugObj("pubsub notification delivered", "notify_pubsub_delivery", map[string]any{
		"channel_id": p.id,
	})
	return nil
}
