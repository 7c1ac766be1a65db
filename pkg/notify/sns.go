package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
)

// snsClient is the minimal subset of the SNS client used by snsSender.
type snsClient interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

type snsSender struct {
	id       string
	topicARN string
	client   snsClient
	log      logger.Logger
}

func newSNSSender(ctx context.Context, cfg ChannelConfig, log logger.Logger) (Sender, error) {
	if cfg.SNS == nil {
		return nil, fmt.Errorf("channel %q missing sns configuration", cfg.ID)
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.SNS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &snsSender{
		id:       cfg.ID,
		topicARN: cfg.SNS.TopicARN,
		client:   sns.NewFromConfig(awsCfg),
		log:      log,
	}, nil
}

func (s *snsSender) ID() string   { return s.id }
func (s *snsSender) Type() string { return TypeSNS }

func (s *snsSender) Send(ctx context.Context, report RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	input := &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Message:  aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"account": {
				DataType:    aws.String("String"),
				StringValue: aws.String(report.Account),
			},
			"status": {
				DataType:    aws.String("String"),
				StringValue: aws.String(report.Status),
			},
		},
	}

	if _, err := s.client.Publish(ctx, input); err != nil {
		s.log.ErrorObj("sns notification failed", "notify_sns_error", map[string]any{
			"channel_id": s.id,
			"error":      err.Error(),
		})
		return fmt.Errorf("publish to sns: %w", err)
	}
	s.log.DebugObj("sns notification delivered", "notify_sns_delivery", map[string]any{
		"channel_id": s.id,
	})
	return nil
}
