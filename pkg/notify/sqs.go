package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
)

// sqsClient is the minimal subset of the SQS client used by sqsSender.
type sqsClient interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

type sqsSender struct {
	id       string
	queueURL string
	client   sqsClient
	log      logger.Logger
}

func newSQSSender(ctx context.Context, cfg ChannelConfig, log logger.Logger) (Sender, error) {
	if cfg.SQS == nil {
		return nil, fmt.Errorf("channel %q missing sqs configuration", cfg.ID)
	}
	awsCfg, err := awscfg.LoadDefaultConfig(ctx, awscfg.WithRegion(cfg.SQS.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	return &sqsSender{
		id:       cfg.ID,
		queueURL: cfg.SQS.QueueURL,
		client:   sqs.NewFromConfig(awsCfg),
		log:      log,
	}, nil
}

func (s *sqsSender) ID() string   { return s.id }
func (s *sqsSender) Type() string { return TypeSQS }

func (s *sqsSender) Send(ctx context.Context, report RunReport) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(s.queueURL),
		MessageBody: aws.String(string(payload)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"account": {
				DataType:    aws.String("String"),
				StringValue: aws.String(report.Account),
			},
		},
	}

	if _, err := s.client.SendMessage(ctx, input); err != nil {
		s.log.ErrorObj("sqs notification failed", "notify_sqs_error", map[string]any{
			"channel_id": s.id,
			"error":      err.Error(),
		})
		return fmt.Errorf("send message to sqs: %w", err)
	}
	s.log.DebugObj("sqs notification delivered", "notify_sqs_delivery", map[string]any{
		"channel_id": s.id,
	})
	return nil
}
