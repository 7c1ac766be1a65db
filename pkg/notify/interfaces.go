package notify

import "context"

// Sender delivers run reports to one downstream channel (SNS, SQS, Pub/Sub,
// HTTP webhook).
type Sender interface {
	ID() string
	Type() string
	Send(ctx context.Context, report RunReport) error
}
