package notify

import (
	"context"
	"errors"
	"fmt"
)

// Fanout dispatches run reports to all configured channels. Delivery is
// best-effort per channel; one broken webhook must not hide the report from
// the others.
type Fanout struct {
	senders []Sender
}

func NewFanout(senders []Sender) *Fanout {
	cp := make([]Sender, 0, len(senders))
	for _, s := range senders {
		if s != nil {
			cp = append(cp, s)
		}
	}
	return &Fanout{senders: cp}
}

// Send forwards the report to every channel and returns how many succeeded
// along with the joined delivery errors.
func (f *Fanout) Send(ctx context.Context, report RunReport) (int, error) {
	if f == nil || len(f.senders) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, s := range f.senders {
		if err := s.Send(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("%s channel[%s]: %w", s.Type(), s.ID(), err))
		} else {
			successful++
		}
	}
	return successful, errors.Join(errs...)
}

// Size returns the number of active channels.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.senders)
}
