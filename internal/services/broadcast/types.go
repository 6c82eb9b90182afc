package broadcast

import (
	"context"
	"errors"
	"time"

	"tgcast/internal/snapshot"
)

var ErrSendFailed = errors.New("send failed")

const DefaultDelay = 2 * time.Second

type Config struct {
	Delay             time.Duration
	DelayAfterFailure bool
}

// ConfirmFunc gates a run. It receives the number of records and the message
// about to be sent; returning false aborts before any send.
type ConfirmFunc func(ctx context.Context, total int, message string) bool

// Result is the outcome of one send attempt.
type Result struct {
	Record snapshot.Record
	Err    error
}

func (r Result) OK() bool { return r.Err == nil }

// Outcome summarizes one run. It is not persisted beyond the audit log.
type Outcome struct {
	RunID     string
	Declined  bool
	Attempted int
	Succeeded int
	Failed    int
	Results   []Result
	StartedAt time.Time
	DoneAt    time.Time
}

// Failures returns the records whose send failed, in send order.
func (o Outcome) Failures() []Result {
	var out []Result
	for _, r := range o.Results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}
