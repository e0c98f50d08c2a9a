// Package approval implements the suspension protocol: a request that
// receives an Approve decision registers a Ticket and blocks until a
// verdict arrives out-of-band, the deadline fires, or the client cancels —
// whichever comes first, exactly once.
package approval

import (
	"time"

	"github.com/google/uuid"

	"github.com/olegmukhin/thoughtgate/pkg/policy"
)

// State is a Ticket's terminal (or non-terminal) status.
type State int32

const (
	Waiting State = iota
	Granted
	Denied
	Expired
	Cancelled
)

func (s State) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Granted:
		return "granted"
	case Denied:
		return "denied"
	case Expired:
		return "expired"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Verdict is the outcome delivered by the out-of-band approval channel.
// Expired is never sent by a channel implementation directly — it is
// applied by the Coordinator when the deadline fires first.
type Verdict int32

const (
	VerdictGranted Verdict = iota
	VerdictDenied
)

// Ticket is the request-owned half of an approval: it holds only its
// task_id and a one-shot completion channel. The task_id -> entry lookup
// is owned entirely by the Coordinator, so ticket and coordinator never
// hold references to each other.
type Ticket struct {
	TaskID       string
	Principal    policy.Principal
	Resource     policy.Resource
	Deadline     time.Time
	CreationTime time.Time

	done chan State
}

// NewTicket constructs a Ticket with a fresh task_id and a deadline
// computed from arrival time + timeout.
func NewTicket(principal policy.Principal, resource policy.Resource, timeout time.Duration) *Ticket {
	now := time.Now()
	return &Ticket{
		TaskID:       uuid.NewString(),
		Principal:    principal,
		Resource:     resource,
		Deadline:     now.Add(timeout),
		CreationTime: now,
		done:         make(chan State, 1),
	}
}

// Wait blocks until the ticket reaches a terminal state, which the
// Coordinator guarantees happens no later than Deadline.
func (t *Ticket) Wait() State {
	return <-t.done
}
