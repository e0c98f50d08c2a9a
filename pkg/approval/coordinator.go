package approval

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/olegmukhin/thoughtgate/pkg/logx"
	"github.com/olegmukhin/thoughtgate/pkg/ratelimit"
)

// Channel is the out-of-band approval transport, treated as an abstract
// contract external to this package. Submit only needs to deliver the
// request; the verdict comes back later through Coordinator.Deliver,
// called by whatever drives the concrete transport (chat platform
// webhook, websocket message, ...).
type Channel interface {
	Submit(ctx context.Context, taskID string, ticket *Ticket) error
}

type entry struct {
	ticket *Ticket
	state  atomic.Int32
	timer  *time.Timer
}

// Coordinator is process-wide: one registry of in-flight tickets keyed by
// task_id, one shared Rate Limiter gating submissions to the approval
// channel. Tickets hold only their task_id; the Coordinator is the sole
// owner of the task_id -> entry mapping, so ticket and coordinator never
// need to reference each other directly.
type Coordinator struct {
	mu      sync.Mutex
	tickets map[string]*entry

	limiter *ratelimit.Limiter
	channel Channel
	logger  *logx.Logger
}

// New constructs a Coordinator. limiter fronts every approval-channel
// submission; channel delivers the actual out-of-band request.
func New(limiter *ratelimit.Limiter, channel Channel) *Coordinator {
	return &Coordinator{
		tickets: make(map[string]*entry),
		limiter: limiter,
		channel: channel,
		logger:  logx.NewLogger("approval"),
	}
}

func (c *Coordinator) register(ticket *Ticket) *entry {
	e := &entry{ticket: ticket}
	e.state.Store(int32(Waiting))

	c.mu.Lock()
	c.tickets[ticket.TaskID] = e
	c.mu.Unlock()

	e.timer = time.AfterFunc(time.Until(ticket.Deadline), func() {
		c.resolve(ticket.TaskID, Expired)
	})
	return e
}

func (c *Coordinator) unregister(taskID string) {
	c.mu.Lock()
	e, ok := c.tickets[taskID]
	if ok {
		delete(c.tickets, taskID)
	}
	c.mu.Unlock()
	if ok && e.timer != nil {
		e.timer.Stop()
	}
}

// resolve attempts the terminal transition for taskID to state `to`. Only
// the first caller across {Deliver, deadline timer, Cancel} wins; it
// writes the winning state to the ticket's completion channel and returns
// true. Later callers are no-ops and return false, guaranteeing exactly
// one terminal transition per ticket.
func (c *Coordinator) resolve(taskID string, to State) bool {
	c.mu.Lock()
	e, ok := c.tickets[taskID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	if e.state.CompareAndSwap(int32(Waiting), int32(to)) {
		e.ticket.done <- to
		return true
	}
	return false
}

// Submit registers ticket, waits for a rate-limiter slot, hands the
// request to the approval channel, and blocks until a terminal state is
// reached: Granted or Denied (via Deliver), Expired (deadline fires,
// including while still waiting on the rate limiter), or Cancelled (ctx is
// done). It never returns before a terminal state is reached.
func (c *Coordinator) Submit(ctx context.Context, ticket *Ticket) State {
	c.register(ticket)
	defer c.unregister(ticket.TaskID)

	acquireCtx, cancel := context.WithDeadline(ctx, ticket.Deadline)
	defer cancel()

	if err := c.limiter.Acquire(acquireCtx); err != nil {
		if ctx.Err() != nil {
			c.resolve(ticket.TaskID, Cancelled)
		} else {
			c.resolve(ticket.TaskID, Expired)
		}
		return ticket.Wait()
	}

	if err := c.channel.Submit(acquireCtx, ticket.TaskID, ticket); err != nil {
		c.logger.Warn("approval channel submit failed for %s: %v", ticket.TaskID, err)
		c.resolve(ticket.TaskID, Expired)
		return ticket.Wait()
	}

	select {
	case st := <-ticket.done:
		return st
	case <-ctx.Done():
		c.resolve(ticket.TaskID, Cancelled)
		return ticket.Wait()
	}
}

// Deliver applies a verdict from the approval channel. Idempotent: once a
// ticket has reached a terminal state, subsequent calls for the same
// task_id are silently ignored.
func (c *Coordinator) Deliver(taskID string, verdict Verdict) {
	to := Denied
	if verdict == VerdictGranted {
		to = Granted
	}
	c.resolve(taskID, to)
}

// Cancel applies a client-initiated cancellation, independent of Submit's
// own ctx — useful when cancellation is observed by a different goroutine
// than the one blocked in Submit.
func (c *Coordinator) Cancel(taskID string) {
	c.resolve(taskID, Cancelled)
}
