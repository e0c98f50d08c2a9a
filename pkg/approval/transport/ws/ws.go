// Package ws is a reference implementation of the approval.Channel
// contract over a single long-lived websocket connection: Submit writes a
// JSON request frame, and a background read loop delivers verdict frames
// back into the Coordinator by task_id. It is a sample transport, not the
// only valid one — the core approval coordinator only depends on the
// abstract Channel interface.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/olegmukhin/thoughtgate/pkg/approval"
	"github.com/olegmukhin/thoughtgate/pkg/logx"
	"github.com/olegmukhin/thoughtgate/pkg/policy"
)

const (
	writeTimeout    = 10 * time.Second
	handshakeWindow = 15 * time.Second
)

// request is the wire shape sent to the approval-channel peer.
type request struct {
	TaskID         string `json:"task_id"`
	PrincipalNS    string `json:"principal_namespace"`
	PrincipalApp   string `json:"principal_app"`
	ResourceKind   string `json:"resource_kind"`
	ResourceName   string `json:"resource_name"`
	ResourceServer string `json:"resource_server"`
	DeadlineUnix   int64  `json:"deadline_unix"`
}

// response is the wire shape a peer sends back to resolve a ticket.
// Verdict is "granted" or "denied"; silence past the ticket's own deadline
// is handled entirely by the Coordinator's expiry timer, not by this
// transport, matching "Expired rather than Denied on silence".
type response struct {
	TaskID  string `json:"task_id"`
	Verdict string `json:"verdict"`
}

// Deliverer is the subset of approval.Coordinator the read loop needs.
type Deliverer interface {
	Deliver(taskID string, verdict approval.Verdict)
}

// Channel implements approval.Channel over one websocket connection.
type Channel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	logger *logx.Logger
}

// Dial connects to url and starts the background read loop that delivers
// verdicts into coord. The caller is responsible for calling Close when
// done.
func Dial(ctx context.Context, url string, coord Deliverer) (*Channel, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeWindow}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ws: dial %s: %w", url, err)
	}

	c := &Channel{conn: conn, logger: logx.NewLogger("approval-ws")}
	go c.readLoop(coord)
	return c, nil
}

func (c *Channel) readLoop(coord Deliverer) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.logger.Warn("read loop exiting: %v", err)
			return
		}

		var resp response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("malformed verdict frame: %v", err)
			continue
		}

		switch resp.Verdict {
		case "granted":
			coord.Deliver(resp.TaskID, approval.VerdictGranted)
		case "denied":
			coord.Deliver(resp.TaskID, approval.VerdictDenied)
		default:
			c.logger.Warn("unknown verdict %q for task %s", resp.Verdict, resp.TaskID)
		}
	}
}

// Submit implements approval.Channel.
func (c *Channel) Submit(ctx context.Context, taskID string, ticket *approval.Ticket) error {
	req := request{
		TaskID:         taskID,
		PrincipalNS:    ticket.Principal.Namespace,
		PrincipalApp:   ticket.Principal.AppName,
		ResourceServer: ticket.Resource.Server,
		DeadlineUnix:   ticket.Deadline.Unix(),
	}
	switch ticket.Resource.Kind {
	case policy.ResourceToolCall:
		req.ResourceKind = "tool_call"
		req.ResourceName = ticket.Resource.Name
	case policy.ResourceMcpMethod:
		req.ResourceKind = "mcp_method"
		req.ResourceName = ticket.Resource.Method
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("ws: encode request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("ws: set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("ws: write request: %w", err)
	}
	return nil
}

// Close closes the underlying connection, terminating the read loop.
func (c *Channel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.Close()
}
