package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/olegmukhin/thoughtgate/pkg/approval"
	"github.com/olegmukhin/thoughtgate/pkg/policy"
)

type fakeDeliverer struct {
	mu   sync.Mutex
	gots []string
}

func (f *fakeDeliverer) Deliver(taskID string, verdict approval.Verdict) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v := "denied"
	if verdict == approval.VerdictGranted {
		v = "granted"
	}
	f.gots = append(f.gots, taskID+":"+v)
}

func (f *fakeDeliverer) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.gots...)
}

func newEchoServer(t *testing.T, reply func(req map[string]any) map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req map[string]any
		require.NoError(t, json.Unmarshal(data, &req))

		resp := reply(req)
		if resp == nil {
			return
		}
		payload, _ := json.Marshal(resp)
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}))
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestSubmit_SendsRequestAndReceivesGrantedVerdict(t *testing.T) {
	srv := newEchoServer(t, func(req map[string]any) map[string]any {
		return map[string]any{"task_id": req["task_id"], "verdict": "granted"}
	})
	defer srv.Close()

	d := &fakeDeliverer{}
	ch, err := Dial(context.Background(), wsURL(srv), d)
	require.NoError(t, err)
	defer ch.Close()

	ticket := approval.NewTicket(
		policy.Principal{Namespace: "prod", AppName: "agent"},
		policy.ToolCall("delete_user", "admin-server"),
		time.Minute,
	)
	require.NoError(t, ch.Submit(context.Background(), ticket.TaskID, ticket))

	require.Eventually(t, func() bool {
		return len(d.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{ticket.TaskID + ":granted"}, d.snapshot())
}

func TestSubmit_DeniedVerdict(t *testing.T) {
	srv := newEchoServer(t, func(req map[string]any) map[string]any {
		return map[string]any{"task_id": req["task_id"], "verdict": "denied"}
	})
	defer srv.Close()

	d := &fakeDeliverer{}
	ch, err := Dial(context.Background(), wsURL(srv), d)
	require.NoError(t, err)
	defer ch.Close()

	ticket := approval.NewTicket(
		policy.Principal{Namespace: "prod", AppName: "agent"},
		policy.McpMethod("tools/list", "fs-server"),
		time.Minute,
	)
	require.NoError(t, ch.Submit(context.Background(), ticket.TaskID, ticket))

	require.Eventually(t, func() bool {
		return len(d.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, []string{ticket.TaskID + ":denied"}, d.snapshot())
}

func TestSubmit_MalformedVerdictFrameIsIgnored(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		upgrader := websocket.Upgrader{}
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		_, _, _ = conn.ReadMessage()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
	}))
	defer srv.Close()

	d := &fakeDeliverer{}
	ch, err := Dial(context.Background(), wsURL(srv), d)
	require.NoError(t, err)
	defer ch.Close()

	ticket := approval.NewTicket(policy.Principal{Namespace: "prod"}, policy.ToolCall("x", "s"), time.Minute)
	require.NoError(t, ch.Submit(context.Background(), ticket.TaskID, ticket))

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, d.snapshot())
}
