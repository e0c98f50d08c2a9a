// Package proxyservice implements the per-request state machine that
// glues the other subsystems together: classify -> evaluate -> route ->
// respond. It is the http.Handler the binary driver mounts.
package proxyservice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/olegmukhin/thoughtgate/pkg/approval"
	"github.com/olegmukhin/thoughtgate/pkg/classify"
	"github.com/olegmukhin/thoughtgate/pkg/config"
	govern "github.com/olegmukhin/thoughtgate/pkg/govern/errors"
	"github.com/olegmukhin/thoughtgate/pkg/identity"
	"github.com/olegmukhin/thoughtgate/pkg/logx"
	"github.com/olegmukhin/thoughtgate/pkg/metrics"
	"github.com/olegmukhin/thoughtgate/pkg/policy"
	"github.com/olegmukhin/thoughtgate/pkg/streaming"
)

// maxClassifyBytes bounds how much of the request body Service buffers to
// classify the request; it is unrelated to the proxy.peek limits, which
// bound the defensive parsing ProxyBody performs on the response side.
const maxClassifyBytes = 4 << 20

// hopByHopHeaders are stripped in both directions: the Forward path
// preserves request and response headers with the exception of these.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Proxy-Authenticate", "Proxy-Authorization",
	"Te", "Trailer", "Transfer-Encoding", "Upgrade",
}

// Upstream identifies one forwardable backend by the server name
// classify.Classify and policy.Resource use.
type Upstream struct {
	Name    string
	BaseURL *url.URL
}

// Service is the proxy's http.Handler. It is process-wide, constructed
// once at startup with its collaborators handed in explicitly rather
// than reached via ambient globals.
type Service struct {
	engine  policy.Engine
	coord   *approval.Coordinator
	cfg     *config.Holder
	metrics *metrics.Recorder
	client  *http.Client
	logger  *logx.Logger

	upstreams map[string]*url.URL
}

// New constructs a Service. upstreams maps the server identifier used in
// request paths (/proxy/{server}/...) to its base URL.
func New(engine policy.Engine, coord *approval.Coordinator, cfg *config.Holder, rec *metrics.Recorder, upstreams map[string]*url.URL) *Service {
	return &Service{
		engine:  engine,
		coord:   coord,
		cfg:     cfg,
		metrics: rec,
		client: &http.Client{
			Timeout: 0, // the Timeout Body enforces deadlines, not the client
		},
		logger:    logx.NewLogger("proxyservice"),
		upstreams: upstreams,
	}
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	server, routePath, ok := splitUpstreamPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}
	target, ok := s.upstreams[server]
	if !ok {
		http.NotFound(w, r)
		return
	}

	principal, err := identity.FromHeaders(r.Header)
	if err != nil {
		s.writeError(w, govern.PolicyDenied("missing identity metadata"))
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxClassifyBytes+1))
	if err != nil {
		s.writeError(w, govern.UpstreamTransport(err))
		return
	}
	if len(body) > maxClassifyBytes {
		s.writeError(w, govern.PolicyDenied("request body too large to classify"))
		return
	}

	result := classify.Classify(server, routePath, body)

	decision, err := s.engine.Evaluate(r.Context(), policy.Request{Principal: principal, Resource: result.Resource})
	if err != nil {
		s.logger.Error("policy engine error for %s: %v", result.Resource, err)
		decision = policy.Reject("policy engine error")
	}

	s.dispatch(w, r, decision, principal, result.Resource, target, body)
}

func (s *Service) dispatch(w http.ResponseWriter, r *http.Request, decision policy.Decision, principal policy.Principal, resource policy.Resource, target *url.URL, body []byte) {
	switch decision.Kind {
	case policy.DecisionForward:
		s.metrics.ObserveDecision("forward")
		s.forward(w, r, target, body)

	case policy.DecisionReject:
		s.metrics.ObserveDecision("reject")
		s.logger.Info("rejected principal=%s resource=%s reason=%s", principal, resource, decision.Reason)
		s.writeError(w, govern.PolicyDenied(decision.Reason))

	case policy.DecisionApprove:
		s.metrics.ObserveDecision("approve")
		s.awaitApproval(w, r, decision, principal, resource, target, body)

	default:
		s.writeError(w, govern.PolicyEngineError(fmt.Errorf("unknown decision kind %v", decision.Kind)))
	}
}

func (s *Service) awaitApproval(w http.ResponseWriter, r *http.Request, decision policy.Decision, principal policy.Principal, resource policy.Resource, target *url.URL, body []byte) {
	ticket := approval.NewTicket(principal, resource, decision.Timeout)

	waitStart := time.Now()
	state := s.coord.Submit(r.Context(), ticket)
	s.metrics.ObserveApprovalOutcome(strings.ToLower(state.String()), time.Since(waitStart))

	switch state {
	case approval.Granted:
		s.forward(w, r, target, body)
	case approval.Denied:
		s.writeError(w, govern.ApprovalDenied())
	case approval.Expired:
		s.writeError(w, govern.ApprovalTimeout())
	case approval.Cancelled:
		// client is already gone; no response to write.
	}
}

func (s *Service) forward(w http.ResponseWriter, r *http.Request, target *url.URL, body []byte) {
	outURL := *target
	outURL.Path = singleJoiningSlash(target.Path, trimUpstreamPrefix(r.URL.Path))
	outURL.RawQuery = r.URL.RawQuery

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, outURL.String(), bytes.NewReader(body))
	if err != nil {
		s.writeError(w, govern.UpstreamTransport(err))
		return
	}
	copyHeaders(outReq.Header, r.Header)

	resp, err := s.client.Do(outReq)
	if err != nil {
		s.writeError(w, govern.UpstreamTransport(err))
		return
	}

	cfg := s.cfg.Get()
	peekLimits := streaming.Limits{
		MaxHeaderLines:     cfg.Peek.MaxHeaderLines,
		MaxHeaderLineBytes: cfg.Peek.MaxHeaderLineBytes,
		MaxChunkBytes:      cfg.Peek.MaxChunkBytes,
		MaxParserProgress:  cfg.Peek.MaxParserProgress,
	}
	proxyBody := streaming.NewProxyBody(resp.Body, peekLimits)
	timeoutBody := streaming.NewTimeoutBody(proxyBody, cfg.Forward.ChunkTimeout, cfg.Forward.TotalTimeout)

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)

	start := time.Now()
	outcome := s.streamResponse(r.Context(), w, timeoutBody)
	s.metrics.ObserveStream(outcome, time.Since(start))
}

// streamResponse copies the upstream body to the client, flushing after
// every chunk for SSE responses, and closes the upstream connection
// promptly if the client disconnects. The copy runs in its own goroutine
// so a client disconnect (ctx.Done) can close body and unblock a Read that
// is waiting on the upstream, without ever blocking on a goroutine that
// only exits once the copy itself is already done.
func (s *Service) streamResponse(ctx context.Context, w http.ResponseWriter, body *streaming.TimeoutBody) string {
	flusher, _ := w.(http.Flusher)
	outcome := "completed"

	copyDone := make(chan error, 1)
	go func() {
		buf := make([]byte, 32*1024)
		for {
			n, err := body.Read(buf)
			if n > 0 {
				if _, werr := w.Write(buf[:n]); werr != nil {
					copyDone <- werr
					return
				}
				if flusher != nil {
					flusher.Flush()
				}
			}
			if err != nil {
				if err == io.EOF {
					err = nil
				}
				copyDone <- err
				return
			}
		}
	}()

	var err error
	select {
	case err = <-copyDone:
	case <-ctx.Done():
		body.Close()
		err = <-copyDone
	}

	if err != nil {
		if gerr, ok := govern.As(err); ok {
			switch gerr.Kind {
			case govern.KindUpstreamTimeout:
				s.metrics.ObserveUpstreamTimeout(string(gerr.Deadline))
				outcome = "chunk_timeout"
				if gerr.Deadline == govern.DeadlineTotal {
					outcome = "total_timeout"
				}
			default:
				outcome = "transport_error"
			}
		} else {
			outcome = "transport_error"
		}
		s.logger.Warn("stream ended with error: %v", err)
	}
	return outcome
}

func (s *Service) writeError(w http.ResponseWriter, err *govern.Error) {
	rpc := govern.Boundary(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(rpc.HTTPStatus)
	fmt.Fprintf(w, `{"jsonrpc":"2.0","error":{"code":%d,"message":%q}}`, rpc.Code, rpc.Message)
}

func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func isHopByHop(header string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, header) {
			return true
		}
	}
	return false
}

func splitUpstreamPath(path string) (server, rest string, ok bool) {
	const prefix = "/proxy/"
	if !strings.HasPrefix(path, prefix) {
		return "", "", false
	}
	trimmed := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(trimmed, "/", 2)
	if parts[0] == "" {
		return "", "", false
	}
	if len(parts) == 1 {
		return parts[0], "/", true
	}
	return parts[0], "/" + parts[1], true
}

func trimUpstreamPrefix(path string) string {
	_, rest, _ := splitUpstreamPath(path)
	return rest
}

func singleJoiningSlash(a, b string) string {
	aSlash := strings.HasSuffix(a, "/")
	bSlash := strings.HasPrefix(b, "/")
	switch {
	case aSlash && bSlash:
		return a + b[1:]
	case !aSlash && !bSlash:
		return a + "/" + b
	default:
		return a + b
	}
}
