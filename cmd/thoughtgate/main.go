// thoughtgate is the sidecar proxy binary: it wires the policy engine, rate
// limiter, approval coordinator and proxy service together and serves them
// over HTTP until it receives a shutdown signal.
//
// Usage:
//
//	thoughtgate -config /etc/thoughtgate/config.yaml -upstream fs-server=http://127.0.0.1:9001
//
// Exit codes: 0 clean shutdown, 1 configuration error (also used when the
// graceful shutdown itself fails), 2 bind failure.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/olegmukhin/thoughtgate/pkg/approval"
	"github.com/olegmukhin/thoughtgate/pkg/approval/transport/ws"
	"github.com/olegmukhin/thoughtgate/pkg/config"
	"github.com/olegmukhin/thoughtgate/pkg/logx"
	"github.com/olegmukhin/thoughtgate/pkg/metrics"
	"github.com/olegmukhin/thoughtgate/pkg/policy"
	"github.com/olegmukhin/thoughtgate/pkg/policy/static"
	"github.com/olegmukhin/thoughtgate/pkg/proxyservice"
	"github.com/olegmukhin/thoughtgate/pkg/ratelimit"
)

const shutdownWindow = 15 * time.Second

// upstreamFlag is a repeatable -upstream name=url flag.
type upstreamFlag map[string]*url.URL

func (u upstreamFlag) String() string {
	parts := make([]string, 0, len(u))
	for name, target := range u {
		parts = append(parts, name+"="+target.String())
	}
	return strings.Join(parts, ",")
}

func (u upstreamFlag) Set(value string) error {
	name, raw, ok := strings.Cut(value, "=")
	if !ok || name == "" || raw == "" {
		return fmt.Errorf("upstream flag must be name=url, got %q", value)
	}
	target, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("upstream %q: %w", name, err)
	}
	u[name] = target
	return nil
}

func main() {
	var configPath string
	upstreams := make(upstreamFlag)
	flag.StringVar(&configPath, "config", "", "path to YAML config (defaults are used when omitted)")
	flag.Var(upstreams, "upstream", "name=url pair identifying a forwardable upstream; repeatable")
	flag.Parse()

	logger := logx.NewLogger("main")

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "thoughtgate: configuration error: %v\n", err)
		os.Exit(1)
	}
	if len(upstreams) == 0 {
		fmt.Fprintln(os.Stderr, "thoughtgate: at least one -upstream name=url is required")
		os.Exit(1)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "thoughtgate: policy engine: %v\n", err)
		os.Exit(1)
	}

	limiter, err := ratelimit.New(cfg.Approval.RatePerSecond, cfg.Approval.RatePerSecond)
	if err != nil {
		fmt.Fprintf(os.Stderr, "thoughtgate: rate limiter: %v\n", err)
		os.Exit(1)
	}

	// The websocket channel's read loop delivers verdicts into the
	// Coordinator, but Dial must run before the Coordinator exists to hand
	// it the resulting Channel — deliverProxy breaks the cycle by
	// forwarding to the Coordinator once it's built.
	proxy := &deliverProxy{}
	channel, err := buildApprovalChannel(cfg, logger, proxy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "thoughtgate: approval channel: %v\n", err)
		os.Exit(1)
	}

	coord := approval.New(limiter, channel)
	proxy.setTarget(coord)
	holder := config.NewHolder(cfg)
	rec := metrics.NewRecorder()
	svc := proxyservice.New(engine, coord, holder, rec, upstreams)

	// No /metrics scrape endpoint is mounted here: the Prometheus registry
	// feeding rec is an internal collaborator, and exposing it over HTTP is
	// left to the deployment (a sidecar for a sidecar).
	mux := http.NewServeMux()
	mux.Handle("/proxy/", svc)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening on %s", cfg.ListenAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	shutdownCh := make(chan struct{})
	defer close(shutdownCh)
	runReloadTrigger(cfg, engine, logger, shutdownCh)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		fmt.Fprintf(os.Stderr, "thoughtgate: bind failure: %v\n", err)
		os.Exit(2)
	case sig := <-sigCh:
		logger.Info("received signal %v, shutting down", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWindow)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// buildEngine constructs the policy.Engine matching cfg.Policy.Source. A
// configmap_path source gets NewWithLoader so Reload re-reads the file;
// embedded/environment sources fall back to a fixed, empty rule set —
// operators populate rules via the configmap_path source in any
// deployment that needs them.
func buildEngine(cfg *config.Config) (policy.Engine, error) {
	switch cfg.Policy.Source {
	case config.PolicySourceConfigMap:
		return static.NewWithLoader(static.FileLoader(cfg.Policy.SourcePath))
	default:
		return static.New(nil, policy.Source{Kind: policy.SourceEmbedded, LoadedAt: time.Now()}), nil
	}
}

// runReloadTrigger starts the background goroutine implementing cfg's
// policy.reload mechanism, if any: "signal" reloads on SIGHUP, "interval"
// reloads on a fixed ticker. "none" starts nothing. The goroutine exits
// once done is closed.
func runReloadTrigger(cfg *config.Config, engine policy.Engine, logger *logx.Logger, done <-chan struct{}) {
	reload := func(trigger string) {
		if err := engine.Reload(context.Background()); err != nil {
			logger.Error("policy reload failed: %v", err)
			return
		}
		logger.Info("policy reloaded via %s", trigger)
	}

	switch cfg.Policy.Reload {
	case config.PolicyReloadSignal:
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP)
		go func() {
			defer signal.Stop(sigCh)
			for {
				select {
				case <-sigCh:
					reload("SIGHUP")
				case <-done:
					return
				}
			}
		}()

	case config.PolicyReloadInterval:
		ticker := time.NewTicker(cfg.Policy.ReloadInterval)
		go func() {
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					reload("interval")
				case <-done:
					return
				}
			}
		}()
	}
}

// buildApprovalChannel dials the configured websocket approval peer, or
// returns a channel that always expires tickets when none is configured —
// a deployment with no human-approval backend simply cannot grant Approve
// decisions, it can still Reject and Forward.
func buildApprovalChannel(cfg *config.Config, logger *logx.Logger, deliverer ws.Deliverer) (approval.Channel, error) {
	if cfg.Approval.ChannelURL == "" {
		logger.Warn("no approval.channel_url configured; Approve decisions will always expire")
		return noopChannel{}, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return ws.Dial(ctx, cfg.Approval.ChannelURL, deliverer)
}

// noopChannel accepts every submission and never delivers a verdict, so
// every ticket resolves via its own deadline to Expired.
type noopChannel struct{}

func (noopChannel) Submit(context.Context, string, *approval.Ticket) error { return nil }

// deliverProxy forwards verdict deliveries to a Coordinator assigned after
// construction, letting ws.Dial start its read loop before the Coordinator
// that will own those verdicts exists.
type deliverProxy struct {
	mu     sync.Mutex
	target *approval.Coordinator
}

func (p *deliverProxy) setTarget(c *approval.Coordinator) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.target = c
}

func (p *deliverProxy) Deliver(taskID string, verdict approval.Verdict) {
	p.mu.Lock()
	target := p.target
	p.mu.Unlock()
	if target != nil {
		target.Deliver(taskID, verdict)
	}
}
