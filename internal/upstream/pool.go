// Package upstream maintains the lazy pool of streamable-HTTP MCP client
// sessions the gateway holds open to each registered upstream server
// (spec.md §4.8). One session per server_id is shared across concurrent
// calls; mark3labs/mcp-go's client/transport multiplexes JSON-RPC requests
// over it by id, the same library and transport shape shown server-side in
// daogora's x402-mcp-server and exercised client-side in
// other_examples/1812f691_mark3labs-mcp-go-x402__transport_test.go.go.
// The single-upstream reverse proxy in the teacher's proxy/rpc.go is
// generalized here from one fixed origin to N registered servers keyed by
// server_id, with the teacher's header-stripping Director logic carried
// into internal/mcpproxy instead (this package owns only session
// lifecycle, not HTTP framing).
package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ethdenver2026/x402-mcp-gateway/internal/errs"
)

// DefaultIdleTimeout is how long an unused session is kept open before
// being reaped (spec.md §4.8 default 300s).
const DefaultIdleTimeout = 300 * time.Second

// ServerConfig is the subset of a RegisteredServer the pool needs to open a session.
type ServerConfig struct {
	ServerID    string
	MCPOrigin   string
	RequireAuth bool
	AuthHeaders map[string]string
}

type session struct {
	mu          sync.Mutex
	client      *client.Client
	config      ServerConfig
	initResult  *mcp.InitializeResult
	lastUsed    time.Time
	inFlight    int
	maxInFlight int
}

// Pool owns one MCP client session per server_id, created lazily and
// reaped after DefaultIdleTimeout of disuse.
type Pool struct {
	mu          sync.Mutex
	sessions    map[string]*session
	idleTimeout time.Duration
	maxInFlight int
	stopReaper  chan struct{}
}

// New creates an empty Pool and starts its idle-session reaper.
func New(idleTimeout time.Duration, maxInFlightPerServer int) *Pool {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	if maxInFlightPerServer <= 0 {
		maxInFlightPerServer = 16
	}
	p := &Pool{
		sessions:    make(map[string]*session),
		idleTimeout: idleTimeout,
		maxInFlight: maxInFlightPerServer,
		stopReaper:  make(chan struct{}),
	}
	go p.reapLoop()
	return p
}

// Close stops the reaper and closes every open session.
func (p *Pool) Close() {
	close(p.stopReaper)
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, sess := range p.sessions {
		_ = sess.client.Close()
		delete(p.sessions, id)
	}
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(p.idleTimeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopReaper:
			return
		case <-ticker.C:
			p.reapIdle()
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for id, sess := range p.sessions {
		sess.mu.Lock()
		idle := sess.inFlight == 0 && now.Sub(sess.lastUsed) > p.idleTimeout
		sess.mu.Unlock()
		if idle {
			_ = sess.client.Close()
			delete(p.sessions, id)
		}
	}
}

// Invalidate closes and evicts the session for serverID, e.g. when the
// server's registration changes (spec.md §4.8).
func (p *Pool) Invalidate(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.sessions[serverID]; ok {
		_ = sess.client.Close()
		delete(p.sessions, serverID)
	}
}

func (p *Pool) getOrCreate(ctx context.Context, cfg ServerConfig) (*session, error) {
	p.mu.Lock()
	sess, ok := p.sessions[cfg.ServerID]
	p.mu.Unlock()
	if ok {
		return sess, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if sess, ok := p.sessions[cfg.ServerID]; ok {
		return sess, nil
	}

	var opts []transport.StreamableHTTPCOption
	if cfg.RequireAuth {
		for k, v := range cfg.AuthHeaders {
			opts = append(opts, transport.WithHTTPHeaders(map[string]string{k: v}))
		}
	}

	c, err := client.NewStreamableHttpClient(cfg.MCPOrigin, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating streamable http client for %s: %w", cfg.ServerID, err)
	}
	if err := c.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting session for %s: %w", cfg.ServerID, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "x402-mcp-gateway", Version: "1.0"}
	initResult, err := c.Initialize(ctx, initReq)
	if err != nil {
		// One reconnect and retry of the initialize handshake.
		_ = c.Close()
		c, err = client.NewStreamableHttpClient(cfg.MCPOrigin, opts...)
		if err == nil {
			err = c.Start(ctx)
		}
		if err == nil {
			initResult, err = c.Initialize(ctx, initReq)
			if err != nil {
				_ = c.Close()
			}
		}
		if err != nil {
			return nil, fmt.Errorf("initializing session for %s: %w", cfg.ServerID, err)
		}
	}

	sess = &session{client: c, config: cfg, initResult: initResult, lastUsed: time.Now(), maxInFlight: p.maxInFlight}
	p.sessions[cfg.ServerID] = sess
	return sess, nil
}

// acquire reserves a concurrency slot on the session, returning
// errs.ErrBusy if the server is already at its in-flight limit.
func (sess *session) acquire() error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.inFlight >= sess.maxInFlight {
		return errs.ErrBusy
	}
	sess.inFlight++
	sess.lastUsed = time.Now()
	return nil
}

func (sess *session) release() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.inFlight--
	sess.lastUsed = time.Now()
}

// CallTool invokes name on the given server's session, reconnecting once on
// a transport error before initialize but never silently retrying a
// tools/call that may have already executed upstream (spec.md §4.8:
// "tool-call transport errors do not retry, to preserve payment semantics").
func (p *Pool) CallTool(ctx context.Context, cfg ServerConfig, name string, arguments map[string]interface{}) (*mcp.CallToolResult, error) {
	sess, err := p.getOrCreate(ctx, cfg)
	if err != nil {
		return nil, errUnreachable(err)
	}

	if err := sess.acquire(); err != nil {
		return nil, err
	}
	defer sess.release()

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := sess.client.CallTool(ctx, req)
	if err != nil {
		// One reconnect for a dead session, but the call itself is not retried.
		p.Invalidate(cfg.ServerID)
		return nil, errGone(err)
	}
	return result, nil
}

// ListTools returns the upstream's current tool list, used by the ping
// ingestor (spec.md §4.12) and by tools/list passthrough.
func (p *Pool) ListTools(ctx context.Context, cfg ServerConfig) (*mcp.ListToolsResult, error) {
	sess, err := p.getOrCreate(ctx, cfg)
	if err != nil {
		return nil, errUnreachable(err)
	}
	if err := sess.acquire(); err != nil {
		return nil, err
	}
	defer sess.release()

	result, err := sess.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, errUnreachable(err)
	}
	return result, nil
}

// Initialize returns the cached handshake result from session establishment,
// so a downstream client's own "initialize" call doesn't need a fresh
// round-trip to the upstream.
func (p *Pool) Initialize(ctx context.Context, cfg ServerConfig) (*mcp.InitializeResult, error) {
	sess, err := p.getOrCreate(ctx, cfg)
	if err != nil {
		return nil, errUnreachable(err)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastUsed = time.Now()
	return sess.initResult, nil
}

// Ping round-trips a keepalive to the upstream session.
func (p *Pool) Ping(ctx context.Context, cfg ServerConfig) error {
	sess, err := p.getOrCreate(ctx, cfg)
	if err != nil {
		return errUnreachable(err)
	}
	if err := sess.acquire(); err != nil {
		return err
	}
	defer sess.release()

	if err := sess.client.Ping(ctx); err != nil {
		p.Invalidate(cfg.ServerID)
		return errGone(err)
	}
	return nil
}

func errUnreachable(err error) error {
	return fmt.Errorf("%w: %v", errs.ErrUpstreamUnreachable, err)
}

func errGone(err error) error {
	return fmt.Errorf("%w: %v", errs.ErrUpstreamGone, err)
}
