// Package conn implements the pooled connection: lazy dial, ALPN
// negotiation, and the request dispatch that drives either an
// HTTP/1.1 or HTTP/2 engine depending on what was negotiated.
package conn

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/google/uuid"

	"wayfare/pkg/engine/http1"
	"wayfare/pkg/engine/http2"
	"wayfare/pkg/helper/errors"
	"wayfare/pkg/model"
	"wayfare/pkg/network"
	"wayfare/pkg/proxy"
	"wayfare/pkg/trace"
)

// Dialer is the subset of network.TCPDialer a Connection needs,
// narrowed to an interface so tests can substitute a mock.
type Dialer interface {
	DialTCP(ctx context.Context, host string, port int) (network.Stream, error)
	DialUnix(ctx context.Context, path string) (network.Stream, error)
}

// Config controls how a Connection dials and negotiates protocol.
type Config struct {
	HTTP1 bool
	HTTP2 bool
	TLS   *tls.Config
	UDS   string

	ConnectTimeout  time.Duration
	KeepaliveExpiry time.Duration

	Proxy *proxy.Config

	Trace trace.Trace
}

// Connection owns one network.Stream and the engine driving it. It
// dials lazily on the first HandleRequest call and tracks its own
// state machine (NEW -> CONNECTING -> ACTIVE -> IDLE -> CLOSING ->
// CLOSED).
type Connection struct {
	id     string
	origin model.Origin
	dialer Dialer
	cfg    Config

	mu     sync.Mutex
	state  model.ConnectionState
	stats  model.Stats
	stream network.Stream

	http1Engine *http1.Engine
	http2Engine *http2.Engine
}

// New creates a Connection for origin, unconnected until the first
// HandleRequest call.
func New(origin model.Origin, dialer Dialer, cfg Config) *Connection {
	return &Connection{
		id:     uuid.NewString(),
		origin: origin,
		dialer: dialer,
		cfg:    cfg,
		state:  model.StateNew,
		stats:  model.Stats{CreatedAt: timeNow()},
	}
}

var timeNow = time.Now

// ID returns the connection's identifier, unique for the life of the
// process. It has no meaning on the wire; it exists to correlate
// trace events and log lines for one physical connection across its
// lifetime.
func (c *Connection) ID() string {
	return c.id
}

// Origin returns the origin this connection serves.
func (c *Connection) Origin() model.Origin {
	return c.origin
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() model.ConnectionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// IsAvailable reports whether the connection can accept a new request
// right now: idle and reusable, or HTTP/2 with capacity for another
// concurrent stream.
func (c *Connection) IsAvailable() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case model.StateNew:
		return true
	case model.StateIdle:
		if c.http2Engine == nil {
			return true
		}
		return c.http2Engine.InFlight() < c.http2Engine.Capacity()
	case model.StateActive:
		if c.http2Engine == nil {
			return false
		}
		return c.http2Engine.InFlight() < c.http2Engine.Capacity()
	default:
		return false
	}
}

// IsIdle reports whether the connection is idle (no requests in flight).
func (c *Connection) IsIdle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateIdle {
		return false
	}
	return c.http2Engine == nil || c.http2Engine.InFlight() == 0
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == model.StateClosed
}

// HasExpired reports whether an idle connection has sat longer than
// the configured keep-alive expiry.
func (c *Connection) HasExpired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != model.StateIdle || c.cfg.KeepaliveExpiry <= 0 {
		return false
	}
	return timeNow().Sub(c.stats.LastActivity) > c.cfg.KeepaliveExpiry
}

// CanHandleRequest reports whether this connection may serve a
// request to origin (must match exactly).
func (c *Connection) CanHandleRequest(origin model.Origin) bool {
	return c.origin.Equal(origin) && c.IsAvailable()
}

// HandleRequest dials if necessary, negotiates protocol via ALPN, and
// dispatches req through the appropriate engine.
func (c *Connection) HandleRequest(ctx context.Context, req *model.Request) (*model.Response, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.state = model.StateActive
	h2 := c.http2Engine
	h1 := c.http1Engine
	c.mu.Unlock()

	forward := c.cfg.Proxy != nil && c.cfg.Proxy.Mode == proxy.ModeForward
	if forward {
		req = proxy.Rewrite(req, *c.cfg.Proxy)
	}

	var resp *model.Response
	var err error

	if h2 != nil {
		resp, err = h2.OpenStream(ctx, req)
	} else {
		resp, err = h1.Do(ctx, req, forward)
	}

	c.mu.Lock()
	c.stats.LastActivity = timeNow()
	c.stats.RequestCount++
	if err != nil {
		c.state = model.StateClosing
	} else if h2 != nil {
		c.state = model.StateIdle // HTTP/2 connections stay multiplexable
	}
	// h1 success leaves the connection StateActive: it cannot serve
	// another request until resp.Body is drained or closed, below.
	c.mu.Unlock()

	if err == nil && h1 != nil {
		resp.Body = &h1BodyRelease{BodyStream: resp.Body, conn: c, h1: h1}
	}

	return resp, err
}

// h1BodyRelease wraps an HTTP/1.1 response body so that its exhaustion
// or early Close releases the owning connection back to idle (or
// closing, if the exchange left it unreusable) per model.BodyStream's
// contract.
type h1BodyRelease struct {
	model.BodyStream
	once sync.Once
	conn *Connection
	h1   *http1.Engine
}

func (b *h1BodyRelease) Next(ctx context.Context) ([]byte, error) {
	chunk, err := b.BodyStream.Next(ctx)
	if err != nil {
		b.release()
	}
	return chunk, err
}

func (b *h1BodyRelease) Close() error {
	err := b.BodyStream.Close()
	b.release()
	return err
}

func (b *h1BodyRelease) release() {
	b.once.Do(func() {
		b.conn.mu.Lock()
		if b.h1.CanReuse() {
			b.conn.state = model.StateIdle
		} else {
			b.conn.state = model.StateClosing
		}
		b.conn.mu.Unlock()
	})
}

func (c *Connection) ensureConnected(ctx context.Context) error {
	c.mu.Lock()
	if c.state != model.StateNew {
		c.mu.Unlock()
		return nil
	}
	c.state = model.StateConnecting
	c.mu.Unlock()

	tr := c.cfg.Trace
	if tr == nil {
		tr = trace.NoOp{}
	}

	connectCtx := ctx
	if c.cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, c.cfg.ConnectTimeout)
		defer cancel()
	}

	dialTarget := c.origin
	if c.cfg.Proxy != nil && c.cfg.Proxy.Mode != proxy.ModeNone {
		dialTarget = c.cfg.Proxy.Origin
	}

	tr.ConnectTCPStarted(ctx, trace.ConnectTCPInfo{Host: dialTarget.Host, Port: dialTarget.Port})
	stream, err := c.dial(connectCtx)
	if err != nil {
		tr.ConnectTCPFailed(ctx, trace.ConnectTCPInfo{Host: dialTarget.Host, Port: dialTarget.Port}, err)
		c.mu.Lock()
		c.state = model.StateClosed
		c.mu.Unlock()
		return err
	}
	tr.ConnectTCPComplete(ctx, trace.ConnectTCPInfo{Host: dialTarget.Host, Port: dialTarget.Port})

	if c.cfg.Proxy != nil {
		switch c.cfg.Proxy.Mode {
		case proxy.ModeTunnel:
			if err := proxy.Tunnel(connectCtx, stream, c.origin, *c.cfg.Proxy); err != nil {
				c.mu.Lock()
				c.state = model.StateClosed
				c.mu.Unlock()
				return err
			}
		case proxy.ModeSOCKS5:
			if err := proxy.Negotiate(connectCtx, stream, c.origin, *c.cfg.Proxy); err != nil {
				c.mu.Lock()
				c.state = model.StateClosed
				c.mu.Unlock()
				return err
			}
		}
	}

	if c.origin.IsSSL() {
		tr.StartTLSStarted(ctx, trace.StartTLSInfo{ServerName: c.origin.Host})
		tlsCfg := c.cfg.TLS
		if tlsCfg == nil {
			tlsCfg = &tls.Config{}
		}
		tlsCfg = tlsCfg.Clone()
		tlsCfg.NextProtos = network.ALPNOffer(c.cfg.HTTP1, c.cfg.HTTP2)

		upgraded, err := stream.StartTLS(connectCtx, tlsCfg, c.origin.Host)
		if err != nil {
			tr.StartTLSFailed(ctx, trace.StartTLSInfo{ServerName: c.origin.Host}, err)
			c.mu.Lock()
			c.state = model.StateClosed
			c.mu.Unlock()
			return err
		}
		tr.StartTLSComplete(ctx, trace.StartTLSInfo{ServerName: c.origin.Host})
		stream = upgraded
	}

	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()

	return c.selectEngine(ctx, stream)
}

func (c *Connection) dial(ctx context.Context) (network.Stream, error) {
	if c.cfg.Proxy != nil && c.cfg.Proxy.Mode != proxy.ModeNone {
		o := c.cfg.Proxy.Origin
		return c.dialer.DialTCP(ctx, o.Host, o.Port)
	}
	if c.cfg.UDS != "" {
		return c.dialer.DialUnix(ctx, c.cfg.UDS)
	}
	return c.dialer.DialTCP(ctx, c.origin.Host, c.origin.Port)
}

// selectEngine picks HTTP/1.1 or HTTP/2 based on negotiated ALPN (for
// TLS origins) or prior-knowledge configuration (for plaintext
// origins where http1=false, http2=true).
func (c *Connection) selectEngine(ctx context.Context, stream network.Stream) error {
	useH2 := false

	if c.origin.IsSSL() {
		if proto, ok := stream.GetExtraInfo("alpn_protocol"); ok {
			useH2 = proto == "h2"
		}
	} else if c.cfg.HTTP2 && !c.cfg.HTTP1 {
		useH2 = true // prior-knowledge HTTP/2 over plaintext
	}

	if useH2 {
		engine, err := http2.New(ctx, stream)
		if err != nil {
			return errors.NewLocalProtocolError(err)
		}
		c.mu.Lock()
		c.http2Engine = engine
		c.mu.Unlock()
		return nil
	}

	c.mu.Lock()
	c.http1Engine = http1.New(stream)
	c.mu.Unlock()
	return nil
}

// Close closes the underlying stream, marking the connection closed.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == model.StateClosed {
		return nil
	}
	c.state = model.StateClosing
	var err error
	if c.http2Engine != nil {
		err = c.http2Engine.Close()
	} else if c.stream != nil {
		err = c.stream.Close()
	}
	c.state = model.StateClosed
	return err
}

// Stats returns a snapshot of usage statistics.
func (c *Connection) Stats() model.Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
