// Package pool implements the connection pool: the scheduler that
// matches queued requests to reusable connections, grows the pool up
// to its configured capacity, evicts idle connections to make room,
// and retries connection establishment on transient network errors.
package pool

import (
	"context"
	"crypto/tls"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/time/rate"

	"wayfare/pkg/conn"
	"wayfare/pkg/config"
	"wayfare/pkg/helper/errors"
	"wayfare/pkg/helper/log"
	"wayfare/pkg/helper/util"
	"wayfare/pkg/metrics"
	"wayfare/pkg/model"
	"wayfare/pkg/proxy"
	"wayfare/pkg/trace"
)

var timeNow = time.Now

// originBucket groups every connection currently open for one origin.
type originBucket struct {
	origin model.Origin
	conns  []*conn.Connection
}

// Pool is a ConnectionPool: it owns every connection it opens, queues
// requests that arrive while it is at capacity, and tears everything
// down on Close. A single mutex guards all bookkeeping; no I/O runs
// while it is held.
type Pool struct {
	cfg    *config.PoolConfig
	dialer conn.Dialer
	tlsCfg *tls.Config
	proxy  *proxy.Config
	trace  trace.Trace
	logger log.Logger

	metrics      *metrics.PoolCollector
	retryLimiter *rate.Limiter
	dispatch     *util.LimitedErrGroup

	mu      sync.Mutex
	buckets map[uint64]*originBucket
	tickets []*Ticket
	closed  bool

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// Option customizes a Pool beyond what PoolConfig captures.
type Option func(*Pool)

// WithTLSConfig sets the TLS configuration connections use for https
// origins and CONNECT tunnels.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(p *Pool) { p.tlsCfg = cfg }
}

// WithProxy routes every connection this pool opens through cfg.
func WithProxy(cfg *proxy.Config) Option {
	return func(p *Pool) { p.proxy = cfg }
}

// WithTrace wires a trace sink into every connection this pool opens.
func WithTrace(t trace.Trace) Option {
	return func(p *Pool) { p.trace = t }
}

// WithMetrics registers Prometheus collectors for this pool.
func WithMetrics(m *metrics.PoolCollector) Option {
	return func(p *Pool) { p.metrics = m }
}

// WithLogger overrides the pool's structured logger.
func WithLogger(l log.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates a Pool backed by dialer, starting its background
// keep-alive sweep immediately.
func New(cfg *config.PoolConfig, dialer conn.Dialer, opts ...Option) *Pool {
	if cfg == nil {
		cfg = config.DefaultPoolConfig()
	}

	p := &Pool{
		cfg:     cfg,
		dialer:  dialer,
		logger:  log.NewBasicLogger(log.InfoLevel),
		buckets: make(map[uint64]*originBucket),
	}

	for _, opt := range opts {
		opt(p)
	}

	maxConcurrency := cfg.MaxConnections
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	p.dispatch = util.NewLimitedErrGroup(context.Background(), maxConcurrency)

	if cfg.MaxRetries > 0 {
		p.retryLimiter = rate.NewLimiter(rate.Every(cfg.InitialWait), cfg.MaxRetries+1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.sweepCancel = cancel
	p.sweepDone = make(chan struct{})
	go p.sweepLoop(ctx)

	return p
}

// HandleRequest queues req, waits for a connection, and dispatches it.
// It blocks until the request completes, fails, or its pool-wide
// timeout (model.RequestExtensions.Timeouts.Pool) elapses.
func (p *Pool) HandleRequest(ctx context.Context, req *model.Request) (*model.Response, error) {
	origin := p.effectiveOrigin(req)
	t := newTicket(ctx, origin, req)

	waitCtx := ctx
	var cancel context.CancelFunc
	if to := req.Extensions.Timeouts.Pool; to > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, to)
		defer cancel()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.Unavailablef("pool is closed")
	}
	p.tickets = append(p.tickets, t)
	assigned := p.scheduleLocked()
	p.reportQueueDepthLocked()
	p.mu.Unlock()

	p.dispatchAll(assigned)

	select {
	case res := <-t.result:
		return res.resp, res.err
	case <-waitCtx.Done():
		p.cancelTicket(t)
		return nil, errors.NewTimeoutError(errors.TimeoutPool, waitCtx.Err())
	}
}

// cancelTicket removes t from the queue if it never got assigned. A
// ticket already dispatched runs to completion regardless; its result
// is discarded by HandleRequest's already-returned select.
func (p *Pool) cancelTicket(t *Ticket) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, q := range p.tickets {
		if q == t {
			p.tickets = append(p.tickets[:i], p.tickets[i+1:]...)
			break
		}
	}
}

// effectiveOrigin returns the origin a connection must match to serve
// req. Under a forward proxy every request pools against the proxy's
// own origin, since one connection carries many destinations; under a
// tunnel or SOCKS5 proxy each destination still gets its own
// connection, tunneled through the same proxy address.
func (p *Pool) effectiveOrigin(req *model.Request) model.Origin {
	if p.proxy != nil && p.proxy.Mode == proxy.ModeForward {
		return p.proxy.Origin
	}
	return req.Origin()
}

// scheduleLocked runs one pass of the four-step scheduling algorithm
// over every queued ticket, in FIFO order, and returns
// the tickets it newly assigned for the caller to dispatch once the
// lock is released. Must be called with p.mu held.
func (p *Pool) scheduleLocked() []*Ticket {
	started := timeNow()
	defer func() {
		if p.metrics != nil {
			p.metrics.ObserveSchedulingPass(timeNow().Sub(started))
		}
	}()

	p.expireIdleLocked()

	var assigned []*Ticket
	remaining := p.tickets[:0]

	for _, t := range p.tickets {
		if c := p.pickAvailableLocked(t.origin); c != nil {
			t.conn = c
			t.reused = true
			t.state = model.TicketAssigned
			assigned = append(assigned, t)
			continue
		}

		if p.totalConnectionsLocked() < p.cfg.MaxConnections {
			t.conn = p.newConnectionLocked(t.origin, t.req)
			t.reused = false
			t.state = model.TicketAssigned
			assigned = append(assigned, t)
			continue
		}

		if victim := p.pickEvictionCandidateLocked(t.origin); victim != nil {
			p.removeConnectionLocked(victim)
			go func(c *conn.Connection) { _ = c.Close() }(victim)
			t.conn = p.newConnectionLocked(t.origin, t.req)
			t.reused = false
			t.state = model.TicketAssigned
			assigned = append(assigned, t)
			continue
		}

		remaining = append(remaining, t)
	}

	p.tickets = remaining
	return assigned
}

// pickAvailableLocked returns the best already-open connection that
// can serve origin right now: among matching candidates, the one with
// the highest request count, so load concentrates on fewer sockets
// instead of spreading thin.
func (p *Pool) pickAvailableLocked(origin model.Origin) *conn.Connection {
	b, ok := p.buckets[originKey(origin)]
	if !ok {
		return nil
	}

	var best *conn.Connection
	var bestCount int64 = -1
	for _, c := range b.conns {
		if !c.CanHandleRequest(origin) {
			continue
		}
		st := c.Stats()
		if st.RequestCount > bestCount {
			best = c
			bestCount = st.RequestCount
		}
	}
	return best
}

// pickEvictionCandidateLocked returns the least-recently-used idle
// connection serving a different origin than the one requesting
// capacity, or nil if none is idle.
func (p *Pool) pickEvictionCandidateLocked(origin model.Origin) *conn.Connection {
	var victim *conn.Connection
	var oldest time.Time

	for _, b := range p.buckets {
		if b.origin.Equal(origin) {
			continue
		}
		for _, c := range b.conns {
			if !c.IsIdle() {
				continue
			}
			st := c.Stats()
			if victim == nil || st.LastActivity.Before(oldest) {
				victim = c
				oldest = st.LastActivity
			}
		}
	}
	return victim
}

func (p *Pool) totalConnectionsLocked() int {
	n := 0
	for _, b := range p.buckets {
		n += len(b.conns)
	}
	return n
}

// newConnectionLocked opens a fresh, unconnected Connection for origin
// and adds it to the pool's bookkeeping. The actual dial happens
// lazily on the connection's first HandleRequest call.
func (p *Pool) newConnectionLocked(origin model.Origin, req *model.Request) *conn.Connection {
	connectTimeout := p.connectTimeoutFor(req)

	c := conn.New(origin, p.dialer, conn.Config{
		HTTP1:           p.cfg.Versions.HTTP1,
		HTTP2:           p.cfg.Versions.HTTP2,
		TLS:             p.tlsCfg,
		UDS:             p.cfg.UDS,
		ConnectTimeout:  connectTimeout,
		KeepaliveExpiry: p.cfg.KeepaliveExpiry,
		Proxy:           p.proxy,
		Trace:           p.trace,
	})

	key := originKey(origin)
	b, ok := p.buckets[key]
	if !ok {
		b = &originBucket{origin: origin}
		p.buckets[key] = b
	}
	b.conns = append(b.conns, c)

	if p.metrics != nil {
		p.metrics.OpenConnections.WithLabelValues(origin.String()).Inc()
	}
	p.logger.WithField("connection_id", c.ID()).WithField("origin", origin.String()).Debug("opened connection")
	return c
}

func (p *Pool) connectTimeoutFor(req *model.Request) time.Duration {
	if req != nil && req.Extensions.Timeouts.Connect > 0 {
		return req.Extensions.Timeouts.Connect
	}
	return 0
}

// removeConnectionLocked drops c from the pool's bookkeeping. It does
// not close c; callers that are discarding a live connection must
// close it themselves, outside the lock.
func (p *Pool) removeConnectionLocked(c *conn.Connection) {
	key := originKey(c.Origin())
	b, ok := p.buckets[key]
	if !ok {
		return
	}
	for i, existing := range b.conns {
		if existing == c {
			b.conns = append(b.conns[:i], b.conns[i+1:]...)
			break
		}
	}
	if len(b.conns) == 0 {
		delete(p.buckets, key)
	}
	if p.metrics != nil {
		p.metrics.OpenConnections.WithLabelValues(c.Origin().String()).Dec()
	}
	p.logger.WithField("connection_id", c.ID()).Debug("dropped connection from pool")
}

// dispatchAll runs each assigned ticket's request on a goroutine,
// bounded by the pool's dispatch semaphore so a scheduling burst
// cannot start unbounded concurrent sends.
func (p *Pool) dispatchAll(tickets []*Ticket) {
	for _, t := range tickets {
		t := t
		p.dispatch.Go(func() error {
			p.serve(t)
			return nil
		})
	}
}

// serve runs one assigned ticket's request to completion, retrying
// connection establishment (never a request already in flight) per
// the pool's retry policy, then feeds a fresh scheduling pass so any
// connection this ticket freed up can serve the next queued ticket.
func (p *Pool) serve(t *Ticket) {
	retryOpts := util.RetryOptions{
		MaxRetries:  p.cfg.MaxRetries,
		InitialWait: p.cfg.InitialWait,
		MaxWait:     p.cfg.MaxWait,
		Factor:      2.0,
		Retryable:   isRetriableConnectError,
	}

	var resp *model.Response
	var lastErr error

	err := util.RetryWithContext(t.ctx, func() error {
		if t.attempts > 0 {
			if p.retryLimiter != nil {
				if waitErr := p.retryLimiter.Wait(t.ctx); waitErr != nil {
					lastErr = waitErr
					return waitErr
				}
			}
			c, rerr := p.freshConnectionForRetry(t.conn, t.req)
			if rerr != nil {
				lastErr = rerr
				return rerr
			}
			t.conn = c
			if p.metrics != nil {
				p.metrics.RetriesTotal.WithLabelValues(t.origin.String()).Inc()
			}
		}
		t.attempts++

		r, e := p.handleWithStaleRetry(t)
		if e != nil {
			lastErr = e
			return e
		}
		resp = r
		return nil
	}, retryOpts)

	// A connection freed by this request (HTTP/1.1 going idle, or a
	// failed connect removed from the pool) only becomes visible to
	// the scheduler once the caller drains or closes the response
	// body; re-run scheduling at that point too, not just right below.
	if err == nil && resp != nil {
		resp.Body = &poolBodyRelease{BodyStream: resp.Body, pool: p}
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		t.state = model.TicketFailed
		// The connection this ticket was holding never produced a
		// usable response; it is dead weight that would otherwise sit
		// in the pool forever (neither idle nor available), so drop it
		// now instead of waiting for a sweep that will never pick it up.
		p.mu.Lock()
		p.removeConnectionLocked(t.conn)
		p.mu.Unlock()
		go func(c *conn.Connection) { _ = c.Close() }(t.conn)
	} else {
		t.state = model.TicketComplete
	}
	if p.metrics != nil {
		p.metrics.RequestsTotal.WithLabelValues(t.origin.String(), outcome).Inc()
	}

	if err != nil {
		t.result <- ticketResult{nil, lastErr}
	} else {
		t.result <- ticketResult{resp, nil}
	}

	p.mu.Lock()
	assigned := p.scheduleLocked()
	p.reportQueueDepthLocked()
	p.mu.Unlock()
	p.dispatchAll(assigned)
}

// handleWithStaleRetry runs the request on t.conn, transparently
// resending once on a fresh connection if a reused keep-alive
// connection turns out to have been closed by the peer in the race
// between the pool handing it out and this request reaching the wire.
// network.Stream exposes no non-blocking peek-read, so this cannot
// detect the stale socket before writing; catching the resulting
// RemoteProtocolError (or a write failure, if the close landed before
// the write even finished) on the connection's first use since being
// handed out approximates the same effect. A connection this ticket
// dialed itself never gets this treatment: a protocol error there is a
// real failure.
func (p *Pool) handleWithStaleRetry(t *Ticket) (*model.Response, error) {
	resp, err := t.conn.HandleRequest(t.ctx, t.req)
	if err == nil || !t.reused || t.staleRetried || !isStaleConnectionError(err) {
		return resp, err
	}

	t.staleRetried = true
	c, rerr := p.freshConnectionForRetry(t.conn, t.req)
	if rerr != nil {
		return nil, err
	}
	t.conn = c
	t.reused = false
	return t.conn.HandleRequest(t.ctx, t.req)
}

func isStaleConnectionError(err error) bool {
	var protoErr *errors.ProtocolError
	if errors.As(err, &protoErr) && !protoErr.Local {
		return true
	}
	var netErr *errors.NetworkError
	return errors.As(err, &netErr) && netErr.Kind == errors.NetworkWrite
}

// freshConnectionForRetry discards a connection that failed to
// connect and opens a replacement for the same origin, keeping the
// pool's total connection count unchanged.
func (p *Pool) freshConnectionForRetry(old *conn.Connection, req *model.Request) (*conn.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, errors.Unavailablef("pool is closed")
	}
	origin := old.Origin()
	p.removeConnectionLocked(old)
	go func() { _ = old.Close() }()
	return p.newConnectionLocked(origin, req), nil
}

// isRetriableConnectError reports whether err came from the connect
// phase (TCP dial, TLS handshake, proxy negotiation) rather than from
// a request already written to the wire. Only connect-phase failures
// are safe to retry.
func isRetriableConnectError(err error) bool {
	var netErr *errors.NetworkError
	if errors.As(err, &netErr) {
		return true
	}
	var timeoutErr *errors.TimeoutError
	if errors.As(err, &timeoutErr) {
		return timeoutErr.Kind == errors.TimeoutConnect
	}
	var proxyErr *errors.ProxyError
	return errors.As(err, &proxyErr)
}

// expireIdleLocked closes idle connections that have sat past their
// keep-alive expiry, and trims idle connections beyond the
// configured keep-alive cap, oldest first. Runs on every scheduling
// pass so expired capacity is always visible to the algorithm above.
func (p *Pool) expireIdleLocked() {
	var idle []*conn.Connection

	for _, b := range p.buckets {
		for _, c := range b.conns {
			if !c.IsIdle() {
				continue
			}
			if c.HasExpired() {
				p.removeConnectionLocked(c)
				go func(c *conn.Connection) { _ = c.Close() }(c)
				continue
			}
			idle = append(idle, c)
		}
	}

	if p.cfg.MaxKeepaliveConnections <= 0 || len(idle) <= p.cfg.MaxKeepaliveConnections {
		return
	}

	sortByLastActivity(idle)
	excess := len(idle) - p.cfg.MaxKeepaliveConnections
	for _, c := range idle[:excess] {
		p.removeConnectionLocked(c)
		go func(c *conn.Connection) { _ = c.Close() }(c)
	}
}

func sortByLastActivity(conns []*conn.Connection) {
	for i := 1; i < len(conns); i++ {
		for j := i; j > 0; j-- {
			if conns[j].Stats().LastActivity.Before(conns[j-1].Stats().LastActivity) {
				conns[j], conns[j-1] = conns[j-1], conns[j]
			} else {
				break
			}
		}
	}
}

func (p *Pool) reportQueueDepthLocked() {
	if p.metrics == nil {
		return
	}
	p.metrics.QueuedTickets.Set(float64(len(p.tickets)))
	for _, b := range p.buckets {
		idle := 0
		for _, c := range b.conns {
			if c.IsIdle() {
				idle++
			}
		}
		p.metrics.IdleConnections.WithLabelValues(b.origin.String()).Set(float64(idle))
	}
}

// sweepLoop periodically runs a scheduling pass so idle connections
// expire even while no new requests arrive to trigger one.
func (p *Pool) sweepLoop(ctx context.Context) {
	defer close(p.sweepDone)

	interval := p.cfg.KeepaliveExpiry
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.mu.Lock()
			p.expireIdleLocked()
			p.reportQueueDepthLocked()
			p.mu.Unlock()
		}
	}
}

// Connections returns a snapshot of every connection currently open,
// for diagnostics.
func (p *Pool) Connections() []*conn.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	var all []*conn.Connection
	for _, b := range p.buckets {
		all = append(all, b.conns...)
	}
	return all
}

// Close stops the background sweep and closes every connection the
// pool has open. Queued tickets that never got assigned receive a
// closed-pool error.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	pending := p.tickets
	p.tickets = nil
	p.mu.Unlock()

	p.sweepCancel()
	<-p.sweepDone

	for _, t := range pending {
		t.state = model.TicketFailed
		t.result <- ticketResult{nil, errors.Unavailablef("pool is closed")}
	}

	cleaner := util.NewResourceCleaner(p.logger)
	for _, c := range p.Connections() {
		c := c
		cleaner.AddCloser(c.Origin().String(), closerFunc(c.Close), 0)
	}
	return cleaner.CleanupAll()
}

// poolBodyRelease wraps a response body so that draining or closing
// it triggers a fresh scheduling pass, letting a ticket queued behind
// a busy connection get assigned the moment that connection goes
// idle (or gets discarded, on a failed retry).
type poolBodyRelease struct {
	model.BodyStream
	once sync.Once
	pool *Pool
}

func (b *poolBodyRelease) Next(ctx context.Context) ([]byte, error) {
	chunk, err := b.BodyStream.Next(ctx)
	if err != nil {
		b.release()
	}
	return chunk, err
}

func (b *poolBodyRelease) Close() error {
	err := b.BodyStream.Close()
	b.release()
	return err
}

func (b *poolBodyRelease) release() {
	b.once.Do(func() {
		b.pool.mu.Lock()
		assigned := b.pool.scheduleLocked()
		b.pool.reportQueueDepthLocked()
		b.pool.mu.Unlock()
		b.pool.dispatchAll(assigned)
	})
}

// closerFunc adapts a Close() error method to io.Closer for ResourceCleaner.AddCloser.
type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func originKey(o model.Origin) uint64 {
	return xxhash.Sum64String(o.String())
}
