// Package trace defines the typed trace-event contract engines and
// connections emit: one method per event kind, each called once to
// start an operation and once to report its outcome, never a single
// untyped callback.
package trace

import (
	"context"

	"wayfare/pkg/helper/log"
)

// ConnectTCPInfo describes a TCP connect attempt.
type ConnectTCPInfo struct {
	Host string
	Port int
}

// StartTLSInfo describes a TLS handshake attempt.
type StartTLSInfo struct {
	ServerName string
}

// SendRequestHeadersInfo describes request-header emission.
type SendRequestHeadersInfo struct {
	Method string
	Target string
}

// ReceiveResponseHeadersInfo describes response-header reception.
type ReceiveResponseHeadersInfo struct {
	Status int
}

// Trace receives paired started/complete/failed callbacks for each
// operation a connection performs. Implementations must tolerate
// concurrent calls from multiple connections.
type Trace interface {
	ConnectTCPStarted(ctx context.Context, info ConnectTCPInfo)
	ConnectTCPComplete(ctx context.Context, info ConnectTCPInfo)
	ConnectTCPFailed(ctx context.Context, info ConnectTCPInfo, err error)

	StartTLSStarted(ctx context.Context, info StartTLSInfo)
	StartTLSComplete(ctx context.Context, info StartTLSInfo)
	StartTLSFailed(ctx context.Context, info StartTLSInfo, err error)

	SendRequestHeadersStarted(ctx context.Context, info SendRequestHeadersInfo)
	SendRequestHeadersComplete(ctx context.Context, info SendRequestHeadersInfo)
	SendRequestHeadersFailed(ctx context.Context, info SendRequestHeadersInfo, err error)

	ReceiveResponseHeadersStarted(ctx context.Context)
	ReceiveResponseHeadersComplete(ctx context.Context, info ReceiveResponseHeadersInfo)
	ReceiveResponseHeadersFailed(ctx context.Context, err error)
}

// NoOp implements Trace with every method a no-op, the default when a
// caller supplies nothing.
type NoOp struct{}

func (NoOp) ConnectTCPStarted(context.Context, ConnectTCPInfo)                       {}
func (NoOp) ConnectTCPComplete(context.Context, ConnectTCPInfo)                      {}
func (NoOp) ConnectTCPFailed(context.Context, ConnectTCPInfo, error)                 {}
func (NoOp) StartTLSStarted(context.Context, StartTLSInfo)                          {}
func (NoOp) StartTLSComplete(context.Context, StartTLSInfo)                         {}
func (NoOp) StartTLSFailed(context.Context, StartTLSInfo, error)                     {}
func (NoOp) SendRequestHeadersStarted(context.Context, SendRequestHeadersInfo)       {}
func (NoOp) SendRequestHeadersComplete(context.Context, SendRequestHeadersInfo)      {}
func (NoOp) SendRequestHeadersFailed(context.Context, SendRequestHeadersInfo, error) {}
func (NoOp) ReceiveResponseHeadersStarted(context.Context)                          {}
func (NoOp) ReceiveResponseHeadersComplete(context.Context, ReceiveResponseHeadersInfo) {}
func (NoOp) ReceiveResponseHeadersFailed(context.Context, error)                     {}

// Callback adapts a single function pointer into a Trace, for callers
// who want one hook instead of the full interface.
// Event is the event kind name ("connect_tcp.started", and so on);
// payload is the corresponding *Info struct or nil; err is non-nil
// only for *Failed events.
type Callback struct {
	Func func(ctx context.Context, event string, payload interface{}, err error)
}

func (c Callback) call(ctx context.Context, event string, payload interface{}, err error) {
	if c.Func != nil {
		c.Func(ctx, event, payload, err)
	}
}

func (c Callback) ConnectTCPStarted(ctx context.Context, info ConnectTCPInfo) {
	c.call(ctx, "connect_tcp.started", info, nil)
}
func (c Callback) ConnectTCPComplete(ctx context.Context, info ConnectTCPInfo) {
	c.call(ctx, "connect_tcp.complete", info, nil)
}
func (c Callback) ConnectTCPFailed(ctx context.Context, info ConnectTCPInfo, err error) {
	c.call(ctx, "connect_tcp.failed", info, err)
}
func (c Callback) StartTLSStarted(ctx context.Context, info StartTLSInfo) {
	c.call(ctx, "start_tls.started", info, nil)
}
func (c Callback) StartTLSComplete(ctx context.Context, info StartTLSInfo) {
	c.call(ctx, "start_tls.complete", info, nil)
}
func (c Callback) StartTLSFailed(ctx context.Context, info StartTLSInfo, err error) {
	c.call(ctx, "start_tls.failed", info, err)
}
func (c Callback) SendRequestHeadersStarted(ctx context.Context, info SendRequestHeadersInfo) {
	c.call(ctx, "send_request_headers.started", info, nil)
}
func (c Callback) SendRequestHeadersComplete(ctx context.Context, info SendRequestHeadersInfo) {
	c.call(ctx, "send_request_headers.complete", info, nil)
}
func (c Callback) SendRequestHeadersFailed(ctx context.Context, info SendRequestHeadersInfo, err error) {
	c.call(ctx, "send_request_headers.failed", info, err)
}
func (c Callback) ReceiveResponseHeadersStarted(ctx context.Context) {
	c.call(ctx, "receive_response_headers.started", nil, nil)
}
func (c Callback) ReceiveResponseHeadersComplete(ctx context.Context, info ReceiveResponseHeadersInfo) {
	c.call(ctx, "receive_response_headers.complete", info, nil)
}
func (c Callback) ReceiveResponseHeadersFailed(ctx context.Context, err error) {
	c.call(ctx, "receive_response_headers.failed", nil, err)
}

// Logging implements Trace by writing each event through a
// pkg/helper/log.Logger at Debug (started/complete) or Error (failed).
type Logging struct {
	Logger log.Logger
}

func (l Logging) logger() log.Logger {
	if l.Logger == nil {
		return log.NewBasicLogger(log.InfoLevel)
	}
	return l.Logger
}

func (l Logging) ConnectTCPStarted(ctx context.Context, info ConnectTCPInfo) {
	l.logger().WithField("host", info.Host).WithField("port", info.Port).Debug("connect_tcp started")
}
func (l Logging) ConnectTCPComplete(ctx context.Context, info ConnectTCPInfo) {
	l.logger().WithField("host", info.Host).WithField("port", info.Port).Debug("connect_tcp complete")
}
func (l Logging) ConnectTCPFailed(ctx context.Context, info ConnectTCPInfo, err error) {
	l.logger().WithField("host", info.Host).WithField("port", info.Port).Error("connect_tcp failed", err)
}
func (l Logging) StartTLSStarted(ctx context.Context, info StartTLSInfo) {
	l.logger().WithField("server_name", info.ServerName).Debug("start_tls started")
}
func (l Logging) StartTLSComplete(ctx context.Context, info StartTLSInfo) {
	l.logger().WithField("server_name", info.ServerName).Debug("start_tls complete")
}
func (l Logging) StartTLSFailed(ctx context.Context, info StartTLSInfo, err error) {
	l.logger().WithField("server_name", info.ServerName).Error("start_tls failed", err)
}
func (l Logging) SendRequestHeadersStarted(ctx context.Context, info SendRequestHeadersInfo) {
	l.logger().WithField("method", info.Method).WithField("target", info.Target).Debug("send_request_headers started")
}
func (l Logging) SendRequestHeadersComplete(ctx context.Context, info SendRequestHeadersInfo) {
	l.logger().WithField("method", info.Method).WithField("target", info.Target).Debug("send_request_headers complete")
}
func (l Logging) SendRequestHeadersFailed(ctx context.Context, info SendRequestHeadersInfo, err error) {
	l.logger().WithField("method", info.Method).WithField("target", info.Target).Error("send_request_headers failed", err)
}
func (l Logging) ReceiveResponseHeadersStarted(ctx context.Context) {
	l.logger().Debug("receive_response_headers started")
}
func (l Logging) ReceiveResponseHeadersComplete(ctx context.Context, info ReceiveResponseHeadersInfo) {
	l.logger().WithField("status", info.Status).Debug("receive_response_headers complete")
}
func (l Logging) ReceiveResponseHeadersFailed(ctx context.Context, err error) {
	l.logger().Error("receive_response_headers failed", err)
}
