package trace

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTel implements Trace by opening one span per started/complete (or
// started/failed) pair, using Tracer to start spans and recording
// errors on the span before ending it.
type OTel struct {
	Tracer oteltrace.Tracer

	mu     sync.Mutex
	active map[string]oteltrace.Span
}

func (o *OTel) init() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		o.active = make(map[string]oteltrace.Span)
	}
}

func (o *OTel) start(ctx context.Context, key, name string) {
	o.init()
	_, span := o.Tracer.Start(ctx, name)
	o.mu.Lock()
	o.active[key] = span
	o.mu.Unlock()
}

func (o *OTel) end(key string, err error) {
	o.mu.Lock()
	span, ok := o.active[key]
	if ok {
		delete(o.active, key)
	}
	o.mu.Unlock()
	if !ok {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (o *OTel) ConnectTCPStarted(ctx context.Context, info ConnectTCPInfo) {
	o.start(ctx, "connect_tcp", "connect_tcp")
}
func (o *OTel) ConnectTCPComplete(ctx context.Context, info ConnectTCPInfo) {
	o.end("connect_tcp", nil)
}
func (o *OTel) ConnectTCPFailed(ctx context.Context, info ConnectTCPInfo, err error) {
	o.end("connect_tcp", err)
}

func (o *OTel) StartTLSStarted(ctx context.Context, info StartTLSInfo) {
	o.start(ctx, "start_tls", "start_tls")
}
func (o *OTel) StartTLSComplete(ctx context.Context, info StartTLSInfo) {
	o.end("start_tls", nil)
}
func (o *OTel) StartTLSFailed(ctx context.Context, info StartTLSInfo, err error) {
	o.end("start_tls", err)
}

func (o *OTel) SendRequestHeadersStarted(ctx context.Context, info SendRequestHeadersInfo) {
	o.start(ctx, "send_request_headers", "send_request_headers")
}
func (o *OTel) SendRequestHeadersComplete(ctx context.Context, info SendRequestHeadersInfo) {
	o.end("send_request_headers", nil)
}
func (o *OTel) SendRequestHeadersFailed(ctx context.Context, info SendRequestHeadersInfo, err error) {
	o.end("send_request_headers", err)
}

func (o *OTel) ReceiveResponseHeadersStarted(ctx context.Context) {
	o.start(ctx, "receive_response_headers", "receive_response_headers")
}
func (o *OTel) ReceiveResponseHeadersComplete(ctx context.Context, info ReceiveResponseHeadersInfo) {
	o.end("receive_response_headers", nil)
}
func (o *OTel) ReceiveResponseHeadersFailed(ctx context.Context, err error) {
	o.end("receive_response_headers", err)
}
