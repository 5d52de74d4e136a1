package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	noop "go.opentelemetry.io/otel/trace/noop"
)

func TestCallbackReceivesPairedEvents(t *testing.T) {
	var events []string
	var errs []error

	cb := Callback{Func: func(ctx context.Context, event string, payload interface{}, err error) {
		events = append(events, event)
		errs = append(errs, err)
	}}

	ctx := context.Background()
	cb.ConnectTCPStarted(ctx, ConnectTCPInfo{Host: "example.com", Port: 443})
	cb.ConnectTCPComplete(ctx, ConnectTCPInfo{Host: "example.com", Port: 443})

	require.Equal(t, []string{"connect_tcp.started", "connect_tcp.complete"}, events)
	assert.Nil(t, errs[0])
	assert.Nil(t, errs[1])
}

func TestCallbackFailedCarriesError(t *testing.T) {
	var gotErr error
	cb := Callback{Func: func(ctx context.Context, event string, payload interface{}, err error) {
		if event == "start_tls.failed" {
			gotErr = err
		}
	}}

	wantErr := errors.New("handshake failure")
	cb.StartTLSFailed(context.Background(), StartTLSInfo{ServerName: "example.com"}, wantErr)

	assert.Equal(t, wantErr, gotErr)
}

func TestNoOpDoesNotPanic(t *testing.T) {
	var tr Trace = NoOp{}
	ctx := context.Background()
	tr.ConnectTCPStarted(ctx, ConnectTCPInfo{})
	tr.ConnectTCPComplete(ctx, ConnectTCPInfo{})
	tr.ConnectTCPFailed(ctx, ConnectTCPInfo{}, errors.New("x"))
	tr.ReceiveResponseHeadersStarted(ctx)
}

func TestOTelStartsAndEndsSpans(t *testing.T) {
	ot := &OTel{Tracer: noop.NewTracerProvider().Tracer("wayfare-test")}
	ctx := context.Background()

	ot.ConnectTCPStarted(ctx, ConnectTCPInfo{Host: "example.com", Port: 443})
	ot.ConnectTCPComplete(ctx, ConnectTCPInfo{Host: "example.com", Port: 443})

	ot.StartTLSStarted(ctx, StartTLSInfo{ServerName: "example.com"})
	ot.StartTLSFailed(ctx, StartTLSInfo{ServerName: "example.com"}, errors.New("handshake failed"))

	// Ending an event with no matching start must not panic.
	ot.SendRequestHeadersComplete(ctx, SendRequestHeadersInfo{})
}
