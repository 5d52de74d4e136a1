package errors

import (
	"errors"
	"testing"
)

func TestTimeoutErrorUnwrap(t *testing.T) {
	cause := errors.New("i/o timeout")
	err := NewTimeoutError(TimeoutConnect, cause)

	if !Is(err, cause) {
		t.Error("TimeoutError should unwrap to its cause")
	}
	if got := err.Error(); got == "" {
		t.Error("TimeoutError.Error() should not be empty")
	}
}

func TestNetworkErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewNetworkError(NetworkConnect, cause)

	var target *NetworkError
	if !As(err, &target) {
		t.Fatal("As() should find NetworkError in chain")
	}
	if target.Kind != NetworkConnect {
		t.Errorf("Kind = %v, want %v", target.Kind, NetworkConnect)
	}
}

func TestProtocolErrorLocalVsRemote(t *testing.T) {
	local := NewLocalProtocolError(errors.New("bad chunk size"))
	remote := NewRemoteProtocolError(errors.New("truncated response"))

	var lp, rp *ProtocolError
	if !As(local, &lp) || !lp.Local {
		t.Error("local protocol error should report Local=true")
	}
	if !As(remote, &rp) || rp.Local {
		t.Error("remote protocol error should report Local=false")
	}
}

func TestProxyErrorUnwrap(t *testing.T) {
	cause := errors.New("CONNECT rejected: 407")
	err := NewProxyError(cause)

	if !Is(err, cause) {
		t.Error("ProxyError should unwrap to its cause")
	}
}

func TestUnsupportedProtocolf(t *testing.T) {
	err := UnsupportedProtocolf("proxy_mode=%s scheme=%s", "tunnel", "ftp")

	if !Is(err, ErrUnsupportedProtocol) {
		t.Error("UnsupportedProtocolf should wrap ErrUnsupportedProtocol")
	}
}
