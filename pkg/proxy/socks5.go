package proxy

import (
	"context"
	"net"

	"wayfare/pkg/helper/errors"
	"wayfare/pkg/model"
	"wayfare/pkg/network"
)

// RFC 1928 wire constants.
const (
	socks5Version = 0x05

	methodNoAuth       = 0x00
	methodUserPass     = 0x02
	methodNoAcceptable = 0xff

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	authVersion = 0x01
)

// Negotiate performs SOCKS5 method selection (RFC 1928 §3) followed
// by a CONNECT command (RFC 1928 §4) for destination over stream,
// already dialed to the proxy's own origin.
func Negotiate(ctx context.Context, stream network.Stream, destination model.Origin, cfg Config) error {
	user, pass, hasAuth := splitAuth(cfg.Auth)

	methods := []byte{methodNoAuth}
	if hasAuth {
		methods = []byte{methodNoAuth, methodUserPass}
	}
	greeting := append([]byte{socks5Version, byte(len(methods))}, methods...)
	if _, err := writeAll(ctx, stream, greeting); err != nil {
		return errors.NewProxyError(err)
	}

	r := &ctxReader{ctx: ctx, s: stream}
	resp := make([]byte, 2)
	if _, err := readFull(r, resp); err != nil {
		return errors.NewProxyError(err)
	}
	if resp[0] != socks5Version {
		return errors.NewProxyError(errors.Newf("unexpected SOCKS version %d in method reply", resp[0]))
	}

	switch resp[1] {
	case methodNoAuth:
	case methodUserPass:
		if !hasAuth {
			return errors.NewProxyError(errors.New("proxy requires username/password authentication"))
		}
		if err := authenticate(ctx, stream, user, pass); err != nil {
			return err
		}
	case methodNoAcceptable:
		return errors.NewProxyError(errors.New("no acceptable SOCKS5 authentication method"))
	default:
		return errors.NewProxyError(errors.Newf("unsupported SOCKS5 method %d", resp[1]))
	}

	if err := connectCommand(ctx, stream, destination); err != nil {
		return err
	}
	return nil
}

func authenticate(ctx context.Context, stream network.Stream, user, pass string) error {
	if len(user) > 255 || len(pass) > 255 {
		return errors.NewProxyError(errors.New("SOCKS5 username or password exceeds 255 bytes"))
	}

	req := []byte{authVersion, byte(len(user))}
	req = append(req, user...)
	req = append(req, byte(len(pass)))
	req = append(req, pass...)
	if _, err := writeAll(ctx, stream, req); err != nil {
		return errors.NewProxyError(err)
	}

	r := &ctxReader{ctx: ctx, s: stream}
	resp := make([]byte, 2)
	if _, err := readFull(r, resp); err != nil {
		return errors.NewProxyError(err)
	}
	if resp[1] != 0x00 {
		return errors.NewProxyError(errors.New("SOCKS5 authentication rejected"))
	}
	return nil
}

func connectCommand(ctx context.Context, stream network.Stream, destination model.Origin) error {
	if _, err := writeAll(ctx, stream, buildConnectRequest(destination)); err != nil {
		return errors.NewProxyError(err)
	}

	r := &ctxReader{ctx: ctx, s: stream}
	header := make([]byte, 4)
	if _, err := readFull(r, header); err != nil {
		return errors.NewProxyError(err)
	}
	if header[0] != socks5Version {
		return errors.NewProxyError(errors.Newf("unexpected SOCKS version %d in CONNECT reply", header[0]))
	}
	if header[1] != 0x00 {
		return errors.NewProxyError(errors.Newf("SOCKS5 CONNECT failed with reply code %d", header[1]))
	}

	var addrLen int
	switch header[3] {
	case atypIPv4:
		addrLen = net.IPv4len
	case atypIPv6:
		addrLen = net.IPv6len
	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := readFull(r, lenBuf); err != nil {
			return errors.NewProxyError(err)
		}
		addrLen = int(lenBuf[0])
	default:
		return errors.NewProxyError(errors.Newf("unknown SOCKS5 address type %d", header[3]))
	}

	// The bound address in the reply has no further use once the
	// tunnel is established; discard it plus its 2-byte port.
	discard := make([]byte, addrLen+2)
	if _, err := readFull(r, discard); err != nil {
		return errors.NewProxyError(err)
	}
	return nil
}

func buildConnectRequest(destination model.Origin) []byte {
	req := []byte{socks5Version, cmdConnect, 0x00}

	if ip := net.ParseIP(destination.Host); ip != nil {
		if ip4 := ip.To4(); ip4 != nil {
			req = append(req, atypIPv4)
			req = append(req, ip4...)
		} else {
			req = append(req, atypIPv6)
			req = append(req, ip.To16()...)
		}
	} else {
		req = append(req, atypDomain, byte(len(destination.Host)))
		req = append(req, destination.Host...)
	}

	port := []byte{byte(destination.Port >> 8), byte(destination.Port)}
	return append(req, port...)
}
