package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"wayfare/pkg/config"
	"wayfare/pkg/helper/errors"
	"wayfare/pkg/helper/log"
	"wayfare/pkg/model"
	"wayfare/pkg/network"
	"wayfare/pkg/pool"
	"wayfare/pkg/proxy"
)

func newRequestCmd() *cobra.Command {
	var method string
	var headers []string
	var body string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "request <url>",
		Short: "issue a single request through the pool and print the response",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			poolCfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := newLogger()

			ctx, cancel := setupSignals(context.Background(), logger)
			defer cancel()
			if timeout > 0 {
				var timeoutCancel context.CancelFunc
				ctx, timeoutCancel = context.WithTimeout(ctx, timeout)
				defer timeoutCancel()
			}

			req, err := buildRequest(method, args[0], headers, body)
			if err != nil {
				return err
			}

			p, err := buildPool(poolCfg, logger)
			if err != nil {
				return err
			}
			defer p.Close()

			start := time.Now()
			resp, err := p.HandleRequest(ctx, req)
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			fmt.Printf("%s %d\n", resp.Extensions.HTTPVersion, resp.Status)
			for _, f := range resp.Header {
				fmt.Printf("%s: %s\n", f.Name, f.Value)
			}
			fmt.Println()

			total := 0
			for {
				chunk, err := resp.Body.Next(ctx)
				total += len(chunk)
				if err != nil {
					break
				}
			}
			fmt.Printf("%d bytes in %s\n", total, elapsed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, `extra request header, "Name: value" (repeatable)`)
	cmd.Flags().StringVar(&body, "data", "", "request body")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "overall request timeout")

	return cmd
}

func buildRequest(method, target string, headers []string, body string) (*model.Request, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, errors.Wrapf(err, "parse url %s", target)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.InvalidInputf("url must be http or https, got %q", u.Scheme)
	}

	port := model.DefaultPort(u.Scheme)
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "parse port in %s", target)
		}
	}

	reqTarget := u.Path
	if reqTarget == "" {
		reqTarget = "/"
	}
	if u.RawQuery != "" {
		reqTarget += "?" + u.RawQuery
	}

	var hdr model.Header
	for _, h := range headers {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, errors.InvalidInputf("malformed header %q, want \"Name: value\"", h)
		}
		hdr = hdr.Add(strings.TrimSpace(name), strings.TrimSpace(value))
	}

	var reqBody model.BodyStream
	if body != "" {
		reqBody = model.NewBytesBody([]byte(body))
	}

	return &model.Request{
		Method: strings.ToUpper(method),
		URL:    model.URL{Scheme: u.Scheme, Host: u.Hostname(), Port: port, Target: reqTarget},
		Header: hdr,
		Body:   reqBody,
	}, nil
}

// buildPool wires a real TCPDialer and the cfg-derived TLS/proxy
// options into a pool.Pool, the way a long-running caller would rather
// than a test's mock dialer.
func buildPool(cfg *config.PoolConfig, logger log.Logger) (*pool.Pool, error) {
	dialer := &network.TCPDialer{
		LocalAddress:  cfg.LocalAddress,
		SocketOptions: true,
	}

	opts := []pool.Option{pool.WithLogger(logger)}

	if cfg.TLS.InsecureSkipVerify || cfg.TLS.CAFile != "" {
		tlsCfg, err := buildTLSConfig(cfg.TLS)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pool.WithTLSConfig(tlsCfg))
	}

	if cfg.Proxy.Mode != "" {
		proxyCfg, err := buildProxyConfig(cfg.Proxy)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pool.WithProxy(proxyCfg))
	}

	return pool.New(cfg, dialer, opts...), nil
}

func buildTLSConfig(cfg config.TLSConfig) (*tls.Config, error) {
	tlsCfg := &tls.Config{InsecureSkipVerify: cfg.InsecureSkipVerify}
	if cfg.MinVersion != 0 {
		tlsCfg.MinVersion = cfg.MinVersion
	}

	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, errors.Wrapf(err, "read CA file %s", cfg.CAFile)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(pem) {
			return nil, errors.InvalidInputf("no certificates found in %s", cfg.CAFile)
		}
		tlsCfg.RootCAs = certPool
	}

	return tlsCfg, nil
}

func buildProxyConfig(cfg config.ProxyConfig) (*proxy.Config, error) {
	mode := proxy.Mode(cfg.Mode)
	switch mode {
	case proxy.ModeForward, proxy.ModeTunnel, proxy.ModeSOCKS5:
	default:
		return nil, errors.InvalidInputf("unknown proxy mode %q", cfg.Mode)
	}

	raw := cfg.URL
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "parse proxy url %s", cfg.URL)
	}
	scheme := u.Scheme

	port := model.DefaultPort(scheme)
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, errors.Wrapf(err, "parse port in proxy url %s", cfg.URL)
		}
	}

	return &proxy.Config{
		Mode:    mode,
		Origin:  model.NewOrigin(scheme, u.Hostname(), port),
		Auth:    cfg.Auth,
		Headers: cfg.Headers,
	}, nil
}
