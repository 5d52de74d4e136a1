package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"wayfare/pkg/helper/errors"
)

// fileConfig mirrors the subset of PoolConfig a YAML file may
// override. Durations are parsed as Go duration strings ("5s").
type fileConfig struct {
	MaxConnections          *int    `yaml:"max_connections"`
	MaxKeepaliveConnections *int    `yaml:"max_keepalive_connections"`
	KeepaliveExpiry         *string `yaml:"keepalive_expiry"`

	HTTP1 *bool `yaml:"http1"`
	HTTP2 *bool `yaml:"http2"`

	MaxRetries  *int    `yaml:"max_retries"`
	InitialWait *string `yaml:"retry_initial_wait"`
	MaxWait     *string `yaml:"retry_max_wait"`

	LocalAddress *string `yaml:"local_address"`
	UDS          *string `yaml:"uds"`

	Proxy *struct {
		Mode string            `yaml:"mode"`
		URL  string            `yaml:"url"`
		Auth string            `yaml:"auth"`
		Hdrs map[string]string `yaml:"headers"`
	} `yaml:"proxy"`

	TLS *struct {
		InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
		CAFile             string `yaml:"ca_file"`
	} `yaml:"tls"`
}

// LoadFromFile overlays settings found in a YAML file at path onto
// base, returning the merged configuration. A missing field in the
// file leaves the base value untouched.
func LoadFromFile(base *PoolConfig, path string) (*PoolConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file %s", path)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}

	cfg := *base

	if fc.MaxConnections != nil {
		cfg.MaxConnections = *fc.MaxConnections
	}
	if fc.MaxKeepaliveConnections != nil {
		cfg.MaxKeepaliveConnections = *fc.MaxKeepaliveConnections
	}
	if fc.KeepaliveExpiry != nil {
		d, err := time.ParseDuration(*fc.KeepaliveExpiry)
		if err != nil {
			return nil, errors.Wrapf(err, "parse keepalive_expiry")
		}
		cfg.KeepaliveExpiry = d
	}
	if fc.HTTP1 != nil {
		cfg.Versions.HTTP1 = *fc.HTTP1
	}
	if fc.HTTP2 != nil {
		cfg.Versions.HTTP2 = *fc.HTTP2
	}
	if fc.MaxRetries != nil {
		cfg.MaxRetries = *fc.MaxRetries
	}
	if fc.InitialWait != nil {
		d, err := time.ParseDuration(*fc.InitialWait)
		if err != nil {
			return nil, errors.Wrapf(err, "parse retry_initial_wait")
		}
		cfg.InitialWait = d
	}
	if fc.MaxWait != nil {
		d, err := time.ParseDuration(*fc.MaxWait)
		if err != nil {
			return nil, errors.Wrapf(err, "parse retry_max_wait")
		}
		cfg.MaxWait = d
	}
	if fc.LocalAddress != nil {
		cfg.LocalAddress = *fc.LocalAddress
	}
	if fc.UDS != nil {
		cfg.UDS = *fc.UDS
	}
	if fc.Proxy != nil {
		cfg.Proxy.Mode = fc.Proxy.Mode
		cfg.Proxy.URL = fc.Proxy.URL
		cfg.Proxy.Auth = fc.Proxy.Auth
		cfg.Proxy.Headers = fc.Proxy.Hdrs
	}
	if fc.TLS != nil {
		cfg.TLS.InsecureSkipVerify = fc.TLS.InsecureSkipVerify
		cfg.TLS.CAFile = fc.TLS.CAFile
	}

	return &cfg, nil
}
