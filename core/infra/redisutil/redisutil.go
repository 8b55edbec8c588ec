package redisutil

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPingTimeout = 2 * time.Second

// Options configures Redis client construction shared by every Redis backend.
type Options struct {
	URL string
	// ClusterAddrs switches to a cluster client when non-empty.
	ClusterAddrs []string
	TLS          TLSOptions
}

// TLSOptions holds file paths and flags for a TLS connection.
type TLSOptions struct {
	CAFile     string
	CertFile   string
	KeyFile    string
	ServerName string
	Insecure   bool
}

func (o TLSOptions) enabled() bool {
	return o.CAFile != "" || o.CertFile != "" || o.KeyFile != "" || o.ServerName != "" || o.Insecure
}

// NewClient creates a Redis universal client with optional TLS and clustering support.
func NewClient(opts Options) (redis.UniversalClient, error) {
	base, err := ParseOptions(opts.URL, opts.TLS)
	if err != nil {
		return nil, err
	}
	addrs := compactAddrs(opts.ClusterAddrs)
	if len(addrs) == 0 {
		addrs = []string{base.Addr}
	}
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:     addrs,
		Username:  base.Username,
		Password:  base.Password,
		DB:        base.DB,
		TLSConfig: base.TLSConfig,
	}), nil
}

// Connect builds a client and verifies it answers PING.
func Connect(ctx context.Context, opts Options) (redis.UniversalClient, error) {
	client, err := NewClient(opts)
	if err != nil {
		return nil, err
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return client, nil
}

// ParseOptions parses a Redis URL and applies TLS settings.
func ParseOptions(url string, tlsOpts TLSOptions) (*redis.Options, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	cfg, err := tlsConfig(opts.TLSConfig, tlsOpts)
	if err != nil {
		return nil, err
	}
	opts.TLSConfig = cfg
	return opts, nil
}

func tlsConfig(existing *tls.Config, o TLSOptions) (*tls.Config, error) {
	if !o.enabled() {
		return existing, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if existing != nil {
		cfg = existing.Clone()
	}
	if o.ServerName != "" {
		cfg.ServerName = o.ServerName
	}
	if o.Insecure {
		cfg.InsecureSkipVerify = true
	}

	if o.CAFile != "" {
		pem, err := os.ReadFile(o.CAFile)
		if err != nil {
			return nil, fmt.Errorf("redis tls ca read: %w", err)
		}
		pool := cfg.RootCAs
		if pool == nil {
			pool = x509.NewCertPool()
		}
		if ok := pool.AppendCertsFromPEM(pem); !ok {
			return nil, fmt.Errorf("redis tls ca parse: %s", o.CAFile)
		}
		cfg.RootCAs = pool
	}

	if o.CertFile != "" || o.KeyFile != "" {
		if o.CertFile == "" || o.KeyFile == "" {
			return nil, fmt.Errorf("redis tls cert/key must be set together")
		}
		cert, err := tls.LoadX509KeyPair(o.CertFile, o.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("redis tls keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}

func compactAddrs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, addr := range in {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
