package store

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures the shared revocation/confirmation store.
type RedisOptions struct {
	Addr       string
	Password   string
	DB         int
	RequireTLS bool
	TLS        RedisTLSOptions
}

type RedisTLSOptions struct {
	Enabled       bool
	Insecure      bool
	AllowInsecure bool
	ServerName    string
	CAFile        string
	CertFile      string
	KeyFile       string
}

var redisPingTimeout = 2 * time.Second

func NewRedis(ctx context.Context, opts RedisOptions) (*redis.Client, error) {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	tlsConfig, err := buildRedisTLSConfig(opts.TLS)
	if err != nil {
		return nil, err
	}
	if opts.RequireTLS && tlsConfig == nil {
		return nil, errors.New("REDIS_REQUIRE_TLS=true but REDIS_TLS is not enabled")
	}
	client := redis.NewClient(&redis.Options{
		Addr:      opts.Addr,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: tlsConfig,
	})
	ctxPing, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctxPing).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", opts.Addr, err)
	}
	return client, nil
}

func buildRedisTLSConfig(opts RedisTLSOptions) (*tls.Config, error) {
	if !opts.Enabled {
		return nil, nil
	}
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.Insecure {
		if !opts.AllowInsecure {
			return nil, errors.New("REDIS_TLS_INSECURE=true requires REDIS_ALLOW_INSECURE_TLS=true")
		}
		cfg.InsecureSkipVerify = true
	}
	cfg.ServerName = opts.ServerName
	if opts.CAFile != "" {
		caBytes, err := os.ReadFile(filepath.Clean(opts.CAFile))
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_CERT_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caBytes) {
			return nil, errors.New("parse REDIS_TLS_CA_CERT_FILE: no valid certificates")
		}
		cfg.RootCAs = pool
	}
	if opts.CertFile != "" || opts.KeyFile != "" {
		if opts.CertFile == "" || opts.KeyFile == "" {
			return nil, errors.New("both REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set")
		}
		cert, err := tls.LoadX509KeyPair(filepath.Clean(opts.CertFile), filepath.Clean(opts.KeyFile))
		if err != nil {
			return nil, fmt.Errorf("load redis mTLS keypair: %w", err)
		}
		cfg.Certificates = []tls.Certificate{cert}
	}
	return cfg, nil
}
