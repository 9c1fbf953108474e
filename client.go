// Package gel is the caller-facing surface of the driver, spec.md §6.3: a
// Client wraps one connection pool and one immutable session-state
// snapshot, and every state-evolution method (WithDefaultModule,
// WithGlobals, WithAliases, WithConfig) returns a new Client that shares
// the same pool but carries its own snapshot.
package gel

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"github.com/geldb/gelclient/internal/config"
	"github.com/geldb/gelclient/internal/conn"
	"github.com/geldb/gelclient/internal/descriptor"
	"github.com/geldb/gelclient/internal/gelerr"
	"github.com/geldb/gelclient/internal/metrics"
	"github.com/geldb/gelclient/internal/pool"
	"github.com/geldb/gelclient/internal/retry"
	"github.com/geldb/gelclient/internal/session"
)

// Client is the top-level handle returned by New, spec.md §6.3 "new(config)
// -> Client". It is safe for concurrent use: state-evolution methods never
// mutate the receiver, and every query acquires its own pooled connection.
type Client struct {
	pool      *pool.Pool
	state     session.State
	retryOpts retry.Options
	metrics   *metrics.Collector
}

// New dials nothing itself — it only builds the pool's dial closure and
// its semaphore; the first Acquire is what actually opens a connection, per
// spec.md §4.4's lazy-dial Acquire algorithm.
func New(cfg config.Config) (*Client, error) {
	tlsCfg, err := buildTLSConfig(cfg)
	if err != nil {
		return nil, err
	}

	dialCfg := conn.DialConfig{
		Network:     "tcp",
		Address:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		TLSConfig:   tlsCfg,
		User:        cfg.User,
		Password:    cfg.Password,
		Database:    cfg.Database,
		SecretKey:   cfg.SecretKey,
		DialTimeout: cfg.WaitUntilAvailable,
	}

	m := metrics.New()
	p := pool.New(pool.Config{
		Dial: func(ctx context.Context) (*conn.Connection, error) {
			start := time.Now()
			c, err := conn.Dial(ctx, dialCfg)
			if err == nil {
				m.HandshakeDuration(time.Since(start))
			}
			return c, err
		},
		MaxConcurrency:  cfg.MaxConcurrency,
		AcquireTimeout:  cfg.WaitUntilAvailable,
		OnPoolExhausted: m.PoolExhausted,
	})

	return &Client{
		pool:      p,
		state:     session.New(),
		retryOpts: retry.NewOptions(),
		metrics:   m,
	}, nil
}

// buildTLSConfig translates config.Config's TLS fields into a *tls.Config,
// per spec.md §6.2's "TLS driver" collaborator contract.
func buildTLSConfig(cfg config.Config) (*tls.Config, error) {
	tlsCfg := &tls.Config{ServerName: cfg.TLSServerName}
	if tlsCfg.ServerName == "" {
		tlsCfg.ServerName = cfg.Host
	}

	if cfg.TLSCA != "" {
		pem, err := os.ReadFile(cfg.TLSCA)
		if err != nil {
			return nil, gelerr.Newf(gelerr.CodeConfigurationError, "reading tls_ca %q", cfg.TLSCA).Wrap(err)
		}
		certPool := x509.NewCertPool()
		if !certPool.AppendCertsFromPEM(pem) {
			return nil, gelerr.Newf(gelerr.CodeConfigurationError, "tls_ca %q contains no usable certificates", cfg.TLSCA)
		}
		tlsCfg.RootCAs = certPool
	}

	switch cfg.TLSSecurity {
	case config.TLSSecurityInsecure:
		tlsCfg.InsecureSkipVerify = true
	case config.TLSSecurityNoHostVerification:
		// Verify the chain against RootCAs/system roots but skip hostname
		// matching, since crypto/tls has no built-in knob for that: disable
		// the stdlib verifier and redo the chain check ourselves.
		tlsCfg.InsecureSkipVerify = true
		roots := tlsCfg.RootCAs
		tlsCfg.VerifyPeerCertificate = func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyChainNoHostname(rawCerts, roots)
		}
	case config.TLSSecurityStrict:
		// Default stdlib behavior: full chain + hostname verification.
	}

	return tlsCfg, nil
}

func verifyChainNoHostname(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return gelerr.New(gelerr.CodeClientConnectionError, "no server certificate presented")
	}
	leaf, err := x509.ParseCertificate(rawCerts[0])
	if err != nil {
		return gelerr.New(gelerr.CodeClientConnectionError, "parsing server certificate").Wrap(err)
	}
	intermediates := x509.NewCertPool()
	for _, raw := range rawCerts[1:] {
		if c, err := x509.ParseCertificate(raw); err == nil {
			intermediates.AddCert(c)
		}
	}
	_, err = leaf.Verify(x509.VerifyOptions{Roots: roots, Intermediates: intermediates})
	if err != nil {
		return gelerr.New(gelerr.CodeClientConnectionError, "verifying server certificate chain").Wrap(err)
	}
	return nil
}

// WithDefaultModule returns a new Client sharing this one's pool, whose
// session state has its default module changed, spec.md §6.3.
func (c *Client) WithDefaultModule(name string) *Client {
	next := *c
	next.state = c.state.WithDefaultModule(name)
	return &next
}

// WithAliases returns a new Client with the given module aliases merged in.
func (c *Client) WithAliases(overrides map[string]string) *Client {
	next := *c
	next.state = c.state.WithAliases(overrides)
	return &next
}

// WithConfig returns a new Client with the given session config variables
// merged in.
func (c *Client) WithConfig(overrides map[string]descriptor.Value) *Client {
	next := *c
	next.state = c.state.WithConfig(overrides)
	return &next
}

// WithGlobals returns a new Client with the given global variables merged
// in.
func (c *Client) WithGlobals(overrides map[string]descriptor.Value) *Client {
	next := *c
	next.state = c.state.WithGlobals(overrides)
	return &next
}

// WithRetryOptions returns a new Client whose Transaction calls use the
// given retry rules instead of the defaults, spec.md §6.3
// "with_retry_options ... override".
func (c *Client) WithRetryOptions(opts retry.RetryOptions) *Client {
	next := *c
	next.retryOpts.Retry = opts
	return &next
}

// WithTransactionOptions returns a new Client whose Transaction calls open
// with the given isolation/read-only/deferrable settings, spec.md §6.3
// "with_transaction_options ... override".
func (c *Client) WithTransactionOptions(opts retry.TransactionOptions) *Client {
	next := *c
	next.retryOpts.Transaction = opts
	return &next
}

// Metrics exposes the client's Prometheus collector, for embedding
// processes that want to register it against their own HTTP mux (see
// internal/api, the ambient operator surface for cmd/gelclient-demo).
func (c *Client) Metrics() *metrics.Collector { return c.metrics }

// Pool exposes the underlying connection pool, for the same ambient-tooling
// reason as Metrics (internal/api's /pool and /health endpoints).
func (c *Client) Pool() *pool.Pool { return c.pool }

// Close drains and closes every pooled connection.
func (c *Client) Close() {
	c.pool.Close()
}

// Transaction runs body under the retrying transaction driver of spec.md
// §4.5, using this client's current retry/transaction options and session
// state snapshot. body must not retain tx beyond its own return.
func Transaction[T any](ctx context.Context, c *Client, body func(tx *Tx) (T, error)) (T, error) {
	opts := c.retryOpts
	opts.State = c.state
	return retry.Run(ctx, c.pool, opts, func(rtx *retry.Transaction) (T, error) {
		return body(&Tx{tx: rtx})
	})
}
