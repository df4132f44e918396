// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Client carries call envelopes to a remote router.
// Application code calls functions through Function.Call, which uses this.
type Client interface {
	// RoundTrip sends one call and waits for its response
	RoundTrip(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error)

	// Close closes the connection
	Close() error
}

// Server serves a Router over one transport.
type Server interface {
	// Serve starts serving requests (blocks until context cancelled or Close)
	Serve(ctx context.Context) error

	// Close stops the server
	Close() error

	// Addr returns the server's listen address
	Addr() string
}

// DialOption configures client connections
type DialOption func(*dialOptions)

type dialOptions struct {
	transport  string
	logger     *zap.Logger
	httpClient *http.Client
	retries    int
	token      string
	timeout    time.Duration
}

// WithTransport explicitly sets the transport type
func WithTransport(t string) DialOption {
	return func(o *dialOptions) { o.transport = t }
}

// WithClientLogger sets the client's logger
func WithClientLogger(l *zap.Logger) DialOption {
	return func(o *dialOptions) { o.logger = l }
}

// WithHTTPClient replaces the http client used by the http and jsonrpc transports
func WithHTTPClient(c *http.Client) DialOption {
	return func(o *dialOptions) { o.httpClient = c }
}

// WithRetries retries connection-level failures on the http and jsonrpc
// transports. The default is no retry.
func WithRetries(n int) DialOption {
	return func(o *dialOptions) { o.retries = n }
}

// WithBearerToken sends token with every call. http, jsonrpc and grpc carry it
// as an Authorization bearer, zap carries it in the request header.
func WithBearerToken(token string) DialOption {
	return func(o *dialOptions) { o.token = token }
}

// WithDialTimeout bounds connection setup
func WithDialTimeout(d time.Duration) DialOption {
	return func(o *dialOptions) { o.timeout = d }
}

// ServerOption configures servers
type ServerOption func(*serverOptions)

type serverOptions struct {
	transport  string
	logger     *zap.Logger
	prefix     string
	metrics    http.Handler
	hmacSecret []byte
}

// WithServerTransport explicitly sets the transport type for the server
func WithServerTransport(t string) ServerOption {
	return func(o *serverOptions) { o.transport = t }
}

// WithServerLogger sets the server's logger
func WithServerLogger(l *zap.Logger) ServerOption {
	return func(o *serverOptions) { o.logger = l }
}

// WithPrefix sets the URL prefix functions are mounted under (http, default "/api")
func WithPrefix(p string) ServerOption {
	return func(o *serverOptions) { o.prefix = p }
}

// WithMetricsHandler mounts h at /metrics on the http and jsonrpc transports
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(o *serverOptions) { o.metrics = h }
}

// WithHMACSecret requires HS256 bearer tokens signed with secret on every
// transport. The token subject reaches handlers as X-Auth-Subject.
func WithHMACSecret(secret []byte) ServerOption {
	return func(o *serverOptions) { o.hmacSecret = secret }
}

// LocalClient dispatches straight into a Router in the same process.
type LocalClient struct {
	router *Router
	closed atomic.Bool
}

// NewLocalClient creates a client that calls router without a transport
func NewLocalClient(router *Router) *LocalClient {
	return &LocalClient{router: router}
}

func (c *LocalClient) RoundTrip(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error) {
	if c.closed.Load() {
		return nil, newError(KindTransport, ErrClientClosed)
	}
	return c.router.Dispatch(ctx, env)
}

func (c *LocalClient) Close() error {
	c.closed.Store(true)
	return nil
}
