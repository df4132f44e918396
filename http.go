// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Headers used by the http transport
const (
	HeaderEncoding    = "X-Serverfn-Encoding"
	HeaderCallID      = "X-Serverfn-Call-Id"
	HeaderPath        = "X-Serverfn-Path"
	HeaderError       = "X-Serverfn-Error"
	HeaderAuthSubject = "X-Auth-Subject"
)

const (
	queryArgs        = "args"
	queryEncoding    = "enc"
	maxHTTPBodyBytes = 16 << 20
	retryBaseWait    = 500 * time.Millisecond
)

func init() {
	registerTransport(TransportHTTP, dialHTTP, listenHTTP)
}

// NewHTTPHandler returns the http transport's handler for router, for
// mounting into an existing server.
func NewHTTPHandler(router *Router, opts ...ServerOption) http.Handler {
	o := &serverOptions{logger: router.Logger(), prefix: "/api"}
	for _, opt := range opts {
		opt(o)
	}
	return newHTTPMux(router, o, func(r chi.Router) {
		fh := &functionHandler{router: router, authenticated: len(o.hmacSecret) > 0}
		pattern := strings.TrimRight(o.prefix, "/") + "/*"
		r.Post(pattern, fh.ServeHTTP)
		r.Get(pattern, fh.ServeHTTP)
	})
}

// newHTTPMux builds the chi router shared by the http and jsonrpc transports.
func newHTTPMux(router *Router, o *serverOptions, mount func(chi.Router)) http.Handler {
	mux := chi.NewRouter()
	mux.Use(chimw.RequestID, chimw.RealIP, accessLog(o.logger))
	if o.metrics != nil {
		mux.Method(http.MethodGet, "/metrics", o.metrics)
	}
	mux.Group(func(r chi.Router) {
		if len(o.hmacSecret) > 0 {
			r.Use(bearerAuth(o.hmacSecret, o.logger))
		}
		mount(r)
	})
	return mux
}

type functionHandler struct {
	router        *Router
	authenticated bool
}

func (h *functionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, err := ParseFunctionID(chi.URLParam(r, "*"))
	if err != nil {
		writeHTTPError(w, newError(KindNotFound, err))
		return
	}

	env := &CallEnvelope{
		CallID:   r.Header.Get(HeaderCallID),
		Function: id,
		Path:     r.URL.Path,
		Headers:  MetadataFromHeader(r.Header),
	}
	var sub string
	if h.authenticated {
		sub = r.Header.Get(HeaderAuthSubject)
	}
	env.Headers = bindAuthSubject(env.Headers, sub)
	if p := r.Header.Get(HeaderPath); p != "" {
		env.Path = p
	}

	q := r.URL.Query()
	if r.Method == http.MethodGet {
		env.Encoding = q.Get(queryEncoding)
		env.Payload, err = base64.RawURLEncoding.DecodeString(q.Get(queryArgs))
		if err != nil {
			writeHTTPError(w, errorf(KindDecode, "query parameter %q: %w", queryArgs, err))
			return
		}
	} else {
		env.Encoding = r.Header.Get(HeaderEncoding)
		env.Payload, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxHTTPBodyBytes))
		if err != nil {
			writeHTTPError(w, errorf(KindDecode, "read body: %w", err))
			return
		}
	}
	for k, vs := range q {
		if k == queryArgs || k == queryEncoding || len(vs) == 0 {
			continue
		}
		if env.Params == nil {
			env.Params = make(map[string]string)
		}
		env.Params[k] = vs[0]
	}

	resp, err := h.router.Dispatch(r.Context(), env)
	if err != nil {
		writeHTTPError(w, err)
		return
	}

	resp.Headers.WriteHeader(w.Header())
	if c, ok := LookupCodec(resp.Encoding); ok {
		w.Header().Set("Content-Type", c.ContentType())
	}
	w.Header().Set(HeaderEncoding, resp.Encoding)
	w.Header().Set(HeaderCallID, env.CallID)
	w.WriteHeader(http.StatusOK)
	w.Write(resp.Payload)
}

func writeHTTPError(w http.ResponseWriter, err error) {
	we := toWireError(err)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderError, we.Kind)
	w.WriteHeader(ParseKind(we.Kind).HTTPStatus())
	json.NewEncoder(w).Encode(we)
}

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid bearer token")
)

// verifyBearer checks an "Authorization" value carrying an HS256 token
// signed with secret and returns the token subject, which may be empty.
func verifyBearer(secret []byte, authorization string) (string, error) {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || raw == "" {
		return "", errMissingToken
	}
	token, err := jwt.Parse(raw, func(*jwt.Token) (interface{}, error) {
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	sub, _ := token.Claims.GetSubject()
	return sub, nil
}

// bindAuthSubject replaces any client supplied X-Auth-Subject in headers with
// the verified subject, or removes it when there is none.
func bindAuthSubject(headers Metadata, subject string) Metadata {
	headers = headers.canonical()
	headers.Del(HeaderAuthSubject)
	if subject != "" {
		headers.Set(HeaderAuthSubject, subject)
	}
	return headers
}

// bearerAuth requires an HS256 token signed with secret. The token subject
// is forwarded to handlers as the X-Auth-Subject request header.
func bearerAuth(secret []byte, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Header.Del(HeaderAuthSubject)

			sub, err := verifyBearer(secret, r.Header.Get("Authorization"))
			if err != nil {
				logger.Debug("bearer token rejected", zap.String("remoteAddr", r.RemoteAddr), zap.Error(err))
				writeUnauthorized(w, err.Error())
				return
			}
			if sub != "" {
				r.Header.Set(HeaderAuthSubject, sub)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set(HeaderError, KindTransport.String())
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(wireError{Kind: KindTransport.String(), Message: msg})
}

func accessLog(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Info("http request",
					zap.String("requestId", chimw.GetReqID(r.Context())),
					zap.String("httpMethod", r.Method),
					zap.String("uri", r.URL.Path),
					zap.String("remoteAddr", r.RemoteAddr),
					zap.String("userAgent", r.UserAgent()),
					zap.Int("status", ww.Status()),
					zap.Int("responseSize", ww.BytesWritten()),
					zap.Duration("lat", time.Since(start)),
				)
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// HTTPServer serves an http.Handler built for a Router
type HTTPServer struct {
	listener net.Listener
	server   *http.Server
	router   *Router
	logger   *zap.Logger
}

func newHTTPServer(listener net.Listener, router *Router, handler http.Handler, logger *zap.Logger) *HTTPServer {
	return &HTTPServer{
		listener: listener,
		router:   router,
		logger:   logger,
		server: &http.Server{
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Serve serves until ctx is cancelled or Close is called
func (s *HTTPServer) Serve(ctx context.Context) error {
	s.router.Seal()
	s.server.BaseContext = func(net.Listener) context.Context { return ctx }
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("http server listening", zap.String("addr", s.Addr()))
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Close shuts the server down, waiting briefly for in-flight calls
func (s *HTTPServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Addr returns the listener address
func (s *HTTPServer) Addr() string { return s.listener.Addr().String() }

func listenHTTP(addr string, router *Router, o *serverOptions) (Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	h := NewHTTPHandler(router,
		WithServerLogger(o.logger),
		WithPrefix(o.prefix),
		WithMetricsHandler(o.metrics),
		WithHMACSecret(o.hmacSecret),
	)
	return newHTTPServer(listener, router, h, o.logger), nil
}

// HTTPClient calls functions served by the http transport
type HTTPClient struct {
	base    *url.URL
	client  *http.Client
	retries int
	token   string
	logger  *zap.Logger
}

// newDefaultHTTPClient disables connection reuse, avoiding EOF errors seen
// with pooled connections in deep process hierarchies.
func newDefaultHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// parseBaseURL accepts a full URL, or host:port which maps to http://host:port/api.
func parseBaseURL(addr, defaultPath string) (*url.URL, error) {
	if !strings.Contains(addr, "://") {
		addr = "http://" + strings.TrimRight(addr, "/") + defaultPath
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, fmt.Errorf("parse address %q: %w", addr, err)
	}
	return u, nil
}

func dialHTTP(_ context.Context, addr string, o *dialOptions) (Client, error) {
	base, err := parseBaseURL(addr, "/api")
	if err != nil {
		return nil, err
	}
	c := o.httpClient
	if c == nil {
		c = newDefaultHTTPClient()
	}
	return &HTTPClient{base: base, client: c, retries: o.retries, token: o.token, logger: o.logger}, nil
}

// RoundTrip issues env as POST, or as GET for cacheable encodings.
func (c *HTTPClient) RoundTrip(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error) {
	u := c.base.JoinPath(env.Function.String())
	q := u.Query()
	for k, v := range env.Params {
		q.Set(k, v)
	}
	method := http.MethodPost
	if Cacheable(env.Encoding) {
		method = http.MethodGet
		q.Set(queryEncoding, env.Encoding)
		q.Set(queryArgs, base64.RawURLEncoding.EncodeToString(env.Payload))
	}
	u.RawQuery = q.Encode()

	resp, err := doWithRetry(ctx, c.client, c.retries, c.logger, func() (*http.Request, error) {
		var body io.Reader
		if method == http.MethodPost {
			body = bytes.NewReader(env.Payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return nil, err
		}
		for k, v := range env.Headers {
			req.Header.Set(k, v)
		}
		req.Header.Set(HeaderEncoding, env.Encoding)
		if env.CallID != "" {
			req.Header.Set(HeaderCallID, env.CallID)
		}
		if env.Path != "" {
			req.Header.Set(HeaderPath, env.Path)
		}
		if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer CleanlyCloseBody(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errorf(KindTransport, "read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, httpStatusError(resp, body)
	}
	return &ResponseEnvelope{
		Encoding: resp.Header.Get(HeaderEncoding),
		Headers:  MetadataFromHeader(resp.Header),
		Payload:  body,
	}, nil
}

// Close releases idle connections
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func httpStatusError(resp *http.Response, body []byte) error {
	if resp.Header.Get(HeaderError) != "" {
		var we wireError
		if err := json.Unmarshal(body, &we); err == nil {
			return we.toError()
		}
	}
	return errorf(KindTransport, "received status code: %d", resp.StatusCode)
}

// CleanlyCloseBody drains and closes an HTTP response body to prevent
// HTTP/2 GOAWAY errors caused by closing bodies with unread data.
// See: https://github.com/golang/go/issues/46071
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is a transient connection failure
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// doWithRetry sends the request built by newReq, retrying transient
// connection failures up to retries times with exponential backoff.
func doWithRetry(ctx context.Context, client *http.Client, retries int, logger *zap.Logger, newReq func() (*http.Request, error)) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			wait := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, newError(KindTransport, ctx.Err())
			case <-time.After(wait):
			}
		}

		req, err := newReq()
		if err != nil {
			return nil, errorf(KindTransport, "create request: %w", err)
		}
		resp, err := client.Do(req)
		if err == nil {
			if attempt > 0 {
				logger.Info("request succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return resp, nil
		}
		lastErr = err
		logger.Warn("request attempt failed",
			zap.Int("attempt", attempt+1),
			zap.Bool("retryable", isRetryableError(err)),
			zap.Error(err),
		)
		if !isRetryableError(err) {
			break
		}
	}
	return nil, errorf(KindTransport, "issue request: %w", lastErr)
}
