// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	gorillarpc "github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const (
	jsonrpcPath   = "/rpc"
	jsonrpcMethod = "Functions.Call"
)

func init() {
	registerTransport(TransportJSONRPC, dialJSONRPC, listenJSONRPC)
}

// JSONRPCCall is the params object of a Functions.Call request. Payload
// travels base64 encoded, as encoding/json does for []byte.
type JSONRPCCall struct {
	CallID   string            `json:"callId,omitempty"`
	Function string            `json:"function"`
	Encoding string            `json:"encoding"`
	Path     string            `json:"path,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
	Headers  Metadata          `json:"headers,omitempty"`
	Payload  []byte            `json:"payload,omitempty"`
}

// JSONRPCReply is the result object of a Functions.Call response
type JSONRPCReply struct {
	Encoding string   `json:"encoding"`
	Headers  Metadata `json:"headers,omitempty"`
	Payload  []byte   `json:"payload,omitempty"`
}

// FunctionsService exposes a Router as the JSON-RPC service "Functions".
type FunctionsService struct {
	router        *Router
	authenticated bool
}

// Call dispatches one call. Failures are returned as json2 errors whose
// Data holds the error kind.
func (s *FunctionsService) Call(r *http.Request, args *JSONRPCCall, reply *JSONRPCReply) error {
	id, err := ParseFunctionID(args.Function)
	if err != nil {
		return toJSON2Error(newError(KindNotFound, err))
	}
	headers := MetadataFromHeader(r.Header)
	for k, v := range args.Headers {
		headers.Set(k, v)
	}
	// args.Headers may carry a subject too; only bearerAuth's is trusted
	var sub string
	if s.authenticated {
		sub = r.Header.Get(HeaderAuthSubject)
	}
	headers = bindAuthSubject(headers, sub)

	resp, err := s.router.Dispatch(r.Context(), &CallEnvelope{
		CallID:   args.CallID,
		Function: id,
		Encoding: args.Encoding,
		Path:     args.Path,
		Params:   args.Params,
		Headers:  headers,
		Payload:  args.Payload,
	})
	if err != nil {
		return toJSON2Error(err)
	}
	reply.Encoding = resp.Encoding
	reply.Headers = resp.Headers
	reply.Payload = resp.Payload
	return nil
}

func toJSON2Error(err error) *json2.Error {
	we := toWireError(err)
	code := json2.E_SERVER
	switch ParseKind(we.Kind) {
	case KindNotFound:
		code = json2.E_NO_METHOD
	case KindDecode:
		code = json2.E_INVALID_REQ
	}
	return &json2.Error{Code: code, Message: we.Message, Data: we.Kind}
}

// NewJSONRPCHandler returns the jsonrpc transport's handler for router.
func NewJSONRPCHandler(router *Router, opts ...ServerOption) http.Handler {
	o := &serverOptions{logger: router.Logger()}
	for _, opt := range opts {
		opt(o)
	}

	rpcServer := gorillarpc.NewServer()
	rpcServer.RegisterCodec(json2.NewCodec(), "application/json")
	if err := rpcServer.RegisterService(&FunctionsService{router: router, authenticated: len(o.hmacSecret) > 0}, "Functions"); err != nil {
		// FunctionsService is static; this only fails if its method set is broken
		panic(fmt.Sprintf("register jsonrpc service: %v", err))
	}

	return newHTTPMux(router, o, func(r chi.Router) {
		r.Method(http.MethodPost, jsonrpcPath, rpcServer)
	})
}

func listenJSONRPC(addr string, router *Router, o *serverOptions) (Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	h := NewJSONRPCHandler(router,
		WithServerLogger(o.logger),
		WithMetricsHandler(o.metrics),
		WithHMACSecret(o.hmacSecret),
	)
	return newHTTPServer(listener, router, h, o.logger), nil
}

// JSONRPCClient calls functions through the jsonrpc transport
type JSONRPCClient struct {
	uri     *url.URL
	client  *http.Client
	retries int
	token   string
	logger  *zap.Logger
}

func dialJSONRPC(_ context.Context, addr string, o *dialOptions) (Client, error) {
	uri, err := parseBaseURL(addr, jsonrpcPath)
	if err != nil {
		return nil, err
	}
	c := o.httpClient
	if c == nil {
		c = newDefaultHTTPClient()
	}
	return &JSONRPCClient{uri: uri, client: c, retries: o.retries, token: o.token, logger: o.logger}, nil
}

// RoundTrip sends env as a Functions.Call request
func (c *JSONRPCClient) RoundTrip(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error) {
	var reply JSONRPCReply
	err := SendJSONRequest(ctx, c.client, c.uri, jsonrpcMethod, &JSONRPCCall{
		CallID:   env.CallID,
		Function: env.Function.String(),
		Encoding: env.Encoding,
		Path:     env.Path,
		Params:   env.Params,
		Headers:  env.Headers,
		Payload:  env.Payload,
	}, &reply, c.token, c.retries, c.logger)
	if err != nil {
		return nil, err
	}
	return &ResponseEnvelope{Encoding: reply.Encoding, Headers: reply.Headers, Payload: reply.Payload}, nil
}

// Close releases idle connections
func (c *JSONRPCClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// SendJSONRequest issues one JSON-RPC 2.0 request and decodes its result
// into reply. json2 errors carrying a serverfn kind come back as *Error.
func SendJSONRequest(
	ctx context.Context,
	client *http.Client,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	token string,
	retries int,
	logger *zap.Logger,
) error {
	requestBodyBytes, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return errorf(KindDecode, "failed to encode client params: %w", err)
	}

	resp, err := doWithRetry(ctx, client, retries, logger, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, uri.String(), bytes.NewReader(requestBodyBytes))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer CleanlyCloseBody(resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if err := json2.DecodeClientResponse(resp.Body, reply); err != nil {
		var jerr *json2.Error
		if errors.As(err, &jerr) {
			if kind, isKind := jerr.Data.(string); isKind {
				return &Error{Kind: ParseKind(kind), Message: jerr.Message}
			}
			if ok {
				return &Error{Kind: KindExecution, Message: jerr.Message}
			}
		}
		if !ok {
			return errorf(KindTransport, "received status code: %d", resp.StatusCode)
		}
		return errorf(KindDecode, "failed to decode client response: %w", err)
	}
	return nil
}
