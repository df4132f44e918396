// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

const (
	grpcServiceName = "serverfn.Functions"
	grpcCallMethod  = "/serverfn.Functions/Call"
	grpcKindTrailer = "serverfn-error-kind"
)

func init() {
	registerTransport(TransportGRPC, dialGRPC, listenGRPC)
}

// grpcCodec carries envelopes as msgpack; both ends force it, so no
// generated protobuf types are needed.
type grpcCodec struct{}

func (grpcCodec) Marshal(v interface{}) ([]byte, error)      { return envelopeCodec.Encode(v) }
func (grpcCodec) Unmarshal(data []byte, v interface{}) error { return envelopeCodec.Decode(data, v) }
func (grpcCodec) Name() string                               { return EncodingMsgpack }

type functionsServer interface {
	Call(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error)
}

var functionsServiceDesc = grpc.ServiceDesc{
	ServiceName: grpcServiceName,
	HandlerType: (*functionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Call", Handler: functionsCallHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "serverfn",
}

func functionsCallHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CallEnvelope)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(functionsServer).Call(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: grpcCallMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(functionsServer).Call(ctx, req.(*CallEnvelope))
	}
	return interceptor(ctx, in, info, handler)
}

// grpcFunctions adapts a Router to functionsServer. Request headers arrive
// as incoming metadata, response headers leave as header metadata, and the
// error kind rides in a trailer next to the status code.
type grpcFunctions struct {
	router *Router
}

func (g *grpcFunctions) Call(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		env.Headers = metadataFromMD(md)
	}
	sub, _ := ctx.Value(authSubjectKey{}).(string)
	env.Headers = bindAuthSubject(env.Headers, sub)

	resp, err := g.router.Dispatch(ctx, env)
	if err != nil {
		we := toWireError(err)
		grpc.SetTrailer(ctx, metadata.Pairs(grpcKindTrailer, we.Kind))
		return nil, status.Error(ParseKind(we.Kind).GRPCCode(), we.Message)
	}
	if len(resp.Headers) > 0 {
		if err := grpc.SetHeader(ctx, metadata.New(resp.Headers)); err != nil {
			return nil, status.Errorf(KindTransport.GRPCCode(), "set header: %v", err)
		}
	}
	return &ResponseEnvelope{Encoding: resp.Encoding, Payload: resp.Payload}, nil
}

func metadataFromMD(md metadata.MD) Metadata {
	out := make(Metadata, len(md))
	for k, vs := range md {
		if strings.HasPrefix(k, ":") || k == "content-type" || len(vs) == 0 {
			continue
		}
		out.Set(k, vs[0])
	}
	return out
}

type authSubjectKey struct{}

// authUnary rejects calls without an HS256 bearer token signed with secret
// and passes the token subject on through the context.
func authUnary(secret []byte, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		var authorization string
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if vs := md.Get("authorization"); len(vs) > 0 {
				authorization = vs[0]
			}
		}
		sub, err := verifyBearer(secret, authorization)
		if err != nil {
			logger.Debug("grpc token rejected", zap.String("method", info.FullMethod), zap.Error(err))
			grpc.SetTrailer(ctx, metadata.Pairs(grpcKindTrailer, KindTransport.String()))
			return nil, status.Error(codes.Unauthenticated, err.Error())
		}
		return handler(context.WithValue(ctx, authSubjectKey{}, sub), req)
	}
}

func logUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("lat", time.Since(start)),
		)
		return resp, err
	}
}

// GRPCServer serves a Router over gRPC
type GRPCServer struct {
	listener net.Listener
	server   *grpc.Server
	router   *Router
	logger   *zap.Logger
}

// Serve serves until ctx is cancelled or Close is called
func (s *GRPCServer) Serve(ctx context.Context) error {
	s.router.Seal()
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("grpc server listening", zap.String("addr", s.Addr()))
	return s.server.Serve(s.listener)
}

// Close stops the server, giving in-flight calls a moment to finish
func (s *GRPCServer) Close() error {
	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.server.Stop()
	}
	return nil
}

// Addr returns the listener address
func (s *GRPCServer) Addr() string { return s.listener.Addr().String() }

func listenGRPC(addr string, router *Router, o *serverOptions) (Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	interceptors := []grpc.UnaryServerInterceptor{logUnary(o.logger)}
	if len(o.hmacSecret) > 0 {
		interceptors = append(interceptors, authUnary(o.hmacSecret, o.logger))
	}
	gs := grpc.NewServer(
		grpc.ForceServerCodec(grpcCodec{}),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	gs.RegisterService(&functionsServiceDesc, &grpcFunctions{router: router})
	return &GRPCServer{listener: listener, server: gs, router: router, logger: o.logger}, nil
}

// GRPCClient calls functions through the grpc transport
type GRPCClient struct {
	conn  *grpc.ClientConn
	token string
}

func dialGRPC(_ context.Context, addr string, o *dialOptions) (Client, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(grpcCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("grpc dial: %w", err)
	}
	return &GRPCClient{conn: conn, token: o.token}, nil
}

// RoundTrip invokes serverfn.Functions/Call
func (c *GRPCClient) RoundTrip(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error) {
	md := metadata.New(env.Headers)
	if c.token != "" {
		md.Set("authorization", "Bearer "+c.token)
	}
	if md.Len() > 0 {
		ctx = metadata.NewOutgoingContext(ctx, md)
	}
	out := *env
	out.Headers = nil

	var (
		reply   ResponseEnvelope
		header  metadata.MD
		trailer metadata.MD
	)
	err := c.conn.Invoke(ctx, grpcCallMethod, &out, &reply, grpc.Header(&header), grpc.Trailer(&trailer))
	if err != nil {
		st := status.Convert(err)
		if kinds := trailer.Get(grpcKindTrailer); len(kinds) > 0 {
			return nil, &Error{Kind: ParseKind(kinds[0]), Message: st.Message()}
		}
		return nil, &Error{Kind: kindFromGRPCCode(st.Code()), Message: st.Message(), Err: err}
	}
	reply.Headers = metadataFromMD(header)
	return &reply, nil
}

// Close closes the connection
func (c *GRPCClient) Close() error {
	return c.conn.Close()
}
