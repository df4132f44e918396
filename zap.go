// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package serverfn

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrZAPClosed      = errors.New("zap: connection closed")
	ErrZAPInvalidResp = errors.New("zap: invalid response")
	ErrZAPFrameSize   = errors.New("zap: frame too large")
)

// MessageType identifies ZAP message types
type MessageType uint8

const (
	MsgRequest  MessageType = 0x01
	MsgResponse MessageType = 0x02
	MsgError    MessageType = 0x03
)

const (
	zapMaxFrame     = 64 * 1024 * 1024 // 64MB
	zapFixedLen     = 1 + 4 + 4        // type, reqID, header length
	zapWriteTimeout = 30 * time.Second
)

// zapRequestHeader precedes the argument bytes of a request frame
type zapRequestHeader struct {
	CallID   string            `msgpack:"call_id,omitempty"`
	Function FunctionID        `msgpack:"fn"`
	Encoding string            `msgpack:"enc"`
	Path     string            `msgpack:"path,omitempty"`
	Params   map[string]string `msgpack:"params,omitempty"`
	Headers  Metadata          `msgpack:"headers,omitempty"`
	Token    string            `msgpack:"token,omitempty"`
}

// zapResponseHeader precedes the result bytes of a response frame
type zapResponseHeader struct {
	Encoding string   `msgpack:"enc"`
	Headers  Metadata `msgpack:"headers,omitempty"`
}

type zapFrame struct {
	typ     MessageType
	reqID   uint32
	header  []byte
	payload []byte
}

// writeZAPFrame encodes [4 len][1 type][4 reqID][4 hdrLen][hdr][payload]
func writeZAPFrame(w io.Writer, mu *sync.Mutex, typ MessageType, reqID uint32, hdr interface{}, payload []byte) error {
	hdrBytes, err := envelopeCodec.Encode(hdr)
	if err != nil {
		return fmt.Errorf("zap encode header: %w", err)
	}
	msgLen := zapFixedLen + len(hdrBytes) + len(payload)
	if msgLen > zapMaxFrame {
		return ErrZAPFrameSize
	}

	buf := make([]byte, 4+msgLen)
	binary.BigEndian.PutUint32(buf[0:4], uint32(msgLen))
	buf[4] = byte(typ)
	binary.BigEndian.PutUint32(buf[5:9], reqID)
	binary.BigEndian.PutUint32(buf[9:13], uint32(len(hdrBytes)))
	copy(buf[13:], hdrBytes)
	copy(buf[13+len(hdrBytes):], payload)

	mu.Lock()
	defer mu.Unlock()
	_, err = w.Write(buf)
	return err
}

func readZAPFrame(r io.Reader, header []byte) (zapFrame, error) {
	if _, err := io.ReadFull(r, header); err != nil {
		return zapFrame{}, err
	}
	msgLen := binary.BigEndian.Uint32(header)
	if msgLen < zapFixedLen || msgLen > zapMaxFrame {
		return zapFrame{}, ErrZAPFrameSize
	}

	msg := make([]byte, msgLen)
	if _, err := io.ReadFull(r, msg); err != nil {
		return zapFrame{}, err
	}

	hdrLen := binary.BigEndian.Uint32(msg[5:9])
	if uint64(zapFixedLen)+uint64(hdrLen) > uint64(msgLen) {
		return zapFrame{}, ErrZAPInvalidResp
	}
	return zapFrame{
		typ:     MessageType(msg[0]),
		reqID:   binary.BigEndian.Uint32(msg[1:5]),
		header:  msg[zapFixedLen : zapFixedLen+hdrLen],
		payload: msg[zapFixedLen+hdrLen:],
	}, nil
}

// ZAPConn is a client connection to a ZAP server. Calls are multiplexed
// over one TCP connection by request ID.
type ZAPConn struct {
	conn     net.Conn
	logger   *zap.Logger
	token    string
	writeMu  sync.Mutex
	pending  sync.Map // requestID -> chan zapFrame
	nextID   atomic.Uint32
	closed   atomic.Bool
	readDone chan struct{}
}

// ZAPDial connects to a ZAP server
func ZAPDial(ctx context.Context, addr string, logger *zap.Logger) (*ZAPConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("zap dial: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	zc := &ZAPConn{
		conn:     conn,
		logger:   logger,
		readDone: make(chan struct{}),
	}
	go zc.readLoop()
	return zc, nil
}

// RoundTrip sends env and waits for the matching response
func (z *ZAPConn) RoundTrip(ctx context.Context, env *CallEnvelope) (*ResponseEnvelope, error) {
	if z.closed.Load() {
		return nil, newError(KindTransport, ErrZAPClosed)
	}

	requestID := z.nextID.Add(1)
	respCh := make(chan zapFrame, 1)
	z.pending.Store(requestID, respCh)
	defer z.pending.Delete(requestID)

	hdr := zapRequestHeader{
		CallID:   env.CallID,
		Function: env.Function,
		Encoding: env.Encoding,
		Path:     env.Path,
		Params:   env.Params,
		Headers:  env.Headers,
		Token:    z.token,
	}
	if err := writeZAPFrame(z.conn, &z.writeMu, MsgRequest, requestID, hdr, env.Payload); err != nil {
		return nil, errorf(KindTransport, "zap write: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, newError(KindTransport, ctx.Err())
	case <-z.readDone:
		return nil, newError(KindTransport, ErrZAPClosed)
	case f := <-respCh:
		return decodeZAPResponse(f)
	}
}

func decodeZAPResponse(f zapFrame) (*ResponseEnvelope, error) {
	switch f.typ {
	case MsgResponse:
		var hdr zapResponseHeader
		if err := envelopeCodec.Decode(f.header, &hdr); err != nil {
			return nil, errorf(KindTransport, "%w: %v", ErrZAPInvalidResp, err)
		}
		return &ResponseEnvelope{Encoding: hdr.Encoding, Headers: hdr.Headers, Payload: f.payload}, nil
	case MsgError:
		var we wireError
		if err := envelopeCodec.Decode(f.header, &we); err != nil {
			return nil, errorf(KindTransport, "%w: %v", ErrZAPInvalidResp, err)
		}
		return nil, we.toError()
	default:
		return nil, newError(KindTransport, ErrZAPInvalidResp)
	}
}

func (z *ZAPConn) readLoop() {
	defer close(z.readDone)

	header := make([]byte, 4)
	for {
		f, err := readZAPFrame(z.conn, header)
		if err != nil {
			if !z.closed.Load() {
				z.logger.Debug("zap client read loop stopped", zap.Error(err))
			}
			return
		}
		if ch, ok := z.pending.Load(f.reqID); ok {
			ch.(chan zapFrame) <- f
		}
	}
}

// Close closes the connection
func (z *ZAPConn) Close() error {
	if z.closed.Swap(true) {
		return nil
	}
	return z.conn.Close()
}

// ZAPServer serves a Router over ZAP
type ZAPServer struct {
	listener net.Listener
	router   *Router
	logger   *zap.Logger
	secret   []byte
	conns    sync.Map
	closed   atomic.Bool
}

// NewZAPServer creates a new ZAP server
func NewZAPServer(listener net.Listener, router *Router, logger *zap.Logger) *ZAPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZAPServer{
		listener: listener,
		router:   router,
		logger:   logger,
	}
}

// Serve accepts connections until ctx is cancelled or Close is called
func (s *ZAPServer) Serve(ctx context.Context) error {
	s.router.Seal()
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.logger.Info("zap server listening", zap.String("addr", s.Addr()))
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() {
				return nil
			}
			s.logger.Warn("zap accept failed", zap.Error(err))
			continue
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *ZAPServer) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	s.conns.Store(conn, struct{}{})
	defer s.conns.Delete(conn)

	var writeMu sync.Mutex
	header := make([]byte, 4)
	for {
		f, err := readZAPFrame(conn, header)
		if err != nil {
			if !errors.Is(err, io.EOF) && !s.closed.Load() {
				s.logger.Debug("zap connection dropped", zap.String("remote", conn.RemoteAddr().String()), zap.Error(err))
			}
			return
		}
		if f.typ != MsgRequest {
			continue
		}

		go func(f zapFrame) {
			resp, err := s.dispatch(ctx, f)
			s.sendResponse(conn, &writeMu, f.reqID, resp, err)
		}(f)
	}
}

func (s *ZAPServer) dispatch(ctx context.Context, f zapFrame) (*ResponseEnvelope, error) {
	var hdr zapRequestHeader
	if err := envelopeCodec.Decode(f.header, &hdr); err != nil {
		return nil, errorf(KindDecode, "zap request header: %w", err)
	}
	env := &CallEnvelope{
		CallID:   hdr.CallID,
		Function: hdr.Function,
		Encoding: hdr.Encoding,
		Path:     hdr.Path,
		Params:   hdr.Params,
		Headers:  bindAuthSubject(hdr.Headers, ""),
		Payload:  f.payload,
	}
	if len(s.secret) > 0 {
		sub, err := verifyBearer(s.secret, "Bearer "+hdr.Token)
		if err != nil {
			s.logger.Debug("zap token rejected", zap.Stringer("function", hdr.Function), zap.Error(err))
			return nil, newError(KindTransport, err)
		}
		env.Headers = bindAuthSubject(env.Headers, sub)
	}
	return s.router.Dispatch(ctx, env)
}

func (s *ZAPServer) sendResponse(conn net.Conn, mu *sync.Mutex, requestID uint32, resp *ResponseEnvelope, err error) {
	conn.SetWriteDeadline(time.Now().Add(zapWriteTimeout))
	if err != nil {
		err = writeZAPFrame(conn, mu, MsgError, requestID, toWireError(err), nil)
	} else {
		err = writeZAPFrame(conn, mu, MsgResponse, requestID,
			zapResponseHeader{Encoding: resp.Encoding, Headers: resp.Headers}, resp.Payload)
	}
	if err != nil {
		s.logger.Warn("zap write response failed", zap.Uint32("requestId", requestID), zap.Error(err))
	}
}

// Close closes the server and every open connection
func (s *ZAPServer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.conns.Range(func(key, _ interface{}) bool {
		key.(net.Conn).Close()
		return true
	})
	return s.listener.Close()
}

// Addr returns the listener address
func (s *ZAPServer) Addr() string {
	return s.listener.Addr().String()
}

func dialZAP(ctx context.Context, addr string, o *dialOptions) (Client, error) {
	zc, err := ZAPDial(ctx, addr, o.logger)
	if err != nil {
		return nil, err
	}
	zc.token = o.token
	return zc, nil
}

func listenZAP(addr string, router *Router, o *serverOptions) (Server, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := NewZAPServer(listener, router, o.logger)
	s.secret = o.hmacSecret
	return s, nil
}
