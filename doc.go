// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package serverfn provides typed remote functions for the Lux ecosystem.
//
// A remote function is declared once and shared by the process that serves
// it and the processes that call it. The declaration fixes the function's
// identifier and its encoding, so router and stub always agree on the wire
// format.
//
// # Declaring
//
//	var Double = serverfn.Define[int, int]("", "DoubleServer", serverfn.EncodingGetMsgpack)
//
// # Serving
//
//	store := serverfn.NewStore()
//	serverfn.Insert(store, &State{})
//
//	reg := serverfn.NewRegistry()
//	serverfn.Register(reg, Double, func(ctx context.Context, rc *serverfn.RequestContext, n int) (int, error) {
//	    rc.SetResponseHeader("Cache-Control", "max-age=3600")
//	    return n * 2, nil
//	})
//
//	router := serverfn.NewRouter(reg, store)
//	server, err := serverfn.Listen(":9000", router)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	server.Serve(ctx)
//
// # Calling
//
//	client, err := serverfn.Dial(ctx, "localhost:9000")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	count := serverfn.NewCell(5)
//	err = serverfn.Resolve(ctx, count, func(ctx context.Context, n int) (int, error) {
//	    return Double.Call(ctx, client, n)
//	})
//
// # Transport Selection
//
// ZAP is the default transport. The http, jsonrpc and grpc transports are
// selected with WithTransport / WithServerTransport:
//
//	client, err := serverfn.Dial(ctx, "http://localhost:8080/api", serverfn.WithTransport(serverfn.TransportHTTP))
//
// # Architecture
//
//   - codec.go: Codec interface and the encoding registry
//   - store.go: type-indexed, process-lifetime shared state
//   - context.go: per-call RequestContext
//   - registry.go: FunctionID and the function registry
//   - router.go: call dispatch and the call state machine
//   - stub.go: client-side Function.Call / Function.Invoke
//   - cell.go: observable Cell and Resolve
//   - transport.go, dial.go: transport registry, Dial and Listen
//   - zap.go, http.go, jsonrpc.go, grpc.go: transports
package serverfn
