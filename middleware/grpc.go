// Package middleware provides rate limiting middleware for HTTP servers.
//
// # gRPC Interceptors
//
// gRPC interceptors live in the grpcmw sub-package to avoid adding
// google.golang.org/grpc as a mandatory dependency of this package.
//
//	import (
//	    "github.com/rohanverma/ratelimitd/middleware/grpcmw"
//	    "google.golang.org/grpc"
//	)
//
//	coordinator := ratelimitd.NewCoordinator(policyCache, redisStore)
//	server := grpc.NewServer(
//	    grpc.ChainUnaryInterceptor(grpcmw.UnaryServerInterceptor(coordinator, "rpc", grpcmw.KeyByPeer)),
//	    grpc.ChainStreamInterceptor(grpcmw.StreamServerInterceptor(coordinator, "rpc", grpcmw.StreamKeyByPeer)),
//	)
//
// See package github.com/rohanverma/ratelimitd/middleware/grpcmw for full API.
package middleware
