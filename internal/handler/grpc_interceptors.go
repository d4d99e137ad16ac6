package handler

import (
	"context"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/pesio-ai/be-crm-activities/pkg/middleware"
)

// actorMetadataKey carries the caller's email, asserted by the gateway.
const actorMetadataKey = "x-user-email"

// ActorInterceptor copies the caller identity from incoming metadata into the
// context, mirroring middleware.Actor on the HTTP side.
func ActorInterceptor(ctx context.Context, req interface{}, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if vals := md.Get(actorMetadataKey); len(vals) > 0 {
			if email := strings.ToLower(strings.TrimSpace(vals[0])); email != "" {
				ctx = middleware.WithActor(ctx, email)
			}
		}
	}
	return handler(ctx, req)
}

// LoggingInterceptor logs one line per unary call.
func LoggingInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log.Info().
			Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc request")
		return resp, err
	}
}

// RecoveryInterceptor turns panics into codes.Internal.
func RecoveryInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if p := recover(); p != nil {
				log.Error().
					Interface("panic", p).
					Bytes("stack", debug.Stack()).
					Str("method", info.FullMethod).
					Msg("recovered from panic")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}
