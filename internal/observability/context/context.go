package context

import (
	"context"
	"strings"
)

type requestIDKey struct{}
type accessPointKey struct{}
type actorKey struct{}

type actor struct {
	kind string
	id   string
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

// WithAccessPointID tags the context with the access point a request acts for.
func WithAccessPointID(ctx context.Context, accessPointID string) context.Context {
	accessPointID = strings.TrimSpace(accessPointID)
	if accessPointID == "" {
		return ctx
	}
	return context.WithValue(ctx, accessPointKey{}, accessPointID)
}

func AccessPointIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(accessPointKey{}).(string)
	return value
}

// WithActor records who initiated the work: "device", "access_point",
// "admin", "gateway" or "system".
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	actorType = strings.TrimSpace(actorType)
	if actorType == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor{kind: actorType, id: strings.TrimSpace(actorID)})
}

func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	value, ok := ctx.Value(actorKey{}).(actor)
	if !ok {
		return "", ""
	}
	return value.kind, value.id
}
