package tracing

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/captiva/internal/apperr"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

// ExtractContext pulls a remote span context out of inbound headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}

var sensitiveKeys = []string{"token", "secret", "authorization", "password", "mac", "pix", "qr"}

// SafeAttributes drops attributes whose keys may carry credentials or
// subscriber identifiers.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		key := strings.ToLower(string(attr.Key))
		if isSensitive(key) {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError reduces an error to its classified kind so raw gateway or
// database messages never reach the trace backend.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(apperr.Kind(err).Error())
}

func isSensitive(key string) bool {
	for _, marker := range sensitiveKeys {
		if strings.Contains(key, marker) {
			return true
		}
	}
	return false
}
