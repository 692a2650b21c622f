package tracing

import (
	"errors"
	"testing"

	"github.com/smallbiznis/captiva/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSensitiveKeys(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("http.route", "/api/captive/intents"),
		attribute.String("access_point.api_token", "secret"),
		attribute.String("device.mac_address", "aa:bb:cc:dd:ee:ff"),
		attribute.Int("http.status_code", 200),
	)
	require.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	assert.Equal(t, attribute.Key("http.status_code"), attrs[1].Key)
}

func TestSafeErrorHidesMessage(t *testing.T) {
	err := SafeError(errors.New("pq: password authentication failed"))
	require.Error(t, err)
	assert.Equal(t, apperr.ErrInternal.Error(), err.Error())

	assert.Equal(t, apperr.ErrGateway.Error(), SafeError(apperr.Gateway("gateway_timeout")).Error())
	assert.NoError(t, SafeError(nil))
}
