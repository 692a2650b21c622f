package domain

import "github.com/smallbiznis/captiva/internal/apperr"

var (
	ErrInvalidIntent      = apperr.Validation("invalid_payment_intent")
	ErrIntentNotFound     = apperr.NotFound("payment_intent_not_found")
	ErrPendingExists      = apperr.Conflict("pending_intent_exists")
	ErrProcessingInFlight = apperr.Conflict("payment_processing_in_flight")
	ErrUnknownStatus      = apperr.Validation("unknown_gateway_status")
	ErrAmountAboveLimit   = apperr.Validation("amount_above_limit")

	ErrGatewayUnavailable = apperr.Gateway("gateway_unavailable")
	ErrGatewayRejected    = apperr.Gateway("gateway_rejected_request")
	ErrGatewayNotFound    = apperr.Gateway("gateway_payment_not_found")

	ErrProviderNotFound = apperr.NotFound("payment_provider_not_found")
	ErrInvalidConfig    = apperr.Validation("invalid_provider_config")
	ErrInvalidSignature = apperr.Forbidden("invalid_signature")
	ErrInvalidPayload   = apperr.Validation("invalid_payload")
	ErrEventIgnored     = apperr.Validation("event_ignored")
)
