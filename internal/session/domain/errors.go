package domain

import "github.com/smallbiznis/captiva/internal/apperr"

var (
	ErrInvalidMAC         = apperr.Validation("invalid_mac_address")
	ErrInvalidAccessPoint = apperr.Validation("invalid_access_point")
	ErrInvalidEvent       = apperr.Validation("invalid_presence_event")
	ErrInvalidDuration    = apperr.Validation("invalid_entitlement_duration")
	ErrUnknownEvent       = apperr.Validation("unknown_session_event")
	ErrDeviceNotFound     = apperr.NotFound("device_not_found")
	ErrAlreadyEntitled    = apperr.Conflict("session_already_entitled")
)
