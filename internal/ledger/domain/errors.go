package domain

import "github.com/smallbiznis/captiva/internal/apperr"

var (
	ErrInvalidPaymentIntent = apperr.Validation("invalid_payment_intent")
	ErrNegativeShare        = apperr.Validation("negative_share")
	ErrMissingCredit        = apperr.Conflict("ledger_credit_missing")
)
