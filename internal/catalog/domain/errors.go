package domain

import "github.com/smallbiznis/captiva/internal/apperr"

var (
	ErrInvalidPlan         = apperr.Validation("invalid_plan")
	ErrInvalidAccessPoint  = apperr.Validation("invalid_access_point")
	ErrInvalidAPIURL       = apperr.Validation("invalid_api_url")
	ErrPlanNotFound        = apperr.NotFound("plan_not_found")
	ErrAccessPointNotFound = apperr.NotFound("access_point_not_found")
	ErrAccessPointInactive = apperr.Forbidden("access_point_inactive")
	ErrInvalidToken        = apperr.Forbidden("invalid_access_point_token")
)
