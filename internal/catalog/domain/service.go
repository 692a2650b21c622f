package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
)

type Service interface {
	GetPlan(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetAccessPoint(ctx context.Context, id snowflake.ID) (*AccessPoint, error)
	ListPlans(ctx context.Context, accessPointID snowflake.ID) ([]Plan, error)

	AuthenticateAccessPoint(ctx context.Context, id snowflake.ID, token string) (*AccessPoint, error)
	Heartbeat(ctx context.Context, req HeartbeatRequest) error
	FleetStatus(ctx context.Context) (FleetReport, error)
	RegenerateToken(ctx context.Context, id snowflake.ID) (string, error)
	InstallScripts(ctx context.Context, req InstallScriptRequest) (*InstallScripts, error)
}
