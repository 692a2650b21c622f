package cache

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hashicorp/golang-lru/v2/expirable"
	catalogdomain "github.com/smallbiznis/captiva/internal/catalog/domain"
)

const (
	defaultPlanTTL  = 30 * time.Second
	defaultPlanSize = 4096
)

// PlanCache holds the active plan list of each access point. Captive portals
// fetch it on every page load; staleness is bounded by the TTL.
type PlanCache struct {
	plans *expirable.LRU[snowflake.ID, []catalogdomain.Plan]
}

func NewPlanCache() *PlanCache {
	return NewPlanCacheWithTTL(defaultPlanSize, defaultPlanTTL)
}

func NewPlanCacheWithTTL(size int, ttl time.Duration) *PlanCache {
	if size <= 0 {
		size = defaultPlanSize
	}
	if ttl <= 0 {
		ttl = defaultPlanTTL
	}
	return &PlanCache{plans: expirable.NewLRU[snowflake.ID, []catalogdomain.Plan](size, nil, ttl)}
}

func (c *PlanCache) Get(accessPointID snowflake.ID) ([]catalogdomain.Plan, bool) {
	if c == nil {
		return nil, false
	}
	plans, ok := c.plans.Get(accessPointID)
	if !ok {
		return nil, false
	}
	return append([]catalogdomain.Plan(nil), plans...), true
}

func (c *PlanCache) Set(accessPointID snowflake.ID, plans []catalogdomain.Plan) {
	if c == nil || accessPointID == 0 {
		return
	}
	c.plans.Add(accessPointID, append([]catalogdomain.Plan(nil), plans...))
}

func (c *PlanCache) Invalidate(accessPointID snowflake.ID) {
	if c == nil {
		return
	}
	c.plans.Remove(accessPointID)
}
