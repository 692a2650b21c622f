package cache

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/smallbiznis/captiva/internal/catalog/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanCacheRoundTripCopies(t *testing.T) {
	c := NewPlanCache()
	apID := snowflake.ID(500)
	plans := []catalogdomain.Plan{{ID: 900, Name: "1 hora", PriceMills: 10000}}

	c.Set(apID, plans)
	plans[0].Name = "mutated"

	got, ok := c.Get(apID)
	require.True(t, ok)
	assert.Equal(t, "1 hora", got[0].Name)

	c.Invalidate(apID)
	_, ok = c.Get(apID)
	assert.False(t, ok)
}

func TestPlanCacheExpires(t *testing.T) {
	c := NewPlanCacheWithTTL(8, 20*time.Millisecond)
	c.Set(1, []catalogdomain.Plan{{ID: 1}})

	require.Eventually(t, func() bool {
		_, ok := c.Get(1)
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestNilPlanCache(t *testing.T) {
	var c *PlanCache
	c.Set(1, nil)
	c.Invalidate(1)
	_, ok := c.Get(1)
	assert.False(t, ok)
}
