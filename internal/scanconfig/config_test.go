package scanconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero pages", func(c *Config) { c.Pages = 0 }},
		{"negative limit", func(c *Config) { c.Limit = -1 }},
		{"bad sort", func(c *Config) { c.Sort = "random" }},
		{"bad format", func(c *Config) { c.Format = "pdf" }},
		{"inverted installs", func(c *Config) { c.MinInstalls = 5000; c.MaxInstalls = 100 }},
		{"inverted days", func(c *Config) { c.MinDays = 100; c.MaxDays = 10 }},
		{"too many workers", func(c *Config) { c.Workers = 1000 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestBuildWithoutModesIsIdentity(t *testing.T) {
	base := Default()
	cfg, notices, err := Build(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, cfg)
	assert.Empty(t, notices)
}

func TestAbandonedOverlay(t *testing.T) {
	base := Default()
	base.Abandoned = true

	cfg, notices, err := Build(base, nil)
	require.NoError(t, err)
	assert.Equal(t, SortPopular, cfg.Sort)
	assert.Equal(t, 100, cfg.Pages)
	assert.Len(t, notices, 2)
	assert.Equal(t, SortUpdated, base.Sort, "base must not be modified")
}

func TestAggressiveOverlay(t *testing.T) {
	base := Default()
	base.Aggressive = true
	base.Smart = true

	cfg, notices, err := Build(base, Explicit{FieldSmart: true})
	require.NoError(t, err)
	assert.Equal(t, 200, cfg.Pages)
	assert.Equal(t, 0, cfg.Limit)
	assert.Equal(t, 40, cfg.MinScore)
	assert.False(t, cfg.Smart)
	assert.Contains(t, notices, "aggressive: smart category filter disabled")
}

func TestOverlaysPreserveExplicitValues(t *testing.T) {
	base := Default()
	base.Aggressive = true
	base.Abandoned = true
	base.Pages = 5
	base.Sort = SortUpdated
	base.MinScore = 0
	base.Limit = 25

	cfg, _, err := Build(base, Explicit{FieldPages: true, FieldSort: true, FieldMinScore: true, FieldLimit: true})
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pages)
	assert.Equal(t, SortUpdated, cfg.Sort)
	assert.Equal(t, 0, cfg.MinScore)
	assert.Equal(t, 25, cfg.Limit)
}

func TestOverlaysIdempotent(t *testing.T) {
	base := Default()
	base.Aggressive = true
	base.Abandoned = true
	base.AjaxScan = true
	base.Smart = true

	once, _, err := Build(base, nil)
	require.NoError(t, err)
	twice, notices, err := Build(once, nil)
	require.NoError(t, err)

	assert.Equal(t, once, twice)
	for _, n := range notices {
		assert.NotContains(t, n, "increased")
	}
}

func TestOverlayOrderAbandonedBeforeAggressive(t *testing.T) {
	base := Default()
	base.Aggressive = true
	base.Abandoned = true

	cfg, _, err := Build(base, nil)
	require.NoError(t, err)
	// abandoned runs first; aggressive then sees a non-default page count
	assert.Equal(t, 100, cfg.Pages)
}

func TestFocusOverlayEnablesDeepAnalysis(t *testing.T) {
	base := Default()
	base.DangerousFunctions = true

	cfg, _, err := Build(base, nil)
	require.NoError(t, err)
	assert.True(t, cfg.DeepAnalysis)

	cfg, _, err = Build(base, Explicit{FieldDeepAnalysis: true})
	require.NoError(t, err)
	assert.False(t, cfg.DeepAnalysis)
}

func TestBuildRejectsInvalidUpFront(t *testing.T) {
	base := Default()
	base.MinInstalls = 10
	base.MaxInstalls = 5
	_, _, err := Build(base, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRangeHelpers(t *testing.T) {
	c := Default()
	c.MinInstalls = 100
	c.MaxInstalls = 1000
	assert.False(t, c.InstallsInRange(99))
	assert.True(t, c.InstallsInRange(100))
	assert.True(t, c.InstallsInRange(1000))
	assert.False(t, c.InstallsInRange(1001))

	c.MinDays = 30
	assert.False(t, c.AgeInRange(10))
	assert.True(t, c.AgeInRange(30))
	assert.False(t, c.AgeInRange(-1))

	c.MinDays = 0
	assert.True(t, c.AgeInRange(-1))
}
