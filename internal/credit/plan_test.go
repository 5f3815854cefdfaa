package credit

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapPlan(t *testing.T) {
	cases := map[string]string{
		"pro":       "developer",
		"developer": "developer",
		"free":      "hobbyist",
		"hobbyist":  "hobbyist",
		"xyz":       "hobbyist",
		"":          "hobbyist",
		"PRO":       "hobbyist",
	}

	for in, want := range cases {
		assert.NotPanics(t, func() { MapPlan(in) })
		assert.Equal(t, want, MapPlan(in), "MapPlan(%q)", in)
	}
}

func TestParsePlan(t *testing.T) {
	p, ok := ParsePlan("  Pro ")
	assert.True(t, ok)
	assert.Equal(t, PlanPro, p)

	_, ok = ParsePlan("enterprise")
	assert.False(t, ok)
}
