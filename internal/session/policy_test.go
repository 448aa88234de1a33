package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCeilMinutes(t *testing.T) {
	assert.Equal(t, 0, ceilMinutes(0))
	assert.Equal(t, 1, ceilMinutes(1))
	assert.Equal(t, 1, ceilMinutes(60))
	assert.Equal(t, 2, ceilMinutes(61))
	assert.Equal(t, 10, ceilMinutes(600))
	assert.Equal(t, 11, ceilMinutes(601))
}

func TestPolicyFiresEachThresholdOnce(t *testing.T) {
	var warnings []int
	p := NewExpiryPolicy([]int{10, 5, 1}, func(m int) { warnings = append(warnings, m) }, nil)
	p.Reset(minutes(30))

	for remaining := 30 * 60; remaining > 0; remaining-- {
		r := remaining
		p.Observe(&r, true)
	}
	assert.Equal(t, []int{10, 5, 1}, warnings)
}

func TestPolicySuppressesThresholdsCoveringWholeQuiz(t *testing.T) {
	var warnings []int
	p := NewExpiryPolicy([]int{10, 5, 1}, func(m int) { warnings = append(warnings, m) }, nil)
	p.Reset(minutes(5))

	r := 5 * 60
	p.Observe(&r, true)
	assert.Empty(t, warnings, "10 and 5 minute marks mean nothing on a 5-minute quiz")

	r = 4 * 60
	p.Observe(&r, true)
	assert.Empty(t, warnings)

	r = 60
	p.Observe(&r, true)
	assert.Equal(t, []int{1}, warnings)
}

func TestPolicyTimeUpGatedByActive(t *testing.T) {
	timeUps := 0
	p := NewExpiryPolicy([]int{1}, nil, func() { timeUps++ })
	p.Reset(minutes(10))

	zero := 0
	p.Observe(&zero, false)
	assert.Equal(t, 0, timeUps, "a paused session reaching zero by refresh must not auto-submit")

	p.Observe(&zero, true)
	p.Observe(&zero, true)
	assert.Equal(t, 1, timeUps)
	assert.True(t, p.TimeUpFired())
}

func TestPolicyIgnoresUntimed(t *testing.T) {
	fired := false
	p := NewExpiryPolicy([]int{10, 5, 1}, func(int) { fired = true }, func() { fired = true })
	p.Reset(nil)

	p.Observe(nil, true)
	assert.False(t, fired)
}

func TestPolicyResetReArms(t *testing.T) {
	warnings := 0
	p := NewExpiryPolicy([]int{1}, func(int) { warnings++ }, nil)
	p.Reset(minutes(10))

	r := 50
	p.Observe(&r, true)
	p.Observe(&r, true)
	assert.Equal(t, 1, warnings)

	p.Reset(minutes(10))
	p.Observe(&r, true)
	assert.Equal(t, 2, warnings)
}
