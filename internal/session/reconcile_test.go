package session

import (
	"testing"

	"github.com/quizdesk/quizdesk-backend/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapWithRemaining(remaining int, timeSpent int) *model.SessionSnapshot {
	return &model.SessionSnapshot{
		TimeSpentSeconds:     timeSpent,
		RemainingTimeSeconds: &remaining,
	}
}

func TestEffectiveRemaining(t *testing.T) {
	r := EffectiveRemaining(snapWithRemaining(600, 0), 0)
	require.NotNil(t, r)
	assert.Equal(t, 600, *r)

	r = EffectiveRemaining(snapWithRemaining(600, 0), 123)
	assert.Equal(t, 477, *r)

	// Local ticks past the budget clamp at zero.
	r = EffectiveRemaining(snapWithRemaining(10, 590), 25)
	assert.Equal(t, 0, *r)
}

func TestEffectiveRemainingUntimed(t *testing.T) {
	assert.Nil(t, EffectiveRemaining(&model.SessionSnapshot{}, 50))
	assert.Nil(t, EffectiveRemaining(nil, 50))
}

func TestEffectiveTimeSpent(t *testing.T) {
	assert.Equal(t, 0, EffectiveTimeSpent(nil, 0))
	assert.Equal(t, 7, EffectiveTimeSpent(nil, 7))
	assert.Equal(t, 130, EffectiveTimeSpent(snapWithRemaining(470, 100), 30))
}
