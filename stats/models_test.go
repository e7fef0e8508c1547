package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViewDerivations(t *testing.T) {
	s := New("u1")
	s.TotalWatchSeconds = 4000
	s.TotalTokens = 6
	s.AvailableTokens = 4
	s.SpentTokens = 2

	v := s.View()
	assert.Equal(t, "u1", v.UserID)
	assert.Equal(t, int64(4), v.AvailableTokens)
	assert.Equal(t, 1.1, v.TotalWatchHours)
	assert.Equal(t, int64(200), v.NextTokenIn)
	assert.InDelta(t, 66.666, v.ProgressToNextToken, 0.001)
}

func TestCheck(t *testing.T) {
	s := New("u1")
	s.TotalWatchSeconds = 1300
	s.TotalTokens = 2
	s.AvailableTokens = 2
	require.NoError(t, s.Check())

	s.TotalTokens = 3
	s.AvailableTokens = -1
	err := s.Check()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "total_tokens 3, derived 2")
	assert.Contains(t, err.Error(), "available_tokens -1 is negative")
}

func TestExpectedAvailableIncludesBasicGrant(t *testing.T) {
	s := New("u1")
	s.TotalWatchSeconds = 650
	s.BasicTokensGranted = 3
	s.SpentTokens = 2
	assert.Equal(t, int64(1), s.ExpectedTokens())
	assert.Equal(t, int64(2), s.ExpectedAvailable())
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	s := New("u1")
	s.RetroactiveGrantedAt = &now

	c := s.Clone()
	later := now.Add(time.Hour)
	*c.RetroactiveGrantedAt = later

	assert.Equal(t, now, *s.RetroactiveGrantedAt)
	assert.True(t, c.HasRetroactiveGrant())
	assert.False(t, c.HasBasicGrant())
}
