package timex

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClock_NowIsNormalized(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 123456789, time.FixedZone("x", 3600))
	c := NewClock(WithNowFunc(func() time.Time { return at }))

	got := c.Now()
	assert.Equal(t, time.UTC, got.Location())
	assert.Equal(t, 123456000, got.Nanosecond())
}

func TestClock_GreaterTimestamp(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	c := NewClock(WithNowFunc(func() time.Time { return at }))

	t.Run("bound in the future", func(t *testing.T) {
		bound := at.Add(time.Hour)
		got := c.GreaterTimestamp(bound)
		assert.Equal(t, bound.Add(Precision), got)
	})

	t.Run("never repeats a previous answer", func(t *testing.T) {
		first := c.GreaterTimestamp(at.Add(-time.Hour))
		second := c.GreaterTimestamp(at.Add(-time.Hour))
		assert.True(t, second.After(first))
	})
}

func TestClock_NowIsMonotonic(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	now := at
	c := NewClock(WithNowFunc(func() time.Time { return now }))

	t.Run("after a future timestamp", func(t *testing.T) {
		issued := c.GreaterTimestamp(at.Add(time.Hour))
		got := c.Now()
		assert.False(t, got.Before(issued))
		assert.True(t, c.GreaterTimestamp(at).After(got))
	})

	t.Run("wall clock stepping back", func(t *testing.T) {
		before := c.Now()
		now = at.Add(-time.Minute)
		assert.Equal(t, before, c.Now())
	})

	t.Run("wall clock moving forward", func(t *testing.T) {
		now = at.Add(2 * time.Hour)
		assert.Equal(t, now, c.Now())
	})
}

func TestDuration_UnmarshalJSON(t *testing.T) {
	var v struct {
		A Duration `json:"a"`
		B Duration `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"3s","b":1000}`), &v))
	assert.Equal(t, 3*time.Second, v.A.Duration)
	assert.Equal(t, time.Microsecond, v.B.Duration)

	require.Error(t, json.Unmarshal([]byte(`{"a":true}`), &v))
}
