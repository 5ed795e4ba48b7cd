package link

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerScheduler_ScheduleOnce(t *testing.T) {
	s := NewTimerScheduler()

	fired := make(chan string, 2)
	require.True(t, s.ScheduleOnce(20*time.Millisecond, "dome", func(token string) {
		fired <- token
	}))
	assert.False(t, s.ScheduleOnce(20*time.Millisecond, "dome", func(token string) {
		fired <- "duplicate"
	}), "a pending token must not be scheduled twice")
	assert.True(t, s.Pending("dome"))

	select {
	case token := <-fired:
		assert.Equal(t, "dome", token)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}

	select {
	case token := <-fired:
		t.Fatalf("unexpected second fire: %s", token)
	case <-time.After(50 * time.Millisecond):
	}

	assert.Eventually(t, func() bool { return !s.Pending("dome") }, time.Second, 5*time.Millisecond)
	assert.True(t, s.ScheduleOnce(time.Hour, "dome", func(string) {}), "token is free again after firing")
	s.Stop()
	assert.False(t, s.Pending("dome"))
}

func TestTimerScheduler_Cancel(t *testing.T) {
	s := NewTimerScheduler()

	var count atomic.Int32
	require.True(t, s.ScheduleOnce(30*time.Millisecond, "focuser", func(string) { count.Add(1) }))
	assert.True(t, s.Cancel("focuser"))
	assert.False(t, s.Cancel("focuser"))

	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, count.Load())
}

func TestTimerScheduler_IndependentTokens(t *testing.T) {
	s := NewTimerScheduler()
	defer s.Stop()

	var count atomic.Int32
	assert.True(t, s.ScheduleOnce(10*time.Millisecond, "a", func(string) { count.Add(1) }))
	assert.True(t, s.ScheduleOnce(10*time.Millisecond, "b", func(string) { count.Add(1) }))

	assert.Eventually(t, func() bool { return count.Load() == 2 }, time.Second, 5*time.Millisecond)
}
