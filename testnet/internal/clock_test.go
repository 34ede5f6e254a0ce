package internal

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func TestClockOrSystem(t *testing.T) {
	before := time.Now()
	now := clockOrSystem(nil).Now()
	assert.False(t, now.Before(before))

	ticking := NewTickingClock(epoch, time.Second)
	assert.Same(t, ticking, clockOrSystem(ticking))
}

func TestTickingClock(t *testing.T) {
	tests := []struct {
		name  string
		tick  time.Duration
		skip  time.Duration
		reads int
		want  time.Duration
	}{
		{"frozen", 0, 0, 3, 0},
		{"one tick per read", time.Second, 0, 1, time.Second},
		{"ticks accumulate", 250 * time.Millisecond, 0, 4, time.Second},
		{"skip adds without a read", time.Second, time.Minute, 1, time.Minute + time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := NewTickingClock(epoch, tt.tick)
			start := clock.Now()
			assert.Equal(t, epoch, start)

			clock.Skip(tt.skip)
			for i := 1; i < tt.reads; i++ {
				clock.Now()
			}
			assert.Equal(t, tt.want, elapsed(clock, start))
			assert.Equal(t, tt.reads+1, clock.Reads())
		})
	}
}

func TestTickingClockConcurrentReads(t *testing.T) {
	clock := NewTickingClock(epoch, time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, clock.Reads())
	assert.Equal(t, epoch.Add(50*time.Millisecond), clock.Now())
}
