package sync_

import (
	"sync"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
)

func TestMutexedSimple(t *testing.T) {
	assert := assert_.New(t)
	m := NewMutexed(123)
	assert.Equal(123, m.Get())
	assert.Equal(123, m.Swap(456))
	assert.Equal(456, m.Get())
	m.Set(789)
	assert.Equal(789, m.Get())
}

func TestRWMutexedSimple(t *testing.T) {
	assert := assert_.New(t)
	rw := NewRWMutexed(123)
	assert.Equal(123, rw.Get())
	assert.Equal(123, rw.Swap(456))
	assert.Equal(456, rw.Get())
	var seen int
	assert.Nil(rw.RLocked(func(v int) error {
		seen = v
		return nil
	}))
	assert.Equal(456, seen)
}

func TestRWMutexedRace(t *testing.T) {
	assert := assert_.New(t)
	rw := NewRWMutexed(map[string]int{"count": 0})
	start := &Event{}
	wg := sync.WaitGroup{}

	// Increment by 2500 with 50 goroutines in parallel
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start.Wait()
			for j := 0; j < 50; j++ {
				_ = rw.Locked(func(m map[string]int) error {
					m["count"]++
					return nil
				})
			}
		}()
	}

	// Read concurrently with another 50 goroutines in parallel
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start.Wait()
			for j := 0; j < 50; j++ {
				_ = rw.RLocked(func(m map[string]int) error {
					_ = m["count"]
					return nil
				})
			}
		}()
	}

	start.Set()
	wg.Wait()
	assert.Equal(2500, rw.Get()["count"])
}
