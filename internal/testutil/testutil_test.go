package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequenceIDGenerator(t *testing.T) {
	gen := NewSequenceIDGenerator("attempt")

	assert.Equal(t, "attempt-1", gen.Generate())
	assert.Equal(t, "attempt-2", gen.Generate())
	assert.Equal(t, "attempt-3", gen.Generate())
}

func TestSequenceIDGenerator_EmptyPrefixDefault(t *testing.T) {
	gen := NewSequenceIDGenerator("")
	assert.Equal(t, "test-1", gen.Generate())
}

func TestSequenceIDGenerator_ThreadSafe(t *testing.T) {
	gen := NewSequenceIDGenerator("id")

	var wg sync.WaitGroup
	seen := make(chan string, 1000)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				seen <- gen.Generate()
			}
		}()
	}
	wg.Wait()
	close(seen)

	unique := make(map[string]bool)
	for id := range seen {
		require.False(t, unique[id], "duplicate id %s", id)
		unique[id] = true
	}
	assert.Len(t, unique, 1000)
}

func TestStepClock(t *testing.T) {
	clock := NewStepClock(time.Minute)

	assert.Equal(t, Epoch, clock.Now())
	assert.Equal(t, Epoch.Add(time.Minute), clock.Now())

	clock.Reset()
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_DefaultStep(t *testing.T) {
	clock := NewStepClock(0)
	clock.Now()
	assert.Equal(t, Epoch.Add(time.Second), clock.Now())
}

func TestCallLog(t *testing.T) {
	var log CallLog
	log.Record("finish", "tx-1")
	log.Record("sync", "tx-1")
	log.Record("finish", "tx-2")

	assert.Equal(t, []string{"finish:tx-1", "sync:tx-1", "finish:tx-2"}, log.Calls())
	assert.Equal(t, 2, log.Count("finish"))
	assert.Equal(t, 1, log.Count("sync:tx-1"))
	assert.Equal(t, 0, log.Count("lookup"))
}
