package directory

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/miroslav0221/httpcacheproxy/internal/bytelog"
)

func TestLookupOrStartMissInsertsAndReturnsWeStartedTrue(t *testing.T) {
	dir := New()

	log, weStarted := dir.LookupOrStart("http://a/", func() (*bytelog.Log, bool) {
		return bytelog.New("http://a/", 16), true
	})

	require.True(t, weStarted)
	require.NotNil(t, log)
	assert.Equal(t, 1, dir.Len())
}

func TestLookupOrStartHitReturnsExistingWithoutCallingStarter(t *testing.T) {
	dir := New()
	existing, _ := dir.LookupOrStart("http://a/", func() (*bytelog.Log, bool) {
		return bytelog.New("http://a/", 16), true
	})

	called := false
	log, weStarted := dir.LookupOrStart("http://a/", func() (*bytelog.Log, bool) {
		called = true
		return bytelog.New("http://a/", 16), true
	})

	assert.False(t, weStarted)
	assert.False(t, called)
	assert.Same(t, existing, log)
}

func TestLookupOrStartNonCacheableIsNotInserted(t *testing.T) {
	dir := New()
	log, weStarted := dir.LookupOrStart("http://a/", func() (*bytelog.Log, bool) {
		return nil, false
	})

	assert.True(t, weStarted)
	assert.Nil(t, log)
	assert.Equal(t, 0, dir.Len())
}

// TestConcurrentMissesAttachToSingleStarter reproduces the "slow origin,
// two concurrent requests for the same URL" scenario: only one starter
// call should ever run, and every caller observes the same log.
func TestConcurrentMissesAttachToSingleStarter(t *testing.T) {
	dir := New()
	var starterCalls int32

	start := make(chan struct{})
	const n = 8
	results := make([]*bytelog.Log, n)
	var wg sync.WaitGroup
	wg.Add(n)

	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			<-start
			log, _ := dir.LookupOrStart("http://slow/", func() (*bytelog.Log, bool) {
				atomic.AddInt32(&starterCalls, 1)
				time.Sleep(20 * time.Millisecond)
				return bytelog.New("http://slow/", 16), true
			})
			results[i] = log
		}(i)
	}

	close(start)
	wg.Wait()

	assert.EqualValues(t, 1, atomic.LoadInt32(&starterCalls))
	for _, r := range results {
		assert.Same(t, results[0], r)
	}
}
