package bytelog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAcrossChunkBoundary(t *testing.T) {
	log := New("http://example.com/", 4)

	require.NoError(t, log.Append([]byte("ab")))
	require.NoError(t, log.Append([]byte("cdef")))

	var collected []byte
	for c := log.Head(); c != nil; {
		filled, next := log.ChunkState(c)
		collected = append(collected, c.Bytes()[:filled]...)
		c = next
	}

	assert.Equal(t, "abcdef", string(collected))
	assert.EqualValues(t, 6, log.Downloaded())
}

func TestAppendEmptyIsNoop(t *testing.T) {
	log := New("http://example.com/", 16)
	require.NoError(t, log.Append(nil))
	assert.Nil(t, log.Head())
	assert.EqualValues(t, 0, log.Downloaded())
}

func TestStatusDefaultsToInProcess(t *testing.T) {
	log := New("http://example.com/", 16)
	assert.Equal(t, EStatus.InProcess(), log.Status())
	assert.False(t, log.Status().Terminal())
}

func TestFinalizeIsTerminalAndWakesWaiters(t *testing.T) {
	log := New("http://example.com/", 16)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WaitForFirstChunk()
	}()

	time.Sleep(10 * time.Millisecond)
	log.Finalize(EStatus.Failed())

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForFirstChunk did not wake on Failed finalize")
	}

	assert.True(t, log.Status().Terminal())
	assert.Equal(t, EStatus.Failed(), log.Status())
}

func TestWaitForProgressPastOffsetWakesOnAppend(t *testing.T) {
	log := New("http://example.com/", 16)
	require.NoError(t, log.Append([]byte("x")))

	head := log.Head()
	done := make(chan struct{})
	go func() {
		log.WaitForProgressPastOffset(head, 1)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("should still be waiting, nothing new appended yet")
	case <-time.After(20 * time.Millisecond):
	}

	require.NoError(t, log.Append([]byte("y")))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitForProgressPastOffset did not wake on new data")
	}
}

func TestStatusStringAndParse(t *testing.T) {
	assert.Equal(t, "Success", EStatus.Success().String())

	var s Status
	require.NoError(t, s.Parse("Failed"))
	assert.Equal(t, EStatus.Failed(), s)
}
