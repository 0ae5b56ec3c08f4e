package safeset

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSafeSet(t *testing.T) {
	s := NewSafeSet[string]()
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Size())
	assert.False(t, s.Contains("x"))
	assert.Empty(t, s.Values())
}

func TestSafeSet_Add(t *testing.T) {
	s := NewSafeSet[string]()

	t.Run("first add reports insertion", func(t *testing.T) {
		assert.True(t, s.Add("127.0.0.1:5000"))
		assert.True(t, s.Contains("127.0.0.1:5000"))
		assert.Equal(t, 1, s.Size())
	})

	t.Run("duplicate add is reported and ignored", func(t *testing.T) {
		assert.False(t, s.Add("127.0.0.1:5000"))
		assert.Equal(t, 1, s.Size())
	})
}

func TestSafeSet_Remove(t *testing.T) {
	s := NewSafeSet[string]()
	s.Add("a")
	s.Add("b")

	t.Run("remove present element", func(t *testing.T) {
		assert.True(t, s.Remove("a"))
		assert.False(t, s.Contains("a"))
		assert.True(t, s.Contains("b"))
	})

	t.Run("remove missing is a no-op", func(t *testing.T) {
		assert.False(t, s.Remove("nonexistent"))
		assert.Equal(t, 1, s.Size())
	})
}

func TestSafeSet_Values(t *testing.T) {
	s := NewSafeSet[int]()
	s.Add(3)
	s.Add(1)
	s.Add(2)

	values := s.Values()
	assert.ElementsMatch(t, []int{1, 2, 3}, values)

	s.Add(4)
	assert.Len(t, values, 3, "snapshot does not follow later changes")
}

func TestSafeSet_Reset(t *testing.T) {
	s := NewSafeSet[int]()
	s.Add(1)
	s.Add(2)

	s.Reset()
	assert.Equal(t, 0, s.Size())
	assert.False(t, s.Contains(1))

	s.Add(3)
	assert.True(t, s.Contains(3))
}

func TestSafeSet_SingleWriterManyReaders(t *testing.T) {
	s := NewSafeSet[string]()
	const n = 1000

	var wg sync.WaitGroup
	done := make(chan struct{})

	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
					_ = s.Values()
					_ = s.Size()
				}
			}
		}()
	}

	for i := range n {
		s.Add(fmt.Sprintf("peer-%d", i))
	}
	for i := range n / 2 {
		s.Remove(fmt.Sprintf("peer-%d", i))
	}

	close(done)
	wg.Wait()

	assert.Equal(t, n/2, s.Size())
}
