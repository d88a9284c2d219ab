package policy

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pgstrict/pgstrict/analyzer"
)

func TestStoreDefaultsOff(t *testing.T) {
	s := NewStore()
	assert.Equal(t, ModeOff, s.Get(analyzer.OperationUpdate))
	assert.Equal(t, ModeOff, s.Get(analyzer.OperationDelete))
}

func TestStoreSetIsIndependentPerOperation(t *testing.T) {
	s := NewStore()

	s.Set(analyzer.OperationUpdate, ModeOn)
	assert.Equal(t, ModeOn, s.Get(analyzer.OperationUpdate))
	assert.Equal(t, ModeOff, s.Get(analyzer.OperationDelete))

	s.Set(analyzer.OperationDelete, ModeWarn)
	update, del := s.Modes()
	assert.Equal(t, ModeOn, update)
	assert.Equal(t, ModeWarn, del)
}

func TestStoreSetToken(t *testing.T) {
	s := NewStore()

	assert.True(t, s.SetToken(analyzer.OperationUpdate, "WARN"))
	assert.Equal(t, ModeWarn, s.Get(analyzer.OperationUpdate))

	// Invalid token leaves the mode unchanged.
	assert.False(t, s.SetToken(analyzer.OperationUpdate, "bogus"))
	assert.Equal(t, ModeWarn, s.Get(analyzer.OperationUpdate))

	assert.True(t, s.SetToken(analyzer.OperationUpdate, " off "))
	assert.Equal(t, ModeOff, s.Get(analyzer.OperationUpdate))
}

func TestStoreConcurrentReadersSeeWholeValues(t *testing.T) {
	s := NewStore()

	stop := make(chan struct{})
	writerDone := make(chan struct{})

	go func() {
		defer close(writerDone)
		modes := []Mode{ModeOff, ModeWarn, ModeOn}
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				s.Set(analyzer.OperationUpdate, modes[i%len(modes)])
			}
		}
	}()

	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for j := 0; j < 10000; j++ {
				mode := s.Get(analyzer.OperationUpdate)
				// A reader observes one of the three discrete states, never
				// a torn intermediate.
				assert.Contains(t, []Mode{ModeOff, ModeWarn, ModeOn}, mode)
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone
}
