package tasks

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSupervisorRunsWork(t *testing.T) {
	s := NewSupervisor()

	var done atomic.Int32
	for i := 0; i < 10; i++ {
		s.Go("work", func() { done.Add(1) })
	}
	s.Wait()

	assert.Equal(t, int32(10), done.Load())
}

func TestSupervisorRecoversPanics(t *testing.T) {
	s := NewSupervisor()

	var after atomic.Bool
	s.Go("boom", func() { panic("exploded") })
	s.Go("fine", func() { after.Store(true) })
	s.Wait()

	assert.True(t, after.Load())
}
