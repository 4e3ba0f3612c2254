package tasks

import (
	"log"
	"sync"
)

// Supervisor runs fire-and-forget units of work in goroutines that are
// tracked and panic-safe: a panicking unit is logged centrally instead of
// killing the process or vanishing silently.
type Supervisor struct {
	wg sync.WaitGroup
}

func NewSupervisor() *Supervisor {
	return &Supervisor{}
}

// Go starts fn as a supervised background unit of work.
func (s *Supervisor) Go(name string, fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("background task %s panicked: %v", name, r)
			}
		}()
		fn()
	}()
}

// Wait blocks until every started unit of work has finished.
func (s *Supervisor) Wait() {
	s.wg.Wait()
}
