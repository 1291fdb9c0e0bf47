// Copyright (C) 2021 Vojtech Aschenbrenner <v@asch.cz>

// Package for synchronized access to the dump generation counter.
package key

import (
	"sync"
)

// Sequence hands out dump generation numbers. The zero value starts at 0
// and is ready to use.
type Sequence struct {
	mutex sync.Mutex
	key   int64
}

// Returns value of the next unassigned generation without taking it.
func (s *Sequence) Current() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return s.key
}

// Returns value of the next unassigned generation and increments, hence the
// sequence contains an unassigned value again.
func (s *Sequence) Next() int64 {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	tmp := s.key
	s.key++

	return tmp
}
