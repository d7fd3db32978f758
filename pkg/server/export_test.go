package server

import "time"

// SetClock replaces the time source used for timestamps
func SetClock(s *Server, now func() time.Time) {
	s.now = now
}
