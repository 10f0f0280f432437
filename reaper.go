package main

import "time"

// Deferred room reaper. A room that drops to zero occupants gets one
// pending deletion timer; scheduling replaces any prior timer for the
// same code, and any join cancels it. The callback re-checks, under
// the lock, that it is still the pending timer and that the room is
// still empty: a stale timer can fire while blocked behind a
// join-and-leave that already rescheduled, and must not cut short the
// fresh grace period.

func (s *Server) scheduleReapLocked(code string) {
	if existing, ok := s.reapTimers[code]; ok {
		existing.Stop()
	}
	var timer *time.Timer
	timer = time.AfterFunc(s.cfg.roomGrace, func() {
		s.reapRoom(code, timer)
	})
	s.reapTimers[code] = timer
}

func (s *Server) cancelReapLocked(code string) {
	if timer, ok := s.reapTimers[code]; ok {
		timer.Stop()
		delete(s.reapTimers, code)
	}
}

func (s *Server) reapRoom(code string, timer *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.reapTimers[code] != timer {
		return
	}
	delete(s.reapTimers, code)

	room, ok := s.registry.get(code)
	if !ok || !room.empty() {
		return
	}

	s.registry.delete(code)
	logf(s.cfg, "ROOMS: Reaped empty room %s", code)
}
