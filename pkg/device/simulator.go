package device

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var _ Transport = (*Simulator)(nil)

// Simulator is an in-memory Transport that behaves like the sensor
// firmware. It backs `serve --simulate` and the session tests.
type Simulator struct {
	// Delay before each reply is emitted.
	Delay time.Duration

	mu        sync.Mutex
	open      bool
	lines     chan string
	templates map[int]bool
	fingers   []int
	failOpen  error
	mute      bool
	written   []string
}

// NewSimulator returns a simulator holding the given enrolled templates.
func NewSimulator(templates ...int) *Simulator {
	s := &Simulator{templates: make(map[int]bool)}
	for _, id := range templates {
		s.templates[id] = true
	}
	return s
}

// FailOpen makes subsequent Open calls fail with err; nil restores them.
func (s *Simulator) FailOpen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOpen = err
}

// Mute stops the simulator from answering commands.
func (s *Simulator) Mute(mute bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mute = mute
}

// PlaceFinger queues a finger for the next VERIFY; id 0 is an unknown finger.
func (s *Simulator) PlaceFinger(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fingers = append(s.fingers, id)
}

// Emit pushes a raw line as if the device sent it.
func (s *Simulator) Emit(line string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitLocked(line)
}

// Drop simulates the cable being pulled.
func (s *Simulator) Drop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

// Written returns every command line received so far.
func (s *Simulator) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	copy(out, s.written)
	return out
}

// Templates returns the enrolled template ids in ascending order.
func (s *Simulator) Templates() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int, 0, len(s.templates))
	for id := range s.templates {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// Open implements Transport.
func (s *Simulator) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failOpen != nil {
		return s.failOpen
	}
	if s.open {
		return nil
	}
	s.open = true
	s.lines = make(chan string, 64)
	s.emitLocked("STATUS:READY")
	s.emitLocked("COUNT:" + strconv.Itoa(len(s.templates)))
	return nil
}

// Lines implements Transport.
func (s *Simulator) Lines() <-chan string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lines
}

// Close implements Transport.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	return nil
}

// WriteLine implements Transport.
func (s *Simulator) WriteLine(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return ErrPortClosed
	}
	s.written = append(s.written, line)
	if s.mute {
		return nil
	}

	cmd, arg, _ := strings.Cut(strings.TrimSpace(line), ":")
	switch cmd {
	case cmdEnroll:
		id, err := strconv.Atoi(arg)
		if err != nil || id <= 0 {
			s.replyLocked("ERROR:Invalid ID")
			return nil
		}
		s.templates[id] = true
		s.replyLocked("SUCCESS:" + strconv.Itoa(id))
		s.replyLocked("COUNT:" + strconv.Itoa(len(s.templates)))
	case cmdVerify:
		id := 0
		if len(s.fingers) > 0 {
			id = s.fingers[0]
			s.fingers = s.fingers[1:]
		}
		if id > 0 && s.templates[id] {
			s.replyLocked("FOUND:" + strconv.Itoa(id))
		} else {
			s.replyLocked("ERROR:No match")
		}
	case cmdDelete:
		id, err := strconv.Atoi(arg)
		if err != nil || !s.templates[id] {
			s.replyLocked("ERROR:Template not found")
			return nil
		}
		delete(s.templates, id)
		s.replyLocked("COUNT:" + strconv.Itoa(len(s.templates)))
	default:
		log.Debug().Str("line", line).Msg("simulator: unknown command")
	}
	return nil
}

func (s *Simulator) replyLocked(line string) {
	if s.Delay <= 0 {
		s.emitLocked(line)
		return
	}
	lines := s.lines
	time.AfterFunc(s.Delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lines != lines {
			return
		}
		s.emitLocked(line)
	})
}

func (s *Simulator) emitLocked(line string) bool {
	if !s.open {
		return false
	}
	select {
	case s.lines <- line:
		return true
	default:
		log.Warn().Str("line", line).Msg("simulator: line buffer full, dropping")
		return false
	}
}

func (s *Simulator) closeLocked() {
	if !s.open {
		return
	}
	s.open = false
	close(s.lines)
}
