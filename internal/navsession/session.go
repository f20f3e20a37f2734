package navsession

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Zachkp/portfolio/internal/section"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionClosed   = errors.New("session closed")
)

type Transport string

const (
	TransportWebSocket Transport = "websocket"
	TransportHTTP      Transport = "http"
)

// Session is one page view: a tracker plus the queue of commands waiting
// to be pushed to the browser.
type Session struct {
	ID        string
	Transport Transport
	Opened    time.Time

	tracker  *section.Tracker
	fragment *remoteFragment

	mu       sync.Mutex
	lastSeen time.Time
	attached bool
	outbox   []Command
	sub      *remoteSubscription
	closed   bool
}

func newSession(id string, transport Transport, now time.Time, fragment string) *Session {
	s := &Session{
		ID:        id,
		Transport: transport,
		Opened:    now,
		lastSeen:  now,
	}
	s.fragment = &remoteFragment{s: s}
	s.fragment.set(fragment)
	return s
}

// Active returns the highlighted section id.
func (s *Session) Active() string {
	return s.tracker.Active()
}

// Regions returns the observed section ids.
func (s *Session) Regions() []string {
	return s.tracker.Regions()
}

// Observing reports whether the browser is feeding visibility readings.
func (s *Session) Observing() bool {
	return s.tracker.Observing()
}

// Handle applies one message from the browser.
func (s *Session) Handle(msg Message, now time.Time) error {
	switch msg.Type {
	case MsgVisibility:
		return s.Visibility(msg.Readings, now)
	case MsgHashChange:
		return s.HashChange(msg.Fragment, now)
	case MsgHello:
		return nil
	default:
		return fmt.Errorf("unknown message type %q", msg.Type)
	}
}

// Visibility forwards readings through the live subscription. Readings
// that arrive while nothing is observed are dropped.
func (s *Session) Visibility(readings []section.Reading, now time.Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.lastSeen = now
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		sub.deliver(readings)
	}
	return nil
}

// HashChange records the browser's fragment and treats it as an override
// of the active section.
func (s *Session) HashChange(fragment string, now time.Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.lastSeen = now
	s.mu.Unlock()

	s.fragment.set(fragment)
	s.tracker.SetActive(fragment)
	return nil
}

// Drain returns and clears the pending commands.
func (s *Session) Drain() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.outbox
	s.outbox = nil
	return out
}

func (s *Session) push(cmd Command) {
	s.mu.Lock()
	s.pushLocked(cmd)
	s.mu.Unlock()
}

func (s *Session) pushLocked(cmd Command) {
	if s.closed {
		return
	}
	s.outbox = append(s.outbox, cmd)
}

// attach marks the session as owned by an open connection. Attached
// sessions are never swept; the connection ends them when it closes.
func (s *Session) attach() {
	s.mu.Lock()
	s.attached = true
	s.mu.Unlock()
}

// touch records activity that carries no message, such as a pong.
func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	if now.After(s.lastSeen) {
		s.lastSeen = now
	}
	s.mu.Unlock()
}

func (s *Session) idle(now time.Time, timeout time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.attached && now.Sub(s.lastSeen) > timeout
}

func (s *Session) close() error {
	err := s.tracker.Close()
	s.mu.Lock()
	s.closed = true
	s.outbox = nil
	s.mu.Unlock()
	return err
}

// Closed reports whether the session has been closed or swept.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// remoteObserver asks the browser to run an IntersectionObserver and
// routes the readings it sends back into the tracker.
type remoteObserver struct {
	s *Session
}

func (o remoteObserver) Observe(ids []string, opts section.ObserveOptions, deliver func([]section.Reading)) (section.Subscription, error) {
	sub := &remoteSubscription{s: o.s, deliver: deliver}
	o.s.mu.Lock()
	o.s.sub = sub
	o.s.pushLocked(Command{
		Type:       CmdObserve,
		IDs:        ids,
		RootMargin: opts.RootMargin,
		Thresholds: opts.Thresholds,
	})
	o.s.mu.Unlock()
	return sub, nil
}

type remoteSubscription struct {
	s       *Session
	deliver func([]section.Reading)
}

func (r *remoteSubscription) Close() error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if r.s.sub != r {
		return nil
	}
	r.s.sub = nil
	r.s.pushLocked(Command{Type: CmdDisconnect})
	return nil
}

// remoteFragment mirrors the browser's location.hash.
type remoteFragment struct {
	s *Session

	mu      sync.Mutex
	current string
}

func (f *remoteFragment) Current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *remoteFragment) Replace(id string) {
	f.set(id)
	f.s.push(Command{Type: CmdReplaceFragment, ID: id})
}

func (f *remoteFragment) set(fragment string) {
	f.mu.Lock()
	f.current = strings.TrimPrefix(fragment, "#")
	f.mu.Unlock()
}
