// Package navsession runs one section tracker per page view and exchanges
// visibility readings and highlight commands with the browser.
package navsession

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Zachkp/portfolio/internal/section"
)

// Recorder receives session openings and active section changes.
type Recorder interface {
	RecordSession(ctx context.Context, sessionID, transport string) error
	RecordChange(ctx context.Context, sessionID string, c section.Change) error
}

type Config struct {
	DefaultSection string
	RootMargin     string
	Thresholds     int
	IdleTimeout    time.Duration
	SweepInterval  time.Duration
}

// Registry owns the live sessions.
type Registry struct {
	cfg      Config
	sections []string
	known    map[string]bool
	doc      section.Document
	recorder Recorder
	now      func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry creates a registry tracking sections, in document order. doc
// is used when a browser does not report which sections it rendered.
// recorder may be nil.
func NewRegistry(cfg Config, sections []string, doc section.Document, recorder Recorder) *Registry {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 30 * time.Minute
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}
	known := make(map[string]bool, len(sections))
	for _, id := range sections {
		known[id] = true
	}
	return &Registry{
		cfg:      cfg,
		sections: append([]string(nil), sections...),
		known:    known,
		doc:      doc,
		recorder: recorder,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Open starts a session. When record is false nothing about it reaches the
// recorder.
func (r *Registry) Open(h Hello, transport Transport, record bool) *Session {
	s := newSession(uuid.NewString(), transport, r.now(), h.Fragment)

	var obs section.Observer
	if h.ObserverSupported {
		obs = remoteObserver{s: s}
	}
	s.tracker = section.New(section.Options{
		Default:    r.cfg.DefaultSection,
		RootMargin: r.cfg.RootMargin,
		Thresholds: r.cfg.Thresholds,
		Observer:   obs,
		Document:   r.document(h.IDs),
		Fragment:   s.fragment,
	})
	s.tracker.Listen(func(c section.Change) {
		s.push(Command{Type: CmdActive, ID: c.To})
		if record {
			r.recordChange(s.ID, c)
		}
	})

	if err := s.tracker.Observe(r.sections); err != nil {
		log.Printf("[nav] session %s: %v; following fragment changes only", shortID(s.ID), err)
	}
	s.push(Command{Type: CmdActive, ID: s.tracker.Active()})

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()

	if record && r.recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := r.recorder.RecordSession(ctx, s.ID, string(transport)); err != nil {
			log.Printf("Error recording nav session: %v", err)
		}
	}
	return s
}

// Get returns a live session.
func (r *Registry) Get(id string) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Close stops a session and forgets it.
func (r *Registry) Close(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	return s.close()
}

// CloseAll stops every session.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
	for id, s := range sessions {
		if err := s.close(); err != nil {
			log.Printf("[nav] close session %s: %v", shortID(id), err)
		}
	}
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Sweep closes sessions idle for longer than the configured timeout and
// returns how many were closed. Sessions attached to an open websocket are
// left to their connection.
func (r *Registry) Sweep(now time.Time) int {
	var stale []string
	r.mu.RLock()
	for id, s := range r.sessions {
		if s.idle(now, r.cfg.IdleTimeout) {
			stale = append(stale, id)
		}
	}
	r.mu.RUnlock()

	n := 0
	for _, id := range stale {
		if err := r.Close(id); errors.Is(err, ErrSessionNotFound) {
			continue
		}
		n++
	}
	return n
}

// Run sweeps idle sessions until ctx is cancelled, then closes the rest.
func (r *Registry) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.CloseAll()
			return
		case <-ticker.C:
			if n := r.Sweep(r.now()); n > 0 {
				log.Printf("[nav] swept %d idle sessions (%d live)", n, r.Len())
			}
		}
	}
}

// document limits the browser-reported ids to known sections.
func (r *Registry) document(ids []string) section.Document {
	if len(ids) == 0 {
		return r.doc
	}
	d := make(idSet, len(ids))
	for _, id := range ids {
		if r.known[id] {
			d[id] = true
		}
	}
	return d
}

func (r *Registry) recordChange(id string, c section.Change) {
	if r.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.recorder.RecordChange(ctx, id, c); err != nil {
		log.Printf("Error recording section view: %v", err)
	}
}

type idSet map[string]bool

func (d idSet) Contains(id string) bool { return d[id] }

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
