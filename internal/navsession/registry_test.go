package navsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zachkp/portfolio/internal/section"
)

var testSections = []string{"home", "experience", "projects", "about", "contact", "contact-info"}

type memRecorder struct {
	mu       sync.Mutex
	sessions map[string]string
	changes  []section.Change
}

func (m *memRecorder) RecordSession(_ context.Context, id, transport string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions == nil {
		m.sessions = make(map[string]string)
	}
	m.sessions[id] = transport
	return nil
}

func (m *memRecorder) RecordChange(_ context.Context, _ string, c section.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, c)
	return nil
}

func (m *memRecorder) Changes() []section.Change {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]section.Change(nil), m.changes...)
}

func newTestRegistry(rec Recorder) *Registry {
	doc := idSet{"home": true, "experience": true, "projects": true, "about": true, "contact": true}
	return NewRegistry(Config{
		DefaultSection: "home",
		RootMargin:     section.DefaultRootMargin,
		Thresholds:     section.DefaultThresholds,
		IdleTimeout:    time.Minute,
	}, testSections, doc, rec)
}

func visible(id string, ratio float64) section.Reading {
	return section.Reading{ID: id, Ratio: ratio, Intersecting: ratio > 0}
}

func commandTypes(cmds []Command) []string {
	out := make([]string, len(cmds))
	for i, c := range cmds {
		out[i] = c.Type
	}
	return out
}

func TestOpenRequestsObservation(t *testing.T) {
	rec := &memRecorder{}
	r := newTestRegistry(rec)

	s := r.Open(Hello{ObserverSupported: true}, TransportWebSocket, true)
	assert.Equal(t, 1, r.Len())
	assert.Equal(t, "home", s.Active())
	assert.Equal(t, []string{"home", "experience", "projects", "about", "contact"}, s.Regions())
	assert.True(t, s.Observing())

	cmds := s.Drain()
	require.Equal(t, []string{CmdObserve, CmdActive}, commandTypes(cmds))
	assert.Equal(t, s.Regions(), cmds[0].IDs)
	assert.Equal(t, section.DefaultRootMargin, cmds[0].RootMargin)
	assert.Len(t, cmds[0].Thresholds, section.DefaultThresholds)
	assert.Equal(t, "home", cmds[1].ID)
	assert.Empty(t, s.Drain())

	assert.Equal(t, "websocket", rec.sessions[s.ID])
}

func TestOpenUsesBrowserDocument(t *testing.T) {
	r := newTestRegistry(nil)

	s := r.Open(Hello{
		Fragment:          "#contact-info",
		IDs:               []string{"home", "contact-info", "mobile-menu"},
		ObserverSupported: true,
	}, TransportHTTP, false)

	assert.Equal(t, []string{"home", "contact-info"}, s.Regions())
	assert.Equal(t, "contact-info", s.Active())
}

func TestVisibilityDrivesActiveAndFragment(t *testing.T) {
	rec := &memRecorder{}
	r := newTestRegistry(rec)
	s := r.Open(Hello{ObserverSupported: true}, TransportHTTP, true)
	s.Drain()

	now := time.Now()
	require.NoError(t, s.Visibility([]section.Reading{visible("home", 0.1)}, now))
	assert.Empty(t, s.Drain())

	require.NoError(t, s.Visibility([]section.Reading{{ID: "home"}, visible("about", 0.9)}, now))
	assert.Equal(t, "about", s.Active())
	assert.Equal(t, []Command{
		{Type: CmdReplaceFragment, ID: "about"},
		{Type: CmdActive, ID: "about"},
	}, s.Drain())

	require.NoError(t, s.Visibility([]section.Reading{visible("about", 0.9), visible("contact", 0.9)}, now))
	assert.Equal(t, "about", s.Active())
	assert.Empty(t, s.Drain())

	require.NoError(t, s.Visibility([]section.Reading{{ID: "about"}, visible("contact", 0.5)}, now))
	assert.Equal(t, "contact", s.Active())

	assert.Equal(t, []section.Change{
		{From: "home", To: "about", Source: section.SourceVisibility},
		{From: "about", To: "contact", Source: section.SourceVisibility},
	}, rec.Changes())
}

func TestHashChangeOverrides(t *testing.T) {
	r := newTestRegistry(nil)
	s := r.Open(Hello{ObserverSupported: true}, TransportHTTP, false)

	now := time.Now()
	require.NoError(t, s.Visibility([]section.Reading{visible("about", 0.6)}, now))
	s.Drain()

	require.NoError(t, s.HashChange("#contact", now))
	assert.Equal(t, "contact", s.Active())
	assert.Equal(t, []Command{{Type: CmdActive, ID: "contact"}}, s.Drain())

	require.NoError(t, s.Visibility([]section.Reading{visible("about", 0.6)}, now))
	assert.Equal(t, "about", s.Active())
	assert.Equal(t, []Command{
		{Type: CmdReplaceFragment, ID: "about"},
		{Type: CmdActive, ID: "about"},
	}, s.Drain())

	require.NoError(t, s.HashChange("", now))
	assert.Equal(t, "home", s.Active())
}

func TestNoObserverFallsBackToFragments(t *testing.T) {
	r := newTestRegistry(nil)
	s := r.Open(Hello{Fragment: "#projects"}, TransportHTTP, false)

	assert.False(t, s.Observing())
	assert.Equal(t, "projects", s.Active())
	assert.Equal(t, []Command{{Type: CmdActive, ID: "projects"}}, s.Drain())

	require.NoError(t, s.Visibility([]section.Reading{visible("about", 1)}, time.Now()))
	assert.Equal(t, "projects", s.Active())

	require.NoError(t, s.HashChange("#about", time.Now()))
	assert.Equal(t, "about", s.Active())
}

func TestNoKnownRegions(t *testing.T) {
	r := newTestRegistry(nil)
	s := r.Open(Hello{IDs: []string{"banner"}, ObserverSupported: true}, TransportHTTP, false)

	assert.False(t, s.Observing())
	assert.Empty(t, s.Regions())
	assert.Equal(t, "home", s.Active())
}

func TestDoNotRecord(t *testing.T) {
	rec := &memRecorder{}
	r := newTestRegistry(rec)
	s := r.Open(Hello{ObserverSupported: true}, TransportHTTP, false)

	require.NoError(t, s.Visibility([]section.Reading{visible("projects", 0.4)}, time.Now()))
	assert.Equal(t, "projects", s.Active())
	assert.Empty(t, rec.Changes())
	assert.Empty(t, rec.sessions)
}

func TestHandleUnknownMessage(t *testing.T) {
	r := newTestRegistry(nil)
	s := r.Open(Hello{ObserverSupported: true}, TransportHTTP, false)

	assert.Error(t, s.Handle(Message{Type: "scroll"}, time.Now()))
	assert.NoError(t, s.Handle(Message{Type: MsgHello}, time.Now()))
	assert.NoError(t, s.Handle(Message{Type: MsgHashChange, Fragment: "#about"}, time.Now()))
	assert.Equal(t, "about", s.Active())
}

func TestCloseSession(t *testing.T) {
	r := newTestRegistry(nil)
	s := r.Open(Hello{ObserverSupported: true}, TransportHTTP, false)

	require.NoError(t, r.Close(s.ID))
	assert.ErrorIs(t, r.Close(s.ID), ErrSessionNotFound)
	assert.True(t, s.Closed())
	assert.False(t, s.Observing())
	assert.ErrorIs(t, s.Visibility(nil, time.Now()), ErrSessionClosed)
	assert.ErrorIs(t, s.HashChange("#about", time.Now()), ErrSessionClosed)

	_, err := r.Get(s.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweep(t *testing.T) {
	r := newTestRegistry(nil)
	start := time.Now()
	r.now = func() time.Time { return start }

	stale := r.Open(Hello{ObserverSupported: true}, TransportHTTP, false)
	fresh := r.Open(Hello{ObserverSupported: true}, TransportHTTP, false)
	require.NoError(t, fresh.Visibility(nil, start.Add(50*time.Second)))

	assert.Equal(t, 0, r.Sweep(start.Add(30*time.Second)))
	assert.Equal(t, 1, r.Sweep(start.Add(90*time.Second)))
	assert.Equal(t, 1, r.Len())
	assert.True(t, stale.Closed())
	assert.False(t, stale.Observing())
	assert.False(t, fresh.Closed())
}

func TestSweepSkipsAttachedSessions(t *testing.T) {
	r := newTestRegistry(nil)
	start := time.Now()
	r.now = func() time.Time { return start }

	live := r.Open(Hello{ObserverSupported: true}, TransportWebSocket, false)
	live.attach()
	quiet := r.Open(Hello{ObserverSupported: true}, TransportHTTP, false)
	quiet.touch(start.Add(time.Hour))

	assert.Equal(t, 0, r.Sweep(start.Add(2*time.Hour)))
	assert.Equal(t, 1, r.Sweep(start.Add(3*time.Hour)))
	assert.False(t, live.Closed())
	assert.True(t, quiet.Closed())

	require.NoError(t, live.Visibility([]section.Reading{visible("about", 0.7)}, start.Add(3*time.Hour)))
	assert.Equal(t, "about", live.Active())
}

func TestRunClosesOnCancel(t *testing.T) {
	r := newTestRegistry(nil)
	r.cfg.SweepInterval = time.Millisecond
	s := r.Open(Hello{ObserverSupported: true}, TransportHTTP, false)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, 0, r.Len())
	assert.True(t, s.Closed())
}
