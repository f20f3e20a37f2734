// Package section tracks which page section is in focus while a visitor
// scrolls, and keeps the navigation highlight and URL fragment in step.
package section

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// DefaultSection is the active id used when nothing else qualifies.
const DefaultSection = "home"

// DefaultRootMargin narrows the viewport to its central 20% band.
const DefaultRootMargin = "-40% 0px -40% 0px"

// DefaultThresholds is the number of ratio buckets reported by the observer.
const DefaultThresholds = 21

var (
	// ErrNoRegions is returned by Observe when none of the ids exist in the
	// document. The tracker keeps its current active id.
	ErrNoRegions = errors.New("no observable regions")
	// ErrNoObserver is returned by Observe when no visibility primitive is
	// available. The tracker only follows fragment changes.
	ErrNoObserver = errors.New("visibility observer unavailable")
	// ErrClosed is returned by Observe after Close.
	ErrClosed = errors.New("tracker closed")
)

// Reading is a single visibility measurement for one region.
type Reading struct {
	ID           string  `json:"id"`
	Ratio        float64 `json:"ratio"`
	Intersecting bool    `json:"intersecting"`
}

// Source says what caused the active region to change.
type Source string

const (
	SourceVisibility Source = "visibility"
	SourceFragment   Source = "fragment"
)

// Change describes a transition of the active region.
type Change struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Source Source `json:"source"`
}

// Subscription is a live visibility observation.
type Subscription interface {
	Close() error
}

// ObserveOptions are handed to the Observer when a subscription starts.
type ObserveOptions struct {
	RootMargin string    `json:"root_margin"`
	Thresholds []float64 `json:"thresholds"`
}

// Observer is the push-based visibility primitive. Deliver must not be
// invoked from inside Observe itself.
type Observer interface {
	Observe(ids []string, opts ObserveOptions, deliver func([]Reading)) (Subscription, error)
}

// Document reports which region ids exist on the page.
type Document interface {
	Contains(id string) bool
}

// Fragment reads and replaces the URL fragment. Replace must neither add a
// history entry nor scroll.
type Fragment interface {
	Current() string
	Replace(id string)
}

// Options configures a Tracker. Every field is optional.
type Options struct {
	Default    string
	RootMargin string
	Thresholds int

	Observer Observer
	Document Document
	Fragment Fragment
}

// Tracker turns visibility readings into a single active region id.
type Tracker struct {
	opts Options

	// subMu serializes subscription changes; mu guards the state below.
	subMu sync.Mutex
	sub   Subscription

	// notifyMu is held from a change of the active region until its
	// fragment sync and listeners have run, so announcements arrive in
	// the order the changes were made.
	notifyMu sync.Mutex

	mu        sync.Mutex
	ids       []string
	ratios    map[string]float64
	active    string
	closed    bool
	listeners []func(Change)
}

// New creates a tracker. The initial active id comes from the URL fragment
// when it names a region in the document, otherwise the default.
func New(opts Options) *Tracker {
	if opts.Default == "" {
		opts.Default = DefaultSection
	}
	if opts.RootMargin == "" {
		opts.RootMargin = DefaultRootMargin
	}
	if opts.Thresholds < 2 {
		opts.Thresholds = DefaultThresholds
	}
	t := &Tracker{
		opts:   opts,
		ratios: make(map[string]float64),
	}
	t.active = t.initialLocked()
	return t
}

// Listen registers fn to be called after every change of the active region.
// fn may query the tracker but must not call Update or SetActive.
func (t *Tracker) Listen(fn func(Change)) {
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

// Observe starts watching ids, in document order. A previous subscription
// is torn down first. Ids missing from the document are dropped.
func (t *Tracker) Observe(ids []string) error {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.ids = t.present(ids)
	t.ratios = make(map[string]float64, len(t.ids))
	for _, id := range t.ids {
		t.ratios[id] = 0
	}
	if !t.validLocked(t.active) {
		t.active = t.initialLocked()
	}
	observed := append([]string(nil), t.ids...)
	t.mu.Unlock()

	if err := t.releaseLocked(); err != nil {
		return fmt.Errorf("release previous subscription: %w", err)
	}
	if len(observed) == 0 {
		return ErrNoRegions
	}
	if t.opts.Observer == nil {
		return ErrNoObserver
	}

	sub, err := t.opts.Observer.Observe(observed, ObserveOptions{
		RootMargin: t.opts.RootMargin,
		Thresholds: Thresholds(t.opts.Thresholds),
	}, t.Update)
	if err != nil {
		return fmt.Errorf("observe regions: %w", err)
	}
	t.sub = sub
	return nil
}

// Update applies a batch of readings and recomputes the active region.
func (t *Tracker) Update(readings []Reading) {
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if t.closed || len(t.ids) == 0 {
		t.mu.Unlock()
		return
	}
	for _, r := range readings {
		if _, ok := t.ratios[r.ID]; !ok {
			continue
		}
		t.ratios[r.ID] = normalize(r)
	}
	change, changed := t.moveLocked(t.pickLocked(), SourceVisibility)
	listeners := t.listeners
	t.mu.Unlock()

	if changed {
		t.syncFragment(change.To)
		notify(listeners, change)
	}
}

// SetActive overrides the active region, typically after the visitor
// followed a direct link. An empty id selects the default. Unknown ids are
// ignored and false is returned.
func (t *Tracker) SetActive(id string) bool {
	id = strings.TrimPrefix(id, "#")
	t.notifyMu.Lock()
	defer t.notifyMu.Unlock()

	t.mu.Lock()
	if id == "" {
		id = t.opts.Default
	}
	if !t.validLocked(id) {
		t.mu.Unlock()
		return false
	}
	change, changed := t.moveLocked(id, SourceFragment)
	listeners := t.listeners
	t.mu.Unlock()

	if changed {
		notify(listeners, change)
	}
	return true
}

// Active returns the active region id. It is never empty.
func (t *Tracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Regions returns the ids currently observed, in document order.
func (t *Tracker) Regions() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.ids...)
}

// Ratio returns the last stored ratio for id, 0 if unknown.
func (t *Tracker) Ratio(id string) float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ratios[id]
}

// Observing reports whether a visibility subscription is live.
func (t *Tracker) Observing() bool {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	return t.sub != nil
}

// Close stops observation. It is safe to call more than once.
func (t *Tracker) Close() error {
	t.subMu.Lock()
	defer t.subMu.Unlock()

	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return t.releaseLocked()
}

func (t *Tracker) releaseLocked() error {
	if t.sub == nil {
		return nil
	}
	sub := t.sub
	t.sub = nil
	return sub.Close()
}

// pickLocked returns the region with the strictly greatest ratio. When
// every ratio is zero, or the active region shares the top ratio, the
// active region is kept.
func (t *Tracker) pickLocked() string {
	best, bestRatio := t.active, 0.0
	for _, id := range t.ids {
		if r := t.ratios[id]; r > bestRatio {
			best, bestRatio = id, r
		}
	}
	if bestRatio == 0 || t.ratios[t.active] == bestRatio {
		return t.active
	}
	return best
}

func (t *Tracker) moveLocked(id string, src Source) (Change, bool) {
	if id == t.active {
		return Change{}, false
	}
	c := Change{From: t.active, To: id, Source: src}
	t.active = id
	return c, true
}

func (t *Tracker) syncFragment(id string) {
	if t.opts.Fragment == nil {
		return
	}
	if strings.TrimPrefix(t.opts.Fragment.Current(), "#") != id {
		t.opts.Fragment.Replace(id)
	}
}

func (t *Tracker) initialLocked() string {
	if t.opts.Fragment != nil {
		id := strings.TrimPrefix(t.opts.Fragment.Current(), "#")
		if id != "" && t.validLocked(id) {
			return id
		}
	}
	return t.opts.Default
}

// validLocked reports whether id may become active. While regions are
// observed only those qualify; otherwise any id in the document does.
func (t *Tracker) validLocked(id string) bool {
	if id == t.opts.Default {
		return true
	}
	if len(t.ids) > 0 {
		_, ok := t.ratios[id]
		return ok
	}
	return t.contains(id)
}

func (t *Tracker) contains(id string) bool {
	if t.opts.Document == nil {
		return true
	}
	return t.opts.Document.Contains(id)
}

func (t *Tracker) present(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] || !t.contains(id) {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func normalize(r Reading) float64 {
	if !r.Intersecting || r.Ratio <= 0 {
		return 0
	}
	if r.Ratio > 1 {
		return 1
	}
	return r.Ratio
}

func notify(listeners []func(Change), c Change) {
	for _, fn := range listeners {
		fn(c)
	}
}

// Thresholds returns n evenly spaced ratio buckets from 0 to 1.
func Thresholds(n int) []float64 {
	if n < 2 {
		return []float64{0}
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = float64(i) / float64(n-1)
	}
	return out
}
