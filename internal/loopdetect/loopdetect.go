// Package loopdetect flags sessions whose verification failures keep
// repeating the same underlying problem.
package loopdetect

import (
	"strings"
	"sync"

	"github.com/randalmurphal/storyloop/internal/metrics"
)

const (
	DefaultWindowSize          = 5
	DefaultSimilarityThreshold = 0.3
	DefaultRepetitionThreshold = 3
)

// Result is the outcome of checking one failure.
type Result struct {
	LoopDetected bool
	// SimilarityScore is the best match against the recent window, 0 when empty.
	SimilarityScore float64
	// Count is the number of consecutive same-incident failures including this one.
	Count int
}

type fingerprint struct {
	text   string
	tokens map[string]struct{}
}

type sessionState struct {
	window []fingerprint
	count  int
}

// Detector keeps a bounded failure history per session. Safe for concurrent
// use across sessions.
type Detector struct {
	windowSize int
	similarity float64
	repetition int

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// Option configures a Detector.
type Option func(*Detector)

// WithWindowSize sets how many recent failures are compared against.
func WithWindowSize(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.windowSize = n
		}
	}
}

// WithSimilarityThreshold sets the minimum token overlap for two failures to match.
func WithSimilarityThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 && t <= 1 {
			d.similarity = t
		}
	}
}

// WithRepetitionThreshold sets how many consecutive matches count as a loop.
func WithRepetitionThreshold(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.repetition = n
		}
	}
}

// New creates a Detector.
func New(opts ...Option) *Detector {
	d := &Detector{
		windowSize: DefaultWindowSize,
		similarity: DefaultSimilarityThreshold,
		repetition: DefaultRepetitionThreshold,
		sessions:   make(map[string]*sessionState),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Check records a failure for the session and reports whether it repeats.
func (d *Detector) Check(sessionID, failureText string) Result {
	fp := fingerprint{text: failureText, tokens: tokenize(failureText)}

	d.mu.Lock()
	defer d.mu.Unlock()

	st := d.sessions[sessionID]
	if st == nil {
		st = &sessionState{}
		d.sessions[sessionID] = st
	}

	best := 0.0
	for _, prev := range st.window {
		if s := similarity(prev, fp); s > best {
			best = s
		}
	}

	if len(st.window) > 0 && best >= d.similarity {
		st.count++
	} else {
		st.count = 1
	}

	st.window = append(st.window, fp)
	if len(st.window) > d.windowSize {
		st.window = st.window[len(st.window)-d.windowSize:]
	}

	res := Result{
		LoopDetected:    st.count >= d.repetition,
		SimilarityScore: best,
		Count:           st.count,
	}
	if res.LoopDetected {
		metrics.LoopDetections.Inc()
	}
	return res
}

// Reset clears the session's history and counter.
func (d *Detector) Reset(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if st := d.sessions[sessionID]; st != nil {
		st.window = nil
		st.count = 0
	}
}

// Forget drops all state for the session.
func (d *Detector) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.sessions, sessionID)
}

// Similarity returns the Jaccard similarity of the lower-cased whitespace
// token sets of a and b. Identical texts score 1.
func Similarity(a, b string) float64 {
	return similarity(
		fingerprint{text: a, tokens: tokenize(a)},
		fingerprint{text: b, tokens: tokenize(b)},
	)
}

func similarity(a, b fingerprint) float64 {
	if a.text == b.text {
		return 1
	}
	if len(a.tokens) == 0 || len(b.tokens) == 0 {
		return 0
	}
	small, large := a.tokens, b.tokens
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a.tokens) + len(b.tokens) - inter
	return float64(inter) / float64(union)
}

func tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}
