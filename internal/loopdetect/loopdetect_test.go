package loopdetect

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	failA  = "FAIL TestParse: expected 3 got 4 in parser_test.go line 12"
	failA2 = "FAIL TestParse: expected 3 got 5 in parser_test.go line 14"
	failB  = "panic: runtime error: index out of range [7] with length 2"
	failC  = "npm ERR! missing script: build"
)

func TestSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, Similarity(failA, failA))
	assert.Equal(t, 1.0, Similarity("", ""))
	assert.Equal(t, 0.0, Similarity("", failA))
	assert.Equal(t, 1.0, Similarity("Error Here", "error   here"))
	assert.GreaterOrEqual(t, Similarity(failA, failA2), DefaultSimilarityThreshold)
	assert.Less(t, Similarity(failA, failB), DefaultSimilarityThreshold)

	// {a b c} vs {b c d} -> 2/4
	assert.InDelta(t, 0.5, Similarity("a b c", "b c d"), 1e-9)
}

func TestNearDuplicateSequenceDetectsLoop(t *testing.T) {
	d := New()

	r := d.Check("s1", failA)
	assert.False(t, r.LoopDetected)
	assert.Equal(t, 0.0, r.SimilarityScore)
	assert.Equal(t, 1, r.Count)

	r = d.Check("s1", failA2)
	assert.False(t, r.LoopDetected)
	assert.GreaterOrEqual(t, r.SimilarityScore, 0.3)

	r = d.Check("s1", failA)
	assert.True(t, r.LoopDetected)
	assert.Equal(t, 1.0, r.SimilarityScore)
	assert.Equal(t, 3, r.Count)
}

func TestUnrelatedFailuresNeverLoop(t *testing.T) {
	d := New()
	for _, f := range []string{failA, failB, failC} {
		r := d.Check("s1", f)
		assert.False(t, r.LoopDetected, "unexpected loop on %q", f)
		assert.Equal(t, 1, r.Count)
	}
}

func TestUnrelatedFailureResetsCounter(t *testing.T) {
	d := New()
	d.Check("s1", failA)
	d.Check("s1", failA2)
	r := d.Check("s1", failC)
	assert.False(t, r.LoopDetected)
	assert.Equal(t, 1, r.Count)

	// failA matches the window again, but the streak restarted.
	r = d.Check("s1", failA)
	assert.False(t, r.LoopDetected)
	assert.Equal(t, 2, r.Count)
}

func TestReset(t *testing.T) {
	d := New()
	d.Check("s1", failA)
	d.Check("s1", failA)
	d.Reset("s1")

	r := d.Check("s1", failA)
	assert.False(t, r.LoopDetected)
	assert.Equal(t, 1, r.Count)
	assert.Equal(t, 0.0, r.SimilarityScore)
}

func TestSessionsAreIndependent(t *testing.T) {
	d := New()
	d.Check("s1", failA)
	d.Check("s1", failA)

	r := d.Check("s2", failA)
	assert.Equal(t, 1, r.Count)

	d.Forget("s2")
	r = d.Check("s1", failA)
	assert.True(t, r.LoopDetected)
}

func TestWindowIsBounded(t *testing.T) {
	d := New(WithWindowSize(2))
	d.Check("s1", failA)
	d.Check("s1", failB)
	d.Check("s1", failC)

	// failA has slid out of the window.
	r := d.Check("s1", failA)
	assert.Equal(t, 1, r.Count)
	assert.Less(t, r.SimilarityScore, DefaultSimilarityThreshold)
}

func TestConcurrentSessions(t *testing.T) {
	d := New()
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				d.Check(id, failA)
			}
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		r := d.Check(fmt.Sprintf("s%d", i), failA)
		assert.Equal(t, 4, r.Count)
	}
}
