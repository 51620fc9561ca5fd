// Package testutil holds deterministic stand-ins for the engine's
// sources of nondeterminism: token generation and wall-clock time.
// With these plugged in, the same scenario produces byte-identical
// audit logs and pass traces on every run.
package testutil

import (
	"fmt"
	"sync"
)

// SeqTokenGenerator yields "prefix-1", "prefix-2", ... in call order.
//
// Unlike engine.FixedGenerator it never runs out, which suits harness
// scenarios whose token demand depends on the step list.
type SeqTokenGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSeqTokenGenerator creates a sequential token generator. An empty
// prefix defaults to "tok".
func NewSeqTokenGenerator(prefix string) *SeqTokenGenerator {
	if prefix == "" {
		prefix = "tok"
	}
	return &SeqTokenGenerator{prefix: prefix}
}

// Generate returns the next token in sequence.
//
// Implements engine.TokenGenerator.
func (g *SeqTokenGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%d", g.prefix, g.n)
}

// Reset restarts the sequence. After Reset the next token is
// "prefix-1" again.
func (g *SeqTokenGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
