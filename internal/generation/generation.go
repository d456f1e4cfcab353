// Package generation provides the launch generation counter that every
// asynchronous mission path checks before committing a state mutation.
package generation

import "sync/atomic"

// Counter is a monotonically advancing mission generation.
type Counter struct {
	n atomic.Uint64
}

// Advance starts a new generation and returns its token. Every token from
// earlier generations becomes stale.
func (c *Counter) Advance() Token {
	return Token{c: c, gen: c.n.Add(1)}
}

// Current returns a token for the live generation.
func (c *Counter) Current() Token {
	return Token{c: c, gen: c.n.Load()}
}

// Token identifies the generation an asynchronous chain was started under.
type Token struct {
	c   *Counter
	gen uint64
}

// Stale reports whether a newer generation has started. The zero Token is never stale.
func (t Token) Stale() bool {
	if t.c == nil {
		return false
	}
	return t.c.n.Load() != t.gen
}

// ID returns the generation number.
func (t Token) ID() uint64 { return t.gen }
