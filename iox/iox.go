// Package iox holds cleanup helpers for errors nobody can act on.
package iox

import "io"

// DiscardClose closes c and drops the error, for deferred closes of response
// bodies and adapters:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc adapts c for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(adapter))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops its error, e.g. a logger Sync on exit.
func DiscardErr(fn func() error) { _ = fn() }
