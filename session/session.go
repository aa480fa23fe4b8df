// Package session manages the external browser automation sessions jobs
// execute against: a Provisioner contract for opening, closing, and
// enumerating remote browser profiles, an HTTP client for the local
// profile agent, and the Session handle that owns one Chrome DevTools
// Protocol connection.
package session

import (
	"context"
	"sync"

	"github.com/chromedp/chromedp"

	"github.com/veldt/outpaint"
)

// Session is a handle to one remote browser, connected over CDP. It is
// owned by exactly one worker and cached for the worker's lifetime.
//
// The handle itself tolerates concurrent use: each execution attaches
// its own tab on the shared connection, so a worker with permit
// capacity above one runs jobs in parallel tabs.
type Session struct {
	debugURL string

	allocCtx context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewCDP creates a Session backed by a remote CDP allocator for the
// given debug URL. The connection is established lazily on first
// Attach.
func NewCDP(debugURL string) *Session {
	allocCtx, cancel := chromedp.NewRemoteAllocator(context.Background(), debugURL)
	return &Session{
		debugURL: debugURL,
		allocCtx: allocCtx,
		cancel:   cancel,
	}
}

// DebugURL returns the CDP debug URL this session is connected to.
func (s *Session) DebugURL() string { return s.debugURL }

// Attach opens a fresh tab context on the shared browser connection.
// The returned cancel must be called when the tab is no longer needed.
func (s *Session) Attach() (context.Context, context.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, nil, outpaint.ErrSessionClosed
	}
	ctx, cancel := chromedp.NewContext(s.allocCtx)
	return ctx, cancel, nil
}

// Close tears down the CDP connection. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}
