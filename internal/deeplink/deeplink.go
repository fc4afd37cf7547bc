// Package deeplink manages the external surface a WhatsApp link is opened in.
//
// The surface is reserved before the slow part of request creation starts and
// is then either pointed at the final link or closed:
//
//	res, err := deeplink.Reserve(ctx, opener)
//	if err != nil { ... }
//	defer res.Abort()
//	...
//	return res.Commit(url)
//
// Abort after Commit is a no-op, the same shape as sql.Tx Rollback after Commit.
package deeplink

import (
	"context"
	"sync"

	errors "github.com/Laisky/errors/v2"
)

// ErrClosed is returned when a reservation is used after Commit or Abort
var ErrClosed = errors.New("reservation already closed")

// Surface is an opened external window.
type Surface interface {
	Navigate(url string) error
	Close() error
}

// Opener opens a blank surface.
type Opener interface {
	Open(ctx context.Context) (Surface, error)
}

// Reservation is the handle returned by Reserve.
type Reservation struct {
	mu      sync.Mutex
	surface Surface
	done    bool
}

// Reserve opens a placeholder surface.
func Reserve(ctx context.Context, opener Opener) (*Reservation, error) {
	s, err := opener.Open(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "open deep link surface")
	}
	return &Reservation{surface: s}, nil
}

// Commit points the surface at url.
func (r *Reservation) Commit(url string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return ErrClosed
	}
	r.done = true

	if err := r.surface.Navigate(url); err != nil {
		_ = r.surface.Close()
		return errors.Wrap(err, "navigate deep link surface")
	}
	return nil
}

// Abort closes the surface unless it was already committed or aborted.
func (r *Reservation) Abort() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return nil
	}
	r.done = true
	return r.surface.Close()
}

// Link is an in-process Surface that records where it was pointed. The HTTP
// API hands the recorded link back to the browser, which opens it.
type Link struct {
	mu     sync.Mutex
	url    string
	closed bool
}

func (l *Link) Navigate(url string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	l.url = url
	return nil
}

func (l *Link) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

// URL returns the committed link, empty when aborted or never committed.
func (l *Link) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ""
	}
	return l.url
}

// Closed reports whether the surface was closed.
func (l *Link) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Open lets a Link act as its own single-use Opener.
func (l *Link) Open(ctx context.Context) (Surface, error) {
	return l, nil
}
