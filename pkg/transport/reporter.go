// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "sync"

// Reporter implements the reporting half of a Transport. It serializes all
// reports, so frames from one reader arrive in order, and guarantees that
// TransportClosed is reported exactly once, followed by closing the channel.
//
// The consumer must keep reading Channel until it is closed.
type Reporter struct {
	mutex  sync.Mutex
	ch     chan Status
	closed bool
}

// NewReporter creates a Reporter with a channel buffer of size.
func NewReporter(size int) *Reporter {
	return &Reporter{ch: make(chan Status, size)}
}

// Channel to be returned by Transport.Channel.
func (r *Reporter) Channel() chan Status {
	return r.ch
}

// Message reports a received frame. It returns false if the Transport was
// already reported as closed and the frame was discarded.
func (r *Reporter) Message(sender Transport, data []byte) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false
	}

	r.ch <- NewMessageReceived(sender, data)
	return true
}

// Closed reports the end of the Transport. Only the first call has an
// effect; it returns whether this call was the one.
func (r *Reporter) Closed(sender Transport, reason error) bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.closed {
		return false
	}
	r.closed = true

	r.ch <- NewTransportClosed(sender, reason)
	close(r.ch)
	return true
}

// IsClosed tells if Closed was already called.
func (r *Reporter) IsClosed() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	return r.closed
}

// Discard closes a Transport the caller no longer reads from. The Transport's
// channel is drained in the background so a pending report cannot block.
func Discard(t Transport) error {
	if ch := t.Channel(); ch != nil {
		go func() {
			for range ch {
			}
		}()
	}
	return t.Close()
}
