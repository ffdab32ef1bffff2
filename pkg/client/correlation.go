// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/envelope"
	"github.com/quiver-network/quiver-go/pkg/transport"
)

type response struct {
	env envelope.Envelope
	err error
}

// pendingRequest waits for the response of one request. It is removed from
// the pending map exactly once; whoever removes it delivers on done.
type pendingRequest struct {
	id        string
	createdAt time.Time
	timeout   time.Duration
	timer     *clock.Timer
	done      chan response
}

// Request sends payload as a generate request and waits for the matching
// response's payload. A peer's error is returned as a *RemoteError.
func (c *Client) Request(ctx context.Context, payload interface{}) (json.RawMessage, error) {
	env, err := c.roundTrip(ctx, envelope.Generate, "msg", payload)
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

// Ping the peer and return the round trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := c.clock.Now()
	if _, err := c.roundTrip(ctx, envelope.Ping, "ping", nil); err != nil {
		return 0, err
	}
	return c.clock.Since(start), nil
}

// NetworkStats asks the peer for its health report.
func (c *Client) NetworkStats(ctx context.Context) (json.RawMessage, error) {
	env, err := c.roundTrip(ctx, envelope.GetStats, "stats", nil)
	if err != nil {
		return nil, err
	}
	return env.Payload, nil
}

func (c *Client) roundTrip(ctx context.Context, t envelope.Type, prefix string, payload interface{}) (envelope.Envelope, error) {
	id := c.newID(prefix)

	env, err := envelope.New(t, id, payload)
	if err != nil {
		return envelope.Envelope{}, err
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return envelope.Envelope{}, err
	}

	req := &pendingRequest{
		id:      id,
		timeout: c.config.RequestTimeout,
		done:    make(chan response, 1),
	}

	c.mutex.Lock()
	active, err := c.activeLocked()
	if err != nil {
		c.mutex.Unlock()
		return envelope.Envelope{}, err
	}
	req.createdAt = c.clock.Now()
	req.timer = c.clock.AfterFunc(req.timeout, func() { c.expire(id) })
	c.pending[id] = req
	c.mutex.Unlock()

	if err := c.send(active, env, data); err != nil {
		if c.removePending(id) != nil {
			return envelope.Envelope{}, err
		}
		res := <-req.done
		return res.env, res.err
	}

	select {
	case res := <-req.done:
		return res.env, res.err

	case <-ctx.Done():
		if c.removePending(id) != nil {
			return envelope.Envelope{}, ctx.Err()
		}
		res := <-req.done
		return res.env, res.err
	}
}

// activeLocked returns the transport for new requests. The mutex must be held.
func (c *Client) activeLocked() (transport.Transport, error) {
	switch {
	case c.state == Closing || c.state == Closed:
		return nil, ErrClosed
	case c.state != Connected || c.active == nil:
		return nil, ErrNotConnected
	default:
		return c.active, nil
	}
}

func (c *Client) send(t transport.Transport, env envelope.Envelope, data []byte) error {
	if err := t.Send(data); err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return fmt.Errorf("%w: sending %v: %v", ErrConnectionLost, env, err)
		}
		return fmt.Errorf("sending %v: %w", env, err)
	}

	c.mutex.Lock()
	c.counters.sent++
	c.mutex.Unlock()
	return nil
}

// removePending takes a request out of the pending map. Only the caller
// receiving non-nil may deliver its result.
func (c *Client) removePending(id string) *pendingRequest {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	req, ok := c.pending[id]
	if !ok {
		return nil
	}
	delete(c.pending, id)
	req.timer.Stop()
	return req
}

func (c *Client) expire(id string) {
	req := c.removePending(id)
	if req == nil {
		return
	}

	c.log().WithFields(log.Fields{
		"id":      id,
		"timeout": req.timeout,
	}).Info("Request timed out")

	req.done <- response{err: fmt.Errorf("%w: %s after %v", ErrRequestTimeout, id, req.timeout)}
}

// resolve delivers a response envelope to its request. Responses for ids
// no longer pending are dropped.
func (c *Client) resolve(env envelope.Envelope) bool {
	req := c.removePending(env.ID)
	if req == nil {
		return false
	}

	if env.Type == envelope.Error {
		req.done <- response{err: &RemoteError{ID: env.ID, Message: env.ErrorText()}}
	} else {
		req.done <- response{env: env}
	}
	return true
}

// dispatch routes one received frame. It runs on the controller goroutine
// only, while Connected.
func (c *Client) dispatch(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		c.mutex.Lock()
		c.counters.protocolErrors++
		c.mutex.Unlock()

		c.log().WithError(err).Warn("Dropping malformed message")
		c.emit(Event{Type: ProtocolError, Err: err})
		return
	}

	c.mutex.Lock()
	c.counters.received++
	c.mutex.Unlock()

	var handled bool
	switch {
	case env.Type == envelope.StreamChunk:
		handled = c.handleChunk(env)

	case env.Type == envelope.Error && env.ID != "":
		handled = c.resolve(env) || c.rejectStream(env.ID, env)

	case env.Type == envelope.Error && env.StreamID != "":
		handled = c.rejectStream(env.StreamID, env)

	case env.ID != "":
		handled = c.resolve(env)
	}

	if !handled {
		c.mutex.Lock()
		c.counters.dropped++
		c.mutex.Unlock()

		c.log().WithField("envelope", env).Debug("Dropping message without a waiting request")
	}
}
