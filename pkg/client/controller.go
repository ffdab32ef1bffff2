// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"errors"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/transport"
)

// run is the controller goroutine. It owns negotiation, the dispatch of
// incoming frames and the teardown of a lost transport, one at a time.
func (c *Client) run() {
	defer close(c.stopAck)

	for {
		t, err := c.negotiate(c.ctx)
		if c.isStopping() {
			c.finish(ErrClosed)
			return
		}

		if err != nil {
			c.mutex.Lock()
			c.lastErr = err
			c.mutex.Unlock()

			c.log().WithError(err).Warn("All endpoints failed")
			c.emit(Event{Type: AllEndpointsFailed, Err: err})

			if !c.backoff() {
				return
			}
			continue
		}

		c.connected(t)

		reason, stopped := c.serve(t)
		if stopped {
			c.setState(Closing)
			_ = transport.Discard(t)
			c.finish(ErrClosed)
			return
		}

		_ = t.Close()

		lostErr := ErrConnectionLost
		if reason != nil {
			lostErr = errors.Join(ErrConnectionLost, reason)
		}

		c.log().WithFields(log.Fields{
			"endpoint": t.Endpoint(),
			"reason":   reason,
		}).Warn("Connection was lost")

		c.setState(Idle)
		c.teardown(ErrConnectionLost)
		c.emit(Event{Type: ConnectionLost, Endpoint: t.Endpoint(), Err: lostErr})

		c.mutex.Lock()
		c.lastErr = lostErr
		c.mutex.Unlock()

		if !c.backoff() {
			return
		}
	}
}

func (c *Client) isStopping() bool {
	select {
	case <-c.stopSyn:
		return true
	default:
		return false
	}
}

// connected installs t as the active transport of a new generation.
func (c *Client) connected(t transport.Transport) {
	generation := uuid.NewString()

	c.mutex.Lock()
	c.active = t
	c.generation = generation
	c.connectedSince = c.clock.Now()
	c.reconnectAttempt = 0
	c.lastErr = nil
	c.counters.connects++
	changed := c.setStateLocked(Connected)
	c.mutex.Unlock()

	log.WithFields(log.Fields{
		"client":   generation,
		"endpoint": t.Endpoint(),
	}).Info("Connected")

	c.emit(Event{Type: EndpointConnected, Endpoint: t.Endpoint()})
	if changed {
		c.emit(Event{Type: StateChanged, State: Connected})
	}
}

// serve dispatches t's frames until it closes or the Client is stopped.
func (c *Client) serve(t transport.Transport) (reason error, stopped bool) {
	ch := t.Channel()

	for {
		select {
		case <-c.stopSyn:
			return nil, true

		case status, ok := <-ch:
			if !ok {
				return transport.ErrClosed, false
			}

			switch status.MessageType {
			case transport.MessageReceived:
				c.dispatch(status.Data())

			case transport.TransportClosed:
				return status.Reason(), false
			}
		}
	}
}

// teardown detaches the active transport and rejects every pending request
// and stream with err, each exactly once.
func (c *Client) teardown(err error) {
	c.mutex.Lock()
	c.active = nil
	pending := c.pending
	streams := c.streams
	c.pending = make(map[string]*pendingRequest)
	c.streams = make(map[string]*streamSession)
	c.mutex.Unlock()

	for _, req := range pending {
		req.timer.Stop()
		req.done <- response{err: err}
	}
	for _, session := range streams {
		session.done <- streamOutcome{err: err}
	}

	if len(pending) > 0 || len(streams) > 0 {
		c.log().WithFields(log.Fields{
			"requests": len(pending),
			"streams":  len(streams),
			"error":    err,
		}).Info("Rejected pending work")
	}
}

// backoff waits before the next negotiation. It returns false if the Client
// was stopped meanwhile or ran out of reconnect attempts.
func (c *Client) backoff() bool {
	c.mutex.Lock()
	c.reconnectAttempt++
	attempt := c.reconnectAttempt
	c.mutex.Unlock()

	if c.isStopping() {
		c.finish(ErrClosed)
		return false
	} else if max := c.config.MaxReconnectAttempts; max > 0 && attempt > max {
		c.finish(ErrReconnectExhausted)
		return false
	}

	c.setState(Idle)

	delay := Backoff(attempt, c.config.BaseBackoff, c.config.MaxBackoff)
	timer := c.clock.Timer(delay)
	defer timer.Stop()

	c.log().WithFields(log.Fields{
		"attempt": attempt,
		"delay":   delay,
	}).Info("Scheduled reconnect")
	c.emit(Event{Type: ReconnectScheduled, Attempt: attempt, Delay: delay})

	select {
	case <-timer.C:
		return true
	case <-c.stopSyn:
		c.finish(ErrClosed)
		return false
	}
}
