// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/transport"
)

// negotiate tries each endpoint once, strictly one after another and by
// priority, until one opens. Exhaustion returns an AllEndpointsFailedError.
func (c *Client) negotiate(ctx context.Context) (transport.Transport, error) {
	endpoints := c.Endpoints()

	c.setState(Negotiating)

	var errs *multierror.Error
	for _, endpoint := range endpoints {
		if ctx.Err() != nil {
			return nil, ErrClosed
		}

		t, err := c.attempt(ctx, endpoint)
		if err == nil {
			return t, nil
		}

		if ctx.Err() != nil {
			return nil, ErrClosed
		}

		c.log().WithFields(log.Fields{
			"endpoint": endpoint,
			"error":    err,
		}).Info("Failed to open endpoint, trying next one")

		c.emit(Event{Type: AttemptFailed, Endpoint: endpoint, Err: err})
		errs = multierror.Append(errs, fmt.Errorf("%v: %w", endpoint, err))
	}

	return nil, &AllEndpointsFailedError{Errors: errs}
}

// attempt opens a single endpoint, bounded by the attempt timeout.
func (c *Client) attempt(ctx context.Context, endpoint transport.Endpoint) (transport.Transport, error) {
	dialer, ok := c.config.Dialers[endpoint.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no dialer for kind %q", ErrTransportUnavailable, endpoint.Kind)
	}

	t, err := dialer(endpoint)
	if err != nil {
		if errors.Is(err, transport.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
		}
		return nil, err
	}

	if endpoint.Kind == transport.PeerChannel {
		c.setState(SignalingHandshake)
	} else {
		c.setState(Negotiating)
	}

	attemptCtx, cancel := c.clock.WithTimeout(ctx, c.config.AttemptTimeout)
	defer cancel()

	c.emit(Event{Type: AttemptStarted, Endpoint: endpoint})

	c.log().WithFields(log.Fields{
		"endpoint": endpoint,
		"timeout":  c.config.AttemptTimeout,
	}).Debug("Opening endpoint")

	result := make(chan error, 1)
	go func() { result <- t.Open(attemptCtx) }()

	select {
	case err = <-result:
		if err == nil {
			return t, nil
		}
		_ = transport.Discard(t)

	case <-attemptCtx.Done():
		// Open may still be running; close the transport once it gave up.
		go func() {
			<-result
			_ = transport.Discard(t)
		}()
		err = attemptCtx.Err()
	}

	switch {
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("%w after %v: %v", ErrNegotiationTimeout, c.config.AttemptTimeout, err)
	case errors.Is(err, transport.ErrUnavailable):
		return nil, fmt.Errorf("%w: %v", ErrTransportUnavailable, err)
	default:
		return nil, err
	}
}
