// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrTransportUnavailable marks an unreachable endpoint or a transport kind
	// without a Dialer. The next endpoint is tried.
	ErrTransportUnavailable = errors.New("transport unavailable")

	// ErrNegotiationTimeout marks an endpoint which was not ready within the
	// attempt timeout. The next endpoint is tried.
	ErrNegotiationTimeout = errors.New("negotiation timed out")

	// ErrAllEndpointsFailed is matched by an AllEndpointsFailedError.
	ErrAllEndpointsFailed = errors.New("all endpoints failed")

	// ErrRequestTimeout is returned if no response arrived in time. The
	// connection stays up.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrConnectionLost is returned for pending work when the active
	// transport closed unexpectedly.
	ErrConnectionLost = errors.New("connection lost")

	// ErrNotConnected is returned for requests issued while no transport
	// is connected.
	ErrNotConnected = errors.New("not connected")

	// ErrClosed is returned after Close was called.
	ErrClosed = errors.New("client closed")

	// ErrReconnectExhausted is the final error after MaxReconnectAttempts.
	ErrReconnectExhausted = errors.New("reconnect attempts exhausted")
)

// AllEndpointsFailedError holds the error of each attempted endpoint.
type AllEndpointsFailedError struct {
	Errors *multierror.Error
}

func (err *AllEndpointsFailedError) Error() string {
	if err.Errors == nil || len(err.Errors.Errors) == 0 {
		return "all endpoints failed: no endpoints configured"
	}

	return fmt.Sprintf("all %d endpoints failed: %v", len(err.Errors.Errors), err.Errors.Errors)
}

func (err *AllEndpointsFailedError) Unwrap() error {
	if err.Errors == nil {
		return nil
	}
	return err.Errors.ErrorOrNil()
}

func (err *AllEndpointsFailedError) Is(target error) bool {
	return target == ErrAllEndpointsFailed
}

// RemoteError is an error the peer sent for one request or stream.
type RemoteError struct {
	ID      string
	Message string
}

func (err *RemoteError) Error() string {
	return fmt.Sprintf("remote error for %s: %s", err.ID, err.Message)
}
