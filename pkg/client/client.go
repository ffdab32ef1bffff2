// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/transport"
)

// Client holds one logical connection to a remote peer. It negotiates a
// transport out of its endpoints, correlates requests with their responses,
// reassembles streams and reconnects after a lost connection until Close.
type Client struct {
	config Config
	clock  clock.Clock

	// nextID is shared by requests and streams, so ids are never reused.
	nextID uint64

	// mutex guards everything below up to the events.
	mutex            sync.Mutex
	state            State
	stateNotify      chan struct{}
	endpoints        []transport.Endpoint
	active           transport.Transport
	generation       string
	connectedSince   time.Time
	reconnectAttempt int
	lastErr          error
	closeErr         error
	started          bool
	pending          map[string]*pendingRequest
	streams          map[string]*streamSession
	counters         counters

	events       chan Event
	eventsClosed bool
	eventsMutex  sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc

	// stop{Syn,Ack} supervise closing the controller, see Close()
	stopSyn   chan struct{}
	stopAck   chan struct{}
	closeOnce sync.Once
}

// New creates a Client. It does not connect until Connect is called.
func New(config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())

	return &Client{
		config: config,
		clock:  config.Clock,

		state:       Idle,
		stateNotify: make(chan struct{}),
		endpoints:   transport.SortEndpoints(config.Endpoints),
		pending:     make(map[string]*pendingRequest),
		streams:     make(map[string]*streamSession),

		events: make(chan Event, eventBufferSize),

		ctx:    ctx,
		cancel: cancel,

		stopSyn: make(chan struct{}),
		stopAck: make(chan struct{}),
	}, nil
}

func (c *Client) log() *log.Entry {
	return log.WithField("client", c.generationID())
}

func (c *Client) generationID() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.generation == "" {
		return "-"
	}
	return c.generation
}

// Connect starts the controller, if not yet running, and waits until a
// transport is connected. The controller keeps reconnecting in the
// background even if ctx is done first.
func (c *Client) Connect(ctx context.Context) error {
	c.mutex.Lock()
	if c.state == Closing || c.state == Closed {
		c.mutex.Unlock()
		return ErrClosed
	}
	if !c.started {
		c.started = true
		go c.run()
	}
	c.mutex.Unlock()

	for {
		c.mutex.Lock()
		state, notify, closeErr := c.state, c.stateNotify, c.closeErr
		c.mutex.Unlock()

		switch state {
		case Connected:
			return nil
		case Closing, Closed:
			if closeErr != nil {
				return closeErr
			}
			return ErrClosed
		}

		select {
		case <-notify:
		case <-ctx.Done():
			c.mutex.Lock()
			lastErr := c.lastErr
			c.mutex.Unlock()

			if lastErr != nil {
				return fmt.Errorf("connecting: %w: %w", ctx.Err(), lastErr)
			}
			return ctx.Err()
		}
	}
}

// State of the logical connection.
func (c *Client) State() State {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.state
}

// Events delivers connection events. The channel is closed after the
// ClientClosed Event. Events are dropped while the buffer is full.
func (c *Client) Events() <-chan Event {
	return c.events
}

// SetEndpoints replaces the endpoint list. It is used from the next
// negotiation on; an active transport stays connected.
func (c *Client) SetEndpoints(endpoints []transport.Endpoint) error {
	if len(endpoints) == 0 {
		return fmt.Errorf("no endpoints given")
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.endpoints = transport.SortEndpoints(endpoints)
	return nil
}

// Endpoints returns the current endpoint list in the order they are tried.
func (c *Client) Endpoints() []transport.Endpoint {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	endpoints := make([]transport.Endpoint, len(c.endpoints))
	copy(endpoints, c.endpoints)
	return endpoints
}

// Close the Client. Pending work is rejected with ErrClosed and no reconnect
// happens anymore.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mutex.Lock()
		started := c.started
		terminated := c.state == Closed
		if !terminated {
			c.setStateLocked(Closing)
		}
		c.mutex.Unlock()

		if !terminated {
			c.emit(Event{Type: StateChanged, State: Closing})
		}

		// The controller must observe stopSyn before its negotiation fails
		// with the cancellation.
		close(c.stopSyn)
		c.cancel()

		if started {
			<-c.stopAck
		} else {
			c.finish(ErrClosed)
		}
	})
	return nil
}

func (c *Client) newID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, atomic.AddUint64(&c.nextID, 1))
}

// setStateLocked changes the state and wakes up Connect. The mutex must be
// held; the caller emits the StateChanged Event after unlocking.
func (c *Client) setStateLocked(state State) bool {
	if c.state == state || c.state == Closed {
		return false
	} else if c.state == Closing && state != Closed {
		return false
	}

	c.state = state
	close(c.stateNotify)
	c.stateNotify = make(chan struct{})
	return true
}

func (c *Client) setState(state State) {
	c.mutex.Lock()
	changed := c.setStateLocked(state)
	c.mutex.Unlock()

	if changed {
		c.log().WithField("state", state).Debug("Connection changed state")
		c.emit(Event{Type: StateChanged, State: state})
	}
}

// finish moves the Client into its terminal state. Pending work is rejected
// with err.
func (c *Client) finish(err error) {
	c.teardown(ErrClosed)

	c.mutex.Lock()
	if c.closeErr == nil && err != ErrClosed {
		c.closeErr = err
	}
	changed := c.setStateLocked(Closed)
	c.mutex.Unlock()

	if changed {
		c.emit(Event{Type: StateChanged, State: Closed})
	}
	c.emit(Event{Type: ClientClosed, Err: err})
	c.closeEvents()

	c.log().WithError(err).Info("Client is closed")
}
