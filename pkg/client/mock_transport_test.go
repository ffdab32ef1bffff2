// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/quiver-network/quiver-go/pkg/envelope"
	"github.com/quiver-network/quiver-go/pkg/transport"
)

// mockTransport mocks a Transport whose received messages are injected by
// the test and whose sent envelopes end up in sent.
type mockTransport struct {
	endpoint transport.Endpoint

	// openErr is returned by Open, openBlock lets Open wait for its context.
	openErr   error
	openBlock bool

	reporter *transport.Reporter
	sent     chan envelope.Envelope
}

func newMockTransport(endpoint transport.Endpoint) *mockTransport {
	return &mockTransport{
		endpoint: endpoint,
		reporter: transport.NewReporter(256),
		sent:     make(chan envelope.Envelope, 1024),
	}
}

func (m *mockTransport) Open(ctx context.Context) error {
	if m.openBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	return m.openErr
}

func (m *mockTransport) Send(data []byte) error {
	if m.reporter.IsClosed() {
		return transport.ErrClosed
	}

	env, err := envelope.Decode(data)
	if err != nil {
		return err
	}
	m.sent <- env
	return nil
}

func (m *mockTransport) Channel() chan transport.Status { return m.reporter.Channel() }

func (m *mockTransport) Close() error {
	m.reporter.Closed(m, nil)
	return nil
}

func (m *mockTransport) Endpoint() transport.Endpoint { return m.endpoint }

func (m *mockTransport) deliver(env envelope.Envelope) {
	data, err := envelope.Encode(env)
	if err != nil {
		panic(err)
	}
	m.reporter.Message(m, data)
}

func (m *mockTransport) deliverRaw(data []byte) {
	m.reporter.Message(m, data)
}

func (m *mockTransport) fail(reason error) {
	m.reporter.Closed(m, reason)
}

// mockNetwork hands out mockTransports and records every attempt.
type mockNetwork struct {
	mutex    sync.Mutex
	attempts []string
	failing  map[string]bool
	blocking map[string]bool

	opened chan *mockTransport
}

func newMockNetwork() *mockNetwork {
	return &mockNetwork{
		failing:  make(map[string]bool),
		blocking: make(map[string]bool),
		opened:   make(chan *mockTransport, 64),
	}
}

func (n *mockNetwork) setFailing(address string, failing bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.failing[address] = failing
}

func (n *mockNetwork) setBlocking(address string, blocking bool) {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	n.blocking[address] = blocking
}

func (n *mockNetwork) attempted() []string {
	n.mutex.Lock()
	defer n.mutex.Unlock()

	return append([]string(nil), n.attempts...)
}

func (n *mockNetwork) dialer() transport.Dialer {
	return func(endpoint transport.Endpoint) (transport.Transport, error) {
		n.mutex.Lock()
		defer n.mutex.Unlock()

		n.attempts = append(n.attempts, endpoint.Address)

		m := newMockTransport(endpoint)
		m.openBlock = n.blocking[endpoint.Address]
		if n.failing[endpoint.Address] {
			m.openErr = fmt.Errorf("%w: %s refused", transport.ErrUnavailable, endpoint.Address)
		}
		return &openedTransport{mockTransport: m, network: n}, nil
	}
}

func (n *mockNetwork) dialers() map[transport.Kind]transport.Dialer {
	return map[transport.Kind]transport.Dialer{
		transport.QUIC:        n.dialer(),
		transport.PeerChannel: n.dialer(),
		transport.Socket:      n.dialer(),
	}
}

// openedTransport publishes a successfully opened mockTransport.
type openedTransport struct {
	*mockTransport
	network *mockNetwork
}

func (o *openedTransport) Open(ctx context.Context) error {
	if err := o.mockTransport.Open(ctx); err != nil {
		return err
	}
	o.network.opened <- o.mockTransport
	return nil
}

func (o *openedTransport) Close() error {
	o.reporter.Closed(o, nil)
	return nil
}
