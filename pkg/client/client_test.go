// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/quiver-network/quiver-go/pkg/envelope"
	"github.com/quiver-network/quiver-go/pkg/transport"
)

const testTimeout = 5 * time.Second

func endpoints(addresses ...string) (eps []transport.Endpoint) {
	for i, address := range addresses {
		eps = append(eps, transport.Endpoint{Kind: transport.Socket, Address: address, Priority: i})
	}
	return
}

func newTestClient(t *testing.T, network *mockNetwork, mock *clock.Mock, eps []transport.Endpoint, modify func(*Config)) *Client {
	config := Config{
		Endpoints: eps,
		Clock:     mock,
		Dialers:   network.dialers(),
	}
	if modify != nil {
		modify(&config)
	}

	c, err := New(config)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// connect the Client and return the opened transport.
func connect(t *testing.T, c *Client, network *mockNetwork) *mockTransport {
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	return nextOpened(t, network)
}

func nextOpened(t *testing.T, network *mockNetwork) *mockTransport {
	select {
	case m := <-network.opened:
		return m
	case <-time.After(testTimeout):
		t.Fatal("no transport was opened")
		return nil
	}
}

func nextSent(t *testing.T, m *mockTransport) envelope.Envelope {
	select {
	case env := <-m.sent:
		return env
	case <-time.After(testTimeout):
		t.Fatal("nothing was sent")
		return envelope.Envelope{}
	}
}

func waitEvent(t *testing.T, c *Client, eventType EventType) Event {
	timeout := time.After(testTimeout)
	for {
		select {
		case e, ok := <-c.Events():
			if !ok {
				t.Fatalf("events closed while waiting for %v", eventType)
			}
			if e.Type == eventType {
				return e
			}
		case <-timeout:
			t.Fatalf("no %v event", eventType)
		}
	}
}

func waitState(t *testing.T, c *Client, state State) {
	for deadline := time.Now().Add(testTimeout); c.State() != state; {
		if time.Now().After(deadline) {
			t.Fatalf("expected state %v, got %v", state, c.State())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestNewWithoutEndpoints(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("client without endpoints was created")
	}
}

func TestRequestNotConnected(t *testing.T) {
	c := newTestClient(t, newMockNetwork(), clock.NewMock(), endpoints("a"), nil)

	if _, err := c.Request(context.Background(), "x"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestFailoverOrder(t *testing.T) {
	network := newMockNetwork()
	network.setFailing("a", true)
	network.setFailing("b", true)

	eps := []transport.Endpoint{
		{Kind: transport.Socket, Address: "c", Priority: 2},
		{Kind: transport.QUIC, Address: "a", Priority: 0},
		{Kind: transport.Socket, Address: "b", Priority: 1},
	}
	c := newTestClient(t, network, clock.NewMock(), eps, nil)

	m := connect(t, c, network)
	if m.endpoint.Address != "c" {
		t.Fatalf("connected to %v", m.endpoint)
	}

	if attempts := network.attempted(); !reflect.DeepEqual(attempts, []string{"a", "b", "c"}) {
		t.Fatalf("expected attempts a, b, c; got %v", attempts)
	}

	stats := c.Stats()
	if stats.State != Connected || stats.ActiveEndpoint == nil || stats.ActiveEndpoint.Address != "c" {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Generation == "" {
		t.Fatal("connection has no generation")
	}
}

func TestUnknownTransportKind(t *testing.T) {
	network := newMockNetwork()
	eps := []transport.Endpoint{
		{Kind: "carrier-pigeon", Address: "x", Priority: 0},
		{Kind: transport.Socket, Address: "y", Priority: 1},
	}
	c := newTestClient(t, network, clock.NewMock(), eps, nil)

	connect(t, c, network)

	e := waitEvent(t, c, AttemptFailed)
	if e.Endpoint.Address != "x" || !errors.Is(e.Err, ErrTransportUnavailable) {
		t.Fatalf("unexpected event %v: %v", e, e.Err)
	}
}

func TestAttemptTimeout(t *testing.T) {
	network := newMockNetwork()
	network.setBlocking("slow", true)

	mock := clock.NewMock()
	c := newTestClient(t, network, mock, endpoints("slow", "fast"), func(config *Config) {
		config.AttemptTimeout = 2 * time.Second
	})

	errChan := make(chan error, 1)
	go func() { errChan <- c.Connect(context.Background()) }()

	if e := waitEvent(t, c, AttemptStarted); e.Endpoint.Address != "slow" {
		t.Fatalf("first attempt was %v", e.Endpoint)
	}
	mock.Add(2 * time.Second)

	e := waitEvent(t, c, AttemptFailed)
	if !errors.Is(e.Err, ErrNegotiationTimeout) {
		t.Fatalf("expected negotiation timeout, got %v", e.Err)
	}

	select {
	case err := <-errChan:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Connect did not return")
	}

	if m := nextOpened(t, network); m.endpoint.Address != "fast" {
		t.Fatalf("connected to %v", m.endpoint)
	}
}

func TestSignalingHandshakeState(t *testing.T) {
	network := newMockNetwork()
	eps := []transport.Endpoint{{Kind: transport.PeerChannel, Address: "ws://signal", Priority: 0}}
	c := newTestClient(t, network, clock.NewMock(), eps, nil)

	connect(t, c, network)

	for {
		e := waitEvent(t, c, StateChanged)
		if e.State == SignalingHandshake {
			return
		} else if e.State == Connected {
			t.Fatal("connected without a signaling handshake state")
		}
	}
}

func TestCorrelationUniqueness(t *testing.T) {
	const requests = 100

	network := newMockNetwork()
	c := newTestClient(t, network, clock.NewMock(), endpoints("a"), nil)
	m := connect(t, c, network)

	var wg sync.WaitGroup
	errChan := make(chan error, requests)

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			want := fmt.Sprintf("payload-%d", i)
			res, err := c.Request(context.Background(), want)
			if err != nil {
				errChan <- err
				return
			}

			var got string
			if err := json.Unmarshal(res, &got); err != nil {
				errChan <- err
			} else if got != want {
				errChan <- fmt.Errorf("request for %s resolved with %s", want, got)
			}
		}(i)
	}

	sent := make([]envelope.Envelope, 0, requests)
	ids := make(map[string]bool)
	for i := 0; i < requests; i++ {
		env := nextSent(t, m)
		if env.Type != envelope.Generate {
			t.Fatalf("unexpected envelope %v", env)
		}
		if ids[env.ID] {
			t.Fatalf("id %s was used twice", env.ID)
		}
		ids[env.ID] = true
		sent = append(sent, env)
	}

	rand.Shuffle(len(sent), func(i, j int) { sent[i], sent[j] = sent[j], sent[i] })
	for _, env := range sent {
		m.deliver(envelope.Envelope{Type: envelope.GenerateResponse, ID: env.ID, Payload: env.Payload})
	}

	// Duplicates of every response must be dropped.
	for _, env := range sent {
		m.deliver(envelope.Envelope{Type: envelope.GenerateResponse, ID: env.ID, Payload: env.Payload})
	}

	wg.Wait()
	close(errChan)
	for err := range errChan {
		t.Error(err)
	}

	for deadline := time.Now().Add(testTimeout); c.Stats().Dropped < requests; {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d dropped duplicates, got %d", requests, c.Stats().Dropped)
		}
		time.Sleep(time.Millisecond)
	}
	if stats := c.Stats(); stats.Pending != 0 || stats.MessagesSent != requests {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestRequestTimeoutIsolation(t *testing.T) {
	network := newMockNetwork()
	mock := clock.NewMock()
	c := newTestClient(t, network, mock, endpoints("a"), func(config *Config) {
		config.RequestTimeout = 5 * time.Second
	})
	m := connect(t, c, network)

	slowErr := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "slow")
		slowErr <- err
	}()
	slow := nextSent(t, m)

	mock.Add(3 * time.Second)

	fastRes := make(chan json.RawMessage, 1)
	go func() {
		res, err := c.Request(context.Background(), "fast")
		if err != nil {
			t.Error(err)
		}
		fastRes <- res
	}()
	fast := nextSent(t, m)

	mock.Add(2 * time.Second)

	select {
	case err := <-slowErr:
		if !errors.Is(err, ErrRequestTimeout) {
			t.Fatalf("expected timeout, got %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("slow request did not time out")
	}

	m.deliver(envelope.Envelope{Type: envelope.GenerateResponse, ID: fast.ID, Payload: json.RawMessage(`"ok"`)})
	select {
	case res := <-fastRes:
		if string(res) != `"ok"` {
			t.Fatalf("unexpected response %s", res)
		}
	case <-time.After(testTimeout):
		t.Fatal("fast request was not resolved")
	}

	// A late response for the expired request is dropped.
	m.deliver(envelope.Envelope{Type: envelope.GenerateResponse, ID: slow.ID})
	for deadline := time.Now().Add(testTimeout); c.Stats().Dropped != 1; {
		if time.Now().After(deadline) {
			t.Fatal("late response was not dropped")
		}
		time.Sleep(time.Millisecond)
	}

	if state := c.State(); state != Connected {
		t.Fatalf("timeout changed the state to %v", state)
	}
}

func TestRequestRemoteError(t *testing.T) {
	network := newMockNetwork()
	c := newTestClient(t, network, clock.NewMock(), endpoints("a"), nil)
	m := connect(t, c, network)

	errChan := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "x")
		errChan <- err
	}()
	req := nextSent(t, m)

	m.deliver(envelope.Envelope{Type: envelope.Error, ID: req.ID, Payload: json.RawMessage(`{"error":"model overloaded"}`)})

	var remoteErr *RemoteError
	if err := <-errChan; !errors.As(err, &remoteErr) {
		t.Fatalf("expected RemoteError, got %v", err)
	} else if remoteErr.ID != req.ID || remoteErr.Message != "model overloaded" {
		t.Fatalf("unexpected RemoteError %v", remoteErr)
	}
}

func TestRequestCancel(t *testing.T) {
	network := newMockNetwork()
	c := newTestClient(t, network, clock.NewMock(), endpoints("a"), nil)
	m := connect(t, c, network)

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)
	go func() {
		_, err := c.Request(ctx, "x")
		errChan <- err
	}()
	req := nextSent(t, m)

	cancel()
	if err := <-errChan; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if stats := c.Stats(); stats.Pending != 0 || stats.State != Connected {
		t.Fatalf("unexpected stats after cancel %+v", stats)
	}

	m.deliver(envelope.Envelope{Type: envelope.GenerateResponse, ID: req.ID})
	for deadline := time.Now().Add(testTimeout); c.Stats().Dropped != 1; {
		if time.Now().After(deadline) {
			t.Fatal("response of a canceled request was not dropped")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPingAndNetworkStats(t *testing.T) {
	network := newMockNetwork()
	c := newTestClient(t, network, clock.NewMock(), endpoints("a"), nil)
	m := connect(t, c, network)

	go func() {
		for i := 0; i < 2; i++ {
			env := <-m.sent
			switch env.Type {
			case envelope.Ping:
				m.deliver(envelope.Envelope{Type: envelope.Pong, ID: env.ID})
			case envelope.GetStats:
				m.deliver(envelope.Envelope{Type: envelope.Stats, ID: env.ID, Payload: json.RawMessage(`{"providers":3}`)})
			}
		}
	}()

	if _, err := c.Ping(context.Background()); err != nil {
		t.Fatal(err)
	}

	stats, err := c.NetworkStats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if string(stats) != `{"providers":3}` {
		t.Fatalf("unexpected stats %s", stats)
	}
}

func TestProtocolErrorKeepsConnection(t *testing.T) {
	network := newMockNetwork()
	c := newTestClient(t, network, clock.NewMock(), endpoints("a"), nil)
	m := connect(t, c, network)

	m.deliverRaw([]byte("this is not an envelope"))
	m.deliverRaw([]byte(`{"type":"stream_chunk","chunkType":"content"}`))

	waitEvent(t, c, ProtocolError)
	waitEvent(t, c, ProtocolError)

	if stats := c.Stats(); stats.ProtocolErrors != 2 || stats.State != Connected {
		t.Fatalf("unexpected stats %+v", stats)
	}

	errChan := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "x")
		errChan <- err
	}()
	req := nextSent(t, m)
	m.deliver(envelope.Envelope{Type: envelope.GenerateResponse, ID: req.ID})

	if err := <-errChan; err != nil {
		t.Fatal(err)
	}
}

func TestCloseWithoutReconnect(t *testing.T) {
	network := newMockNetwork()
	c := newTestClient(t, network, clock.NewMock(), endpoints("a"), nil)
	m := connect(t, c, network)

	errChan := make(chan error, 1)
	go func() {
		_, err := c.Request(context.Background(), "x")
		errChan <- err
	}()
	nextSent(t, m)

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}

	if err := <-errChan; !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if state := c.State(); state != Closed {
		t.Fatalf("expected closed state, got %v", state)
	}

	waitEvent(t, c, ClientClosed)
	if _, ok := <-c.Events(); ok {
		t.Fatal("events channel is still open")
	}

	if attempts := network.attempted(); len(attempts) != 1 {
		t.Fatalf("expected a single attempt, got %v", attempts)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on Connect, got %v", err)
	}
	if _, err := c.Request(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on Request, got %v", err)
	}
}

func TestCloseBeforeConnect(t *testing.T) {
	c := newTestClient(t, newMockNetwork(), clock.NewMock(), endpoints("a"), nil)

	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if state := c.State(); state != Closed {
		t.Fatalf("expected closed state, got %v", state)
	}
	waitEvent(t, c, ClientClosed)
}
