// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestSortEndpoints(t *testing.T) {
	endpoints := []Endpoint{
		{Kind: Socket, Address: "ws://c", Priority: 2},
		{Kind: QUIC, Address: "a:4433", Priority: 0},
		{Kind: PeerChannel, Address: "b", Priority: 1},
		{Kind: Socket, Address: "ws://d", Priority: 1},
	}

	sorted := SortEndpoints(endpoints)
	addresses := make([]string, len(sorted))
	for i, e := range sorted {
		addresses[i] = e.Address
	}

	if expected := []string{"a:4433", "b", "ws://d", "ws://c"}; !reflect.DeepEqual(addresses, expected) {
		t.Fatalf("expected %v, got %v", expected, addresses)
	}

	if endpoints[0].Address != "ws://c" {
		t.Fatal("SortEndpoints modified its input")
	}
}

func TestParseKind(t *testing.T) {
	tests := map[string]Kind{
		"quic":         QUIC,
		"WebTransport": QUIC,
		"webrtc":       PeerChannel,
		" websocket ":  Socket,
		"wss":          Socket,
	}
	for in, expected := range tests {
		if k, err := ParseKind(in); err != nil {
			t.Fatal(err)
		} else if k != expected {
			t.Fatalf("%q: expected %v, got %v", in, expected, k)
		}
	}

	if _, err := ParseKind("carrier-pigeon"); err == nil {
		t.Fatal("expected an error for an unknown kind")
	}
}

type nopTransport struct{}

func (nopTransport) Open(context.Context) error { return nil }
func (nopTransport) Send([]byte) error          { return nil }
func (nopTransport) Channel() chan Status       { return nil }
func (nopTransport) Close() error               { return nil }
func (nopTransport) Endpoint() Endpoint         { return Endpoint{} }

func TestReporterClosesOnce(t *testing.T) {
	r := NewReporter(4)
	sender := nopTransport{}

	if !r.Message(sender, []byte("one")) {
		t.Fatal("message before close was discarded")
	}

	reason := errors.New("peer went away")
	if !r.Closed(sender, reason) {
		t.Fatal("first Closed call had no effect")
	}
	if r.Closed(sender, nil) {
		t.Fatal("second Closed call had an effect")
	}
	if r.Message(sender, []byte("late")) {
		t.Fatal("message after close was accepted")
	}

	var statuses []Status
	for s := range r.Channel() {
		statuses = append(statuses, s)
	}

	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if statuses[0].MessageType != MessageReceived || string(statuses[0].Data()) != "one" {
		t.Fatalf("unexpected first status %v", statuses[0])
	}
	if statuses[1].MessageType != TransportClosed || statuses[1].Reason() != reason {
		t.Fatalf("unexpected second status %v", statuses[1])
	}
}
