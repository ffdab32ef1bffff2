// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package signaling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"

	"github.com/quiver-network/quiver-go/pkg/envelope"
)

type recordingSender struct {
	mutex sync.Mutex
	sent  []Message
}

func (s *recordingSender) Send(msg Message) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.sent = append(s.sent, msg)
	return nil
}

func (s *recordingSender) types() (types []envelope.Type) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	for _, msg := range s.sent {
		types = append(types, msg.Type)
	}
	return
}

func TestSessionOfferBeforeCandidates(t *testing.T) {
	sender := &recordingSender{}
	session := NewSession(sender, &fakePeer{}, clock.NewMock(), time.Second)

	if err := session.SendCandidate(candidate(0)); err != nil {
		t.Fatal(err)
	}
	if err := session.SendOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}); err != nil {
		t.Fatal(err)
	}
	if err := session.SendCandidate(candidate(1)); err != nil {
		t.Fatal(err)
	}

	expected := []envelope.Type{envelope.Offer, envelope.ICECandidate, envelope.ICECandidate}
	types := sender.types()
	if len(types) != len(expected) {
		t.Fatalf("expected %v, got %v", expected, types)
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Fatalf("expected %v, got %v", expected, types)
		}
	}
}

func TestSessionAnswer(t *testing.T) {
	peer := &fakePeer{}
	session := NewSession(&recordingSender{}, peer, clock.NewMock(), time.Second)
	if err := session.SendOffer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}); err != nil {
		t.Fatal(err)
	}

	in := make(chan inbound, 8)
	c0, c1 := candidate(0), candidate(1)
	in <- inbound{msg: Message{Type: envelope.ICECandidate, Candidate: &c0}}
	in <- inbound{msg: Message{Type: envelope.Answer, SDP: testSDP}}
	in <- inbound{msg: Message{Type: envelope.ICECandidate, Candidate: &c1}}

	ctx, cancel := context.WithCancel(context.Background())
	answered := make(chan struct{})
	errc := make(chan error, 1)
	go func() { errc <- session.run(ctx, in, answered) }()

	select {
	case <-answered:
	case err := <-errc:
		t.Fatalf("session ended before answer: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("no answer")
	}

	for deadline := time.Now().Add(5 * time.Second); len(peer.applied()) < 2; {
		if time.Now().After(deadline) {
			t.Fatalf("candidates were not applied: %v", peer.applied())
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	if err := <-errc; err != nil {
		t.Fatal(err)
	}
}

func TestSessionAnswerTimeout(t *testing.T) {
	mock := clock.NewMock()
	session := NewSession(&recordingSender{}, &fakePeer{}, mock, time.Second)

	in := make(chan inbound)
	errc := make(chan error, 1)
	go func() { errc <- session.run(context.Background(), in, make(chan struct{})) }()

	for deadline := time.Now().Add(5 * time.Second); ; {
		mock.Add(time.Second)

		select {
		case err := <-errc:
			if !errors.Is(err, ErrAnswerTimeout) {
				t.Fatalf("expected answer timeout, got %v", err)
			}
			return
		case <-time.After(time.Millisecond):
		}

		if time.Now().After(deadline) {
			t.Fatal("answer timeout did not fire")
		}
	}
}

func TestSessionRejected(t *testing.T) {
	session := NewSession(&recordingSender{}, &fakePeer{}, clock.NewMock(), time.Second)

	in := make(chan inbound, 1)
	in <- inbound{msg: Message{Type: envelope.Error, Error: "no provider"}}

	err := session.run(context.Background(), in, make(chan struct{}))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("expected rejection, got %v", err)
	}
}

func TestSessionChannelClosedBeforeAnswer(t *testing.T) {
	session := NewSession(&recordingSender{}, &fakePeer{}, clock.NewMock(), time.Second)

	in := make(chan inbound)
	close(in)

	if err := session.run(context.Background(), in, make(chan struct{})); !errors.Is(err, ErrChannelClosed) {
		t.Fatalf("expected closed channel, got %v", err)
	}
}

func webrtcOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: testSDP}
}
