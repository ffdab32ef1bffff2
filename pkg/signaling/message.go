// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package signaling

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"

	"github.com/quiver-network/quiver-go/pkg/envelope"
)

var (
	// ErrUnreachable is returned if no signaling server could be reached.
	ErrUnreachable = errors.New("no signaling server reachable")

	// ErrAnswerTimeout is returned if the remote did not answer in time.
	ErrAnswerTimeout = errors.New("signaling answer timed out")

	// ErrMalformedDescriptor marks a descriptor that must not be retried.
	ErrMalformedDescriptor = errors.New("malformed session descriptor")

	// ErrRejected is returned if the signaling server replied with an error.
	ErrRejected = errors.New("signaling rejected")

	// ErrChannelClosed is returned if the control channel ended mid-negotiation.
	ErrChannelClosed = errors.New("signaling channel closed")
)

// Message is exchanged over the control channel.
type Message struct {
	Type      envelope.Type            `json:"type"`
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
	Error     string                   `json:"error,omitempty"`

	// Set by client_join.
	UserAgent string `json:"userAgent,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`

	// Set by provider notices.
	ProviderID string          `json:"providerId,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func (msg Message) String() string {
	return fmt.Sprintf("Signal(%s)", msg.Type)
}

// decodeMessage parses a control channel message. Offers and answers must
// carry a parsable SDP and candidates a candidate.
func decodeMessage(data []byte) (msg Message, err error) {
	if err = json.Unmarshal(data, &msg); err != nil {
		err = fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
		return
	}

	switch msg.Type {
	case "":
		err = fmt.Errorf("%w: missing type", ErrMalformedDescriptor)

	case envelope.Offer, envelope.Answer:
		err = ValidateDescription(msg.SDP)

	case envelope.ICECandidate:
		if msg.Candidate == nil {
			err = fmt.Errorf("%w: ice_candidate without candidate", ErrMalformedDescriptor)
		}
	}
	return
}

// ValidateDescription checks that text is a parsable SDP session description.
func ValidateDescription(text string) error {
	if text == "" {
		return fmt.Errorf("%w: empty SDP", ErrMalformedDescriptor)
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal([]byte(text)); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDescriptor, err)
	}
	return nil
}
