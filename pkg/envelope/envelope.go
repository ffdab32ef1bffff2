// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package envelope

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type names the kind of an Envelope.
type Type string

const (
	Generate         Type = "generate"
	GenerateStream   Type = "generate_stream"
	GenerateResponse Type = "generate_response"
	StreamChunk      Type = "stream_chunk"
	Error            Type = "error"

	Ping     Type = "ping"
	Pong     Type = "pong"
	GetStats Type = "get_stats"
	Stats    Type = "stats"

	// Signaling-only types, exchanged over the control channel.
	Offer             Type = "offer"
	Answer            Type = "answer"
	ICECandidate      Type = "ice_candidate"
	ClientJoin        Type = "client_join"
	ProvidersList     Type = "providers_list"
	ProviderAvailable Type = "provider_available"
)

// ChunkType distinguishes the chunks of a stream.
type ChunkType string

const (
	ChunkContent  ChunkType = "content"
	ChunkComplete ChunkType = "complete"
	ChunkError    ChunkType = "error"
)

// Envelope is the message unit exchanged over every transport.
type Envelope struct {
	Type      Type            `json:"type"`
	ID        string          `json:"id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	StreamID  string          `json:"streamId,omitempty"`
	ChunkType ChunkType       `json:"chunkType,omitempty"`
	Content   string          `json:"content,omitempty"`
	Error     string          `json:"error,omitempty"`
	Receipt   json.RawMessage `json:"receipt,omitempty"`
	Metrics   json.RawMessage `json:"metrics,omitempty"`
}

func (env Envelope) String() string {
	switch {
	case env.StreamID != "":
		return fmt.Sprintf("Envelope(type=%s, stream=%s, chunk=%s)", env.Type, env.StreamID, env.ChunkType)
	case env.ID != "":
		return fmt.Sprintf("Envelope(type=%s, id=%s)", env.Type, env.ID)
	default:
		return fmt.Sprintf("Envelope(type=%s)", env.Type)
	}
}

// ErrProtocol is matched by every ProtocolError.
var ErrProtocol = errors.New("protocol error")

// ProtocolError describes a malformed envelope. The message carrying it is
// dropped; the connection stays up.
type ProtocolError struct {
	Reason string
	Cause  error
}

func (err *ProtocolError) Error() string {
	if err.Cause != nil {
		return fmt.Sprintf("protocol error: %s: %v", err.Reason, err.Cause)
	}
	return fmt.Sprintf("protocol error: %s", err.Reason)
}

func (err *ProtocolError) Unwrap() error {
	return err.Cause
}

func (err *ProtocolError) Is(target error) bool {
	return target == ErrProtocol
}

// New creates an Envelope of the given type, id and JSON-encoded payload.
// A nil payload is omitted.
func New(t Type, id string, payload interface{}) (Envelope, error) {
	env := Envelope{Type: t, ID: id}
	if payload == nil {
		return env, nil
	}

	if raw, ok := payload.(json.RawMessage); ok {
		env.Payload = raw
		return env, nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return env, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	env.Payload = data
	return env, nil
}

// Encode serializes an Envelope to JSON.
func Encode(env Envelope) ([]byte, error) {
	if env.Type == "" {
		return nil, &ProtocolError{Reason: "missing type"}
	}
	return json.Marshal(env)
}

// Decode parses and validates a single envelope.
func Decode(data []byte) (env Envelope, err error) {
	if err = json.Unmarshal(data, &env); err != nil {
		err = &ProtocolError{Reason: "undecodable envelope", Cause: err}
		return
	}

	if env.Type == "" {
		err = &ProtocolError{Reason: "missing type"}
		return
	}

	if env.Type == StreamChunk {
		if env.StreamID == "" {
			err = &ProtocolError{Reason: "stream_chunk without streamId"}
			return
		}

		switch env.ChunkType {
		case ChunkContent, ChunkComplete, ChunkError:
		default:
			err = &ProtocolError{Reason: fmt.Sprintf("unknown chunkType %q", env.ChunkType)}
			return
		}
	}

	return
}

// ErrorText returns the error message an error envelope or error chunk
// carries. Peers put it either in the "error" field or, as some gateways
// do, in payload.error.
func (env Envelope) ErrorText() string {
	if env.Error != "" {
		return env.Error
	}

	if len(env.Payload) > 0 {
		var wrapped struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(env.Payload, &wrapped) == nil && wrapped.Error != "" {
			return wrapped.Error
		}
	}

	return "unspecified remote error"
}
