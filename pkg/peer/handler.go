// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Completion is the metadata of a finished stream.
type Completion struct {
	Receipt json.RawMessage
	Metrics json.RawMessage
}

// Handler computes the answers to requests. Payloads are opaque JSON.
type Handler interface {
	// Generate answers a single request.
	Generate(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)

	// GenerateStream answers a request by emitting content fragments. An
	// error from emit ends the stream.
	GenerateStream(ctx context.Context, payload json.RawMessage, emit func(string) error) (*Completion, error)
}

// EchoHandler answers with the request itself. Streams emit the payload's
// "prompt" word by word. A payload with a "fail" field is answered with that
// error, which lets clients exercise remote errors.
type EchoHandler struct {
	// Delay between two stream fragments.
	Delay time.Duration
}

type echoPayload struct {
	Prompt string `json:"prompt"`
	Fail   string `json:"fail"`
}

func parseEchoPayload(payload json.RawMessage) (p echoPayload) {
	if err := json.Unmarshal(payload, &p); err != nil {
		// Not an object; echo the raw value.
		var s string
		if json.Unmarshal(payload, &s) == nil {
			p.Prompt = s
		} else {
			p.Prompt = string(payload)
		}
	}
	return
}

func (h EchoHandler) Generate(_ context.Context, payload json.RawMessage) (json.RawMessage, error) {
	if p := parseEchoPayload(payload); p.Fail != "" {
		return nil, errors.New(p.Fail)
	}
	if len(payload) == 0 {
		return json.RawMessage("null"), nil
	}
	return payload, nil
}

func (h EchoHandler) GenerateStream(ctx context.Context, payload json.RawMessage, emit func(string) error) (*Completion, error) {
	p := parseEchoPayload(payload)
	if p.Fail != "" {
		return nil, errors.New(p.Fail)
	}

	start := time.Now()
	fragments := 0

	for _, word := range strings.SplitAfter(p.Prompt, " ") {
		if word == "" {
			continue
		}

		if h.Delay > 0 {
			select {
			case <-time.After(h.Delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := emit(word); err != nil {
			return nil, err
		}
		fragments++
	}

	receipt, _ := json.Marshal(map[string]interface{}{
		"handler":   "echo",
		"fragments": fragments,
	})
	metrics, _ := json.Marshal(map[string]interface{}{
		"characters": len(p.Prompt),
		"duration":   fmt.Sprint(time.Since(start)),
	})

	return &Completion{Receipt: receipt, Metrics: metrics}, nil
}
