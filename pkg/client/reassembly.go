// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package client

import (
	"context"
	"encoding/json"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/envelope"
)

// StreamResult is the outcome of a completed stream.
type StreamResult struct {
	// Completion is the concatenation of all content chunks.
	Completion string

	// Receipt and Metrics are carried by the terminal chunk, if at all.
	Receipt json.RawMessage
	Metrics json.RawMessage
}

type streamOutcome struct {
	result *StreamResult
	err    error
}

// streamSession accumulates the chunks of one stream. Like a pendingRequest,
// it is removed exactly once and its remover delivers on done.
type streamSession struct {
	id      string
	buffer  strings.Builder
	chunks  int
	onChunk func(string)
	done    chan streamOutcome
}

// RequestStream sends payload as a generate_stream request. onChunk is
// called with each new content fragment, in order, on the goroutine
// dispatching incoming messages; it must not block. The call returns after
// the terminal chunk. Streams have no timeout besides ctx.
func (c *Client) RequestStream(ctx context.Context, payload interface{}, onChunk func(string)) (*StreamResult, error) {
	id := c.newID("stream")

	env, err := envelope.New(envelope.GenerateStream, id, payload)
	if err != nil {
		return nil, err
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return nil, err
	}

	if onChunk == nil {
		onChunk = func(string) {}
	}
	session := &streamSession{
		id:      id,
		onChunk: onChunk,
		done:    make(chan streamOutcome, 1),
	}

	c.mutex.Lock()
	active, err := c.activeLocked()
	if err != nil {
		c.mutex.Unlock()
		return nil, err
	}
	c.streams[id] = session
	c.mutex.Unlock()

	if err := c.send(active, env, data); err != nil {
		if c.removeStream(id) != nil {
			return nil, err
		}
		outcome := <-session.done
		return outcome.result, outcome.err
	}

	select {
	case outcome := <-session.done:
		return outcome.result, outcome.err

	case <-ctx.Done():
		if c.removeStream(id) != nil {
			return nil, ctx.Err()
		}
		outcome := <-session.done
		return outcome.result, outcome.err
	}
}

func (c *Client) removeStream(id string) *streamSession {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	session, ok := c.streams[id]
	if !ok {
		return nil
	}
	delete(c.streams, id)
	return session
}

// handleChunk routes a stream_chunk to its session. Chunks of unknown or
// finished streams are dropped.
func (c *Client) handleChunk(env envelope.Envelope) bool {
	switch env.ChunkType {
	case envelope.ChunkContent:
		c.mutex.Lock()
		session, ok := c.streams[env.StreamID]
		if ok {
			session.buffer.WriteString(env.Content)
			session.chunks++
		}
		c.mutex.Unlock()

		if !ok {
			return false
		}
		session.onChunk(env.Content)
		return true

	case envelope.ChunkComplete:
		session := c.removeStream(env.StreamID)
		if session == nil {
			return false
		}

		// The completion is built from content chunks only. Peers may repeat
		// the full text in the complete chunk, which is ignored.
		c.log().WithFields(log.Fields{
			"stream": session.id,
			"chunks": session.chunks,
		}).Debug("Stream completed")

		session.done <- streamOutcome{result: &StreamResult{
			Completion: session.buffer.String(),
			Receipt:    env.Receipt,
			Metrics:    env.Metrics,
		}}
		return true

	case envelope.ChunkError:
		return c.rejectStream(env.StreamID, env)

	default:
		return false
	}
}

func (c *Client) rejectStream(id string, env envelope.Envelope) bool {
	session := c.removeStream(id)
	if session == nil {
		return false
	}

	session.done <- streamOutcome{err: &RemoteError{ID: id, Message: env.ErrorText()}}
	return true
}
