// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package peer

import (
	"context"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/envelope"
	"github.com/quiver-network/quiver-go/pkg/transport"
)

// session speaks the envelope protocol over one client connection, no matter
// which transport carries it.
type session struct {
	server *Server
	kind   transport.Kind
	send   func([]byte) error
}

func (s *session) log() *log.Entry {
	return log.WithField("session", s.kind)
}

func (s *session) reply(env envelope.Envelope) {
	data, err := envelope.Encode(env)
	if err != nil {
		s.log().WithError(err).Warn("Failed to encode reply")
		return
	}

	if err := s.send(data); err != nil {
		s.log().WithFields(log.Fields{
			"envelope": env,
			"error":    err,
		}).Debug("Failed to send reply")
	}
}

// handle one received frame. It blocks until the request is answered.
func (s *session) handle(ctx context.Context, data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		s.log().WithError(err).Warn("Dropping malformed message")
		return
	}

	switch env.Type {
	case envelope.Generate:
		atomic.AddUint64(&s.server.requests, 1)
		s.handleGenerate(ctx, env)

	case envelope.GenerateStream:
		atomic.AddUint64(&s.server.streams, 1)
		s.handleGenerateStream(ctx, env)

	case envelope.Ping:
		s.reply(envelope.Envelope{Type: envelope.Pong, ID: env.ID})

	case envelope.GetStats:
		stats, err := envelope.New(envelope.Stats, env.ID, s.server.Stats())
		if err != nil {
			s.reply(envelope.Envelope{Type: envelope.Error, ID: env.ID, Error: err.Error()})
			return
		}
		s.reply(stats)

	default:
		s.reply(envelope.Envelope{Type: envelope.Error, ID: env.ID, Error: "unsupported message type " + string(env.Type)})
	}
}

func (s *session) handleGenerate(ctx context.Context, env envelope.Envelope) {
	payload, err := s.server.config.Handler.Generate(ctx, env.Payload)
	if err != nil {
		s.reply(envelope.Envelope{Type: envelope.Error, ID: env.ID, Error: err.Error()})
		return
	}

	s.reply(envelope.Envelope{Type: envelope.GenerateResponse, ID: env.ID, Payload: payload})
}

func (s *session) handleGenerateStream(ctx context.Context, env envelope.Envelope) {
	emit := func(content string) error {
		data, err := envelope.Encode(envelope.Envelope{
			Type:      envelope.StreamChunk,
			StreamID:  env.ID,
			ChunkType: envelope.ChunkContent,
			Content:   content,
		})
		if err != nil {
			return err
		}
		return s.send(data)
	}

	completion, err := s.server.config.Handler.GenerateStream(ctx, env.Payload, emit)
	if err != nil {
		s.reply(envelope.Envelope{
			Type:      envelope.StreamChunk,
			StreamID:  env.ID,
			ChunkType: envelope.ChunkError,
			Error:     err.Error(),
		})
		return
	}

	complete := envelope.Envelope{
		Type:      envelope.StreamChunk,
		StreamID:  env.ID,
		ChunkType: envelope.ChunkComplete,
	}
	if completion != nil {
		complete.Receipt = completion.Receipt
		complete.Metrics = completion.Metrics
	}
	s.reply(complete)
}
