// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package internal

import "github.com/quic-go/quic-go"

const (
	// ApplicationShutdown is sent when either side closes on purpose.
	ApplicationShutdown quic.ApplicationErrorCode = 1

	// StreamTransmissionError cancels a stream whose frames could not be
	// written or read.
	StreamTransmissionError quic.StreamErrorCode = 1
	// MalformedFrameError cancels a stream carrying an invalid frame.
	MalformedFrameError quic.StreamErrorCode = 2
)

// StreamError wraps a failure on a single request stream together with the
// code it was cancelled with.
type StreamError struct {
	Msg   string
	Code  quic.StreamErrorCode
	Cause error
}

func NewStreamError(message string, code quic.StreamErrorCode, cause error) *StreamError {
	return &StreamError{
		Msg:   message,
		Code:  code,
		Cause: cause,
	}
}

func (err *StreamError) Error() string {
	if err.Cause != nil {
		return err.Msg + ": " + err.Cause.Error()
	}
	return err.Msg
}

func (err *StreamError) Unwrap() error {
	return err.Cause
}
