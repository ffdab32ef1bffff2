// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package transport

import "fmt"

// StatusType indicates the kind of a Status.
type StatusType uint

const (
	_ StatusType = iota

	// MessageReceived carries one received frame. The Message's type must be
	// a []byte.
	MessageReceived

	// TransportClosed shows the end of the connection. The Message's type is
	// an error describing the reason, or nil for a local Close.
	TransportClosed
)

func (st StatusType) String() string {
	switch st {
	case MessageReceived:
		return "Message Received"
	case TransportClosed:
		return "Transport Closed"
	default:
		return "Unknown Type"
	}
}

// Status allows a Transport to report upwards via its return channel.
type Status struct {
	Sender      Transport
	MessageType StatusType
	Message     interface{}
}

func (s Status) String() string {
	return fmt.Sprintf("%v-Transport Status from %v", s.MessageType, s.Sender)
}

// Data returns the frame of a MessageReceived Status.
func (s Status) Data() []byte {
	data, _ := s.Message.([]byte)
	return data
}

// Reason returns the error of a TransportClosed Status.
func (s Status) Reason() error {
	err, _ := s.Message.(error)
	return err
}

// NewMessageReceived creates a Status for a received frame.
func NewMessageReceived(sender Transport, data []byte) Status {
	return Status{
		Sender:      sender,
		MessageType: MessageReceived,
		Message:     data,
	}
}

// NewTransportClosed creates a Status for a finished connection.
func NewTransportClosed(sender Transport, reason error) Status {
	return Status{
		Sender:      sender,
		MessageType: TransportClosed,
		Message:     reason,
	}
}
