// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package envelope

import (
	"bufio"
	"fmt"
	"io"

	"github.com/dtn7/cboring"
)

// MaxFrameSize bounds a single length-delimited frame.
const MaxFrameSize = 16 << 20

// WriteFrame writes data prefixed by a CBOR byte string header carrying its
// length. The frame is flushed before returning.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("refusing to write an empty frame")
	}
	if len(data) > MaxFrameSize {
		return fmt.Errorf("frame of %d bytes exceeds limit of %d", len(data), MaxFrameSize)
	}

	writer := bufio.NewWriter(w)
	if err := cboring.WriteByteStringLen(uint64(len(data)), writer); err != nil {
		return err
	}
	if _, err := writer.Write(data); err != nil {
		return err
	}
	return writer.Flush()
}

// FrameReader reads consecutive frames written by WriteFrame.
type FrameReader struct {
	reader *bufio.Reader
}

// NewFrameReader wraps r for frame-wise reading.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{reader: bufio.NewReader(r)}
}

// Next returns the next frame. io.EOF is returned if the stream ended
// cleanly between two frames; check with errors.Is.
func (fr *FrameReader) Next() ([]byte, error) {
	length, err := cboring.ReadByteStringLen(fr.reader)
	if err != nil {
		return nil, err
	}

	if length == 0 {
		return nil, &ProtocolError{Reason: "empty frame"}
	} else if length > MaxFrameSize {
		return nil, &ProtocolError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit", length)}
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(fr.reader, data); err != nil {
		return nil, fmt.Errorf("reading frame body: %w", err)
	}
	return data, nil
}
