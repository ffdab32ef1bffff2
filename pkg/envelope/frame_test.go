// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestFrameSequence(t *testing.T) {
	var buff bytes.Buffer

	frames := make([][]byte, 0, 10)
	for i := 0; i < 10; i++ {
		frame := []byte(fmt.Sprintf(`{"type":"stream_chunk","streamId":"s","chunkType":"content","content":"%d"}`, i))
		frames = append(frames, frame)

		if err := WriteFrame(&buff, frame); err != nil {
			t.Fatal(err)
		}
	}

	reader := NewFrameReader(&buff)
	for i, expected := range frames {
		frame, err := reader.Next()
		if err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
		if !bytes.Equal(frame, expected) {
			t.Fatalf("frame %d: expected %s, got %s", i, expected, frame)
		}
	}

	if _, err := reader.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected EOF after the last frame, got %v", err)
	}
}

func TestFrameTruncated(t *testing.T) {
	var buff bytes.Buffer
	if err := WriteFrame(&buff, []byte(`{"type":"ping"}`)); err != nil {
		t.Fatal(err)
	}

	truncated := bytes.NewReader(buff.Bytes()[:buff.Len()-3])
	if _, err := NewFrameReader(truncated).Next(); err == nil {
		t.Fatal("expected an error for a truncated frame")
	}
}

func TestWriteEmptyFrame(t *testing.T) {
	if err := WriteFrame(io.Discard, nil); err == nil {
		t.Fatal("expected an error for an empty frame")
	}
}
