// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"os"
	"testing"
	"time"

	"github.com/quiver-network/quiver-go/pkg/client"
	"github.com/quiver-network/quiver-go/pkg/transport"
)

func TestWatcherReloadsEndpoints(t *testing.T) {
	filename := writeConfig(t, exampleConfig)

	conf, err := parseConfig(filename)
	if err != nil {
		t.Fatal(err)
	}

	c, err := client.New(conf)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	w, err := newWatcher(filename, c)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Close()

	// Invalid changes are ignored.
	if err := os.WriteFile(filename, []byte("[[endpoint]]\nkind = \"smoke-signal\"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	updated := "[[endpoint]]\nkind = \"websocket\"\naddress = \"ws://other.example.org/ws\"\n"
	if err := os.WriteFile(filename, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}

	for deadline := time.Now().Add(5 * time.Second); ; {
		endpoints := c.Endpoints()
		if len(endpoints) == 1 && endpoints[0].Kind == transport.Socket {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("endpoints were not reloaded: %v", endpoints)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
