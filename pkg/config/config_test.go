// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func TestDecode(t *testing.T) {
	const data = `
timeout = "1500ms"

[logging]
level = "debug"
report-caller = true
format = "json"

[[ice-server]]
urls = ["stun:stun.example.org:3478"]

[[ice-server]]
urls = ["turn:turn.example.org:3478"]
username = "user"
credential = "secret"
`

	var conf struct {
		Timeout   Duration
		Logging   LogConf
		ICEServer []ICEServerConf `toml:"ice-server"`
	}
	if _, err := toml.Decode(data, &conf); err != nil {
		t.Fatal(err)
	}

	if conf.Timeout.Duration != 1500*time.Millisecond {
		t.Fatalf("unexpected timeout %v", conf.Timeout)
	}
	if conf.Logging.Level != "debug" || !conf.Logging.ReportCaller || conf.Logging.Format != "json" {
		t.Fatalf("unexpected logging block %+v", conf.Logging)
	}

	servers, err := ICEServers(conf.ICEServer)
	if err != nil {
		t.Fatal(err)
	}
	if len(servers) != 2 || servers[1].Username != "user" {
		t.Fatalf("unexpected ICE servers %+v", servers)
	}
}

func TestICEServerWithoutURLs(t *testing.T) {
	if _, err := ICEServers([]ICEServerConf{{Username: "user"}}); err == nil {
		t.Fatal("ICE server without urls was accepted")
	}
}

func TestInvalidDuration(t *testing.T) {
	var conf struct{ Timeout Duration }
	if _, err := toml.Decode(`timeout = "soon"`, &conf); err == nil {
		t.Fatal("invalid duration was accepted")
	}
}
