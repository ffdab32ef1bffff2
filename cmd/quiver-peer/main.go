// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/peer"
)

// waitSigint blocks the current thread until a SIGINT appears.
func waitSigint() {
	signalSyn := make(chan os.Signal, 1)
	signalAck := make(chan struct{})

	signal.Notify(signalSyn, os.Interrupt)

	go func() {
		<-signalSyn
		close(signalAck)
	}()

	<-signalAck
}

func main() {
	if len(os.Args) != 2 {
		_, _ = fmt.Fprintf(os.Stderr, "Usage: %s configuration.toml\n", os.Args[0])
		os.Exit(1)
	}

	conf, err := parseConfig(os.Args[1])
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	server := peer.NewServer(conf)
	if err := server.Start(); err != nil {
		log.WithError(err).Fatal("Starting the peer errored")
	}

	log.WithFields(log.Fields{
		"id":   conf.ID,
		"http": server.HTTPAddr(),
		"quic": server.QUICAddr(),
	}).Info("Peer is running")

	waitSigint()
	log.Info("Shutting down..")

	if err := server.Close(); err != nil {
		log.WithError(err).Warn("Closing the peer errored")
	}
}
