// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/client"
)

// printUsage of quiver-client and exit with an error code afterwards.
func printUsage() {
	_, _ = fmt.Fprintf(os.Stderr, "Usage of %s configuration.toml generate|stream|ping|stats|watch [prompt]:\n\n", os.Args[0])

	_, _ = fmt.Fprintf(os.Stderr, "%s configuration.toml generate prompt\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends the prompt as a single request and prints the response.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s configuration.toml stream prompt\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Sends the prompt as a streaming request and prints each chunk on arrival.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s configuration.toml ping|stats\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Measures the round trip time or asks the peer for its health report.\n\n")

	_, _ = fmt.Fprintf(os.Stderr, "%s configuration.toml watch\n", os.Args[0])
	_, _ = fmt.Fprintf(os.Stderr, "  Stays connected, logs connection events and reloads the endpoints on\n")
	_, _ = fmt.Fprintf(os.Stderr, "  changes of the configuration file until SIGINT.\n\n")

	os.Exit(1)
}

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
	if len(os.Args) < 3 {
		printUsage()
	}

	filename, command, args := os.Args[1], os.Args[2], os.Args[3:]

	conf, err := parseConfig(filename)
	if err != nil {
		log.WithError(err).Fatal("Failed to parse config")
	}

	c, err := client.New(conf)
	if err != nil {
		log.WithError(err).Fatal("Creating client errored")
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		log.WithError(err).Fatal("Connecting errored")
	}

	switch command {
	case "generate":
		runGenerate(ctx, c, args)
	case "stream":
		runStream(ctx, c, args)
	case "ping":
		runPing(ctx, c)
	case "stats":
		runStats(ctx, c)
	case "watch":
		runWatch(filename, c)
	default:
		printUsage()
	}
}

func promptPayload(args []string) map[string]string {
	if len(args) == 0 {
		printUsage()
	}
	return map[string]string{"prompt": strings.Join(args, " ")}
}

func runGenerate(ctx context.Context, c *client.Client, args []string) {
	res, err := c.Request(ctx, promptPayload(args))
	if err != nil {
		log.WithError(err).Fatal("Request errored")
	}

	fmt.Println(string(res))
}

func runStream(ctx context.Context, c *client.Client, args []string) {
	result, err := c.RequestStream(ctx, promptPayload(args), func(chunk string) {
		fmt.Print(chunk)
	})
	fmt.Println()
	if err != nil {
		log.WithError(err).Fatal("Stream errored")
	}

	log.WithFields(log.Fields{
		"receipt": string(result.Receipt),
		"metrics": string(result.Metrics),
	}).Info("Stream completed")
}

func runPing(ctx context.Context, c *client.Client) {
	rtt, err := c.Ping(ctx)
	if err != nil {
		log.WithError(err).Fatal("Ping errored")
	}

	peer := "unknown peer"
	if endpoint := c.Stats().ActiveEndpoint; endpoint != nil {
		peer = endpoint.String()
	}

	fmt.Printf("pong from %s in %v\n", peer, rtt.Round(time.Microsecond))
}

func runStats(ctx context.Context, c *client.Client) {
	remote, err := c.NetworkStats(ctx)
	if err != nil {
		log.WithError(err).Fatal("Requesting stats errored")
	}

	out, err := json.MarshalIndent(map[string]interface{}{
		"local":  c.Stats(),
		"remote": remote,
	}, "", "  ")
	if err != nil {
		log.WithError(err).Fatal("Encoding stats errored")
	}

	fmt.Println(string(out))
}

func runWatch(filename string, c *client.Client) {
	w, err := newWatcher(filename, c)
	if err != nil {
		log.WithError(err).Fatal("Watching the configuration errored")
	}

	waitSigint()
	log.Info("Shutting down..")

	w.Close()
}
