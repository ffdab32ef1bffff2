// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package client implements the resilient streaming client.
//
// A Client negotiates one transport out of a list of prioritized endpoints,
// strictly one endpoint after another. On top of it, requests are correlated
// with their responses by id and chunked streams are reassembled. When the
// transport is lost, all pending work is rejected with ErrConnectionLost and
// the Client reconnects, starting over at the first endpoint after an
// exponential backoff delay.
//
//	c, err := client.New(client.Config{Endpoints: endpoints})
//	if err != nil { ... }
//	defer c.Close()
//
//	if err := c.Connect(ctx); err != nil { ... }
//	result, err := c.RequestStream(ctx, payload, func(chunk string) {
//		fmt.Print(chunk)
//	})
//
// All timers, including request timeouts and backoff delays, use the
// Config's clock.Clock.
package client
