// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package signaling

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-multierror"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/envelope"
)

// UserAgent is announced in client_join.
const UserAgent = "quiver-go"

type inbound struct {
	msg Message
	err error
}

// Channel is the control channel to a signaling server.
type Channel struct {
	url  string
	conn *websocket.Conn

	writeMutex sync.Mutex

	inbound   chan inbound
	done      chan struct{}
	closeOnce sync.Once
}

// Dial connects to the first reachable signaling server out of urls, trying
// them in the given order, and announces this client by a client_join.
func Dial(ctx context.Context, urls []string, dialer *websocket.Dialer) (*Channel, error) {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	var errs error
	for _, url := range urls {
		conn, _, err := dialer.DialContext(ctx, url, nil)
		if err != nil {
			log.WithFields(log.Fields{
				"url":   url,
				"error": err,
			}).Debug("Signaling server unreachable, trying next one")

			errs = multierror.Append(errs, fmt.Errorf("%s: %w", url, err))

			if ctx.Err() != nil {
				break
			}
			continue
		}

		ch := &Channel{
			url:     url,
			conn:    conn,
			inbound: make(chan inbound, 64),
			done:    make(chan struct{}),
		}
		go ch.handleConn()

		join := Message{
			Type:      envelope.ClientJoin,
			UserAgent: UserAgent,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := ch.Send(join); err != nil {
			_ = ch.Close()
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", url, err))
			continue
		}

		log.WithField("url", url).Debug("Connected to signaling server")
		return ch, nil
	}

	if errs == nil {
		return nil, fmt.Errorf("%w: no URLs configured", ErrUnreachable)
	}
	return nil, fmt.Errorf("%w: %v", ErrUnreachable, errs)
}

// URL of the connected signaling server.
func (ch *Channel) URL() string {
	return ch.url
}

// Send a Message to the signaling server.
func (ch *Channel) Send(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ch.writeMutex.Lock()
	defer ch.writeMutex.Unlock()

	if err := ch.conn.SetWriteDeadline(time.Now().Add(10 * time.Second)); err != nil {
		return err
	}
	return ch.conn.WriteMessage(websocket.TextMessage, data)
}

// Close the control channel. Only the negotiation needs it, an established
// peer channel outlives it.
func (ch *Channel) Close() (err error) {
	ch.closeOnce.Do(func() {
		close(ch.done)

		ch.writeMutex.Lock()
		_ = ch.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		ch.writeMutex.Unlock()

		err = ch.conn.Close()
	})
	return
}

func (ch *Channel) deliver(in inbound) bool {
	select {
	case ch.inbound <- in:
		return true
	case <-ch.done:
		return false
	}
}

func (ch *Channel) handleConn() {
	defer close(ch.inbound)

	for {
		_, data, err := ch.conn.ReadMessage()
		if err != nil {
			select {
			case <-ch.done:
			default:
				ch.deliver(inbound{err: fmt.Errorf("%w: %v", ErrChannelClosed, err)})
			}
			return
		}

		msg, err := decodeMessage(data)
		if err != nil {
			log.WithFields(log.Fields{
				"url":   ch.url,
				"error": err,
			}).Warn("Received malformed signaling message")
		}

		if !ch.deliver(inbound{msg: msg, err: err}) {
			return
		}
	}
}
