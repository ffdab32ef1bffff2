// SPDX-FileCopyrightText: 2025 The QUIVer Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/quiver-network/quiver-go/pkg/client"
)

// watcher logs the Client's events and reloads its endpoints whenever the
// configuration file changes.
type watcher struct {
	filename  string
	client    *client.Client
	fsWatcher *fsnotify.Watcher
	closeChan chan struct{}
	doneChan  chan struct{}
}

func newWatcher(filename string, c *client.Client) (*watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Editors often replace files, so the directory is watched.
	if err := fsWatcher.Add(filepath.Dir(filename)); err != nil {
		_ = fsWatcher.Close()
		return nil, err
	}

	w := &watcher{
		filename:  filepath.Clean(filename),
		client:    c,
		fsWatcher: fsWatcher,
		closeChan: make(chan struct{}),
		doneChan:  make(chan struct{}),
	}
	go w.handler()

	return w, nil
}

func (w *watcher) Close() {
	close(w.closeChan)
	<-w.doneChan
}

func (w *watcher) handler() {
	defer func() {
		_ = w.fsWatcher.Close()
		close(w.doneChan)
	}()

	events := w.client.Events()

	for {
		select {
		case <-w.closeChan:
			return

		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}

			log.WithFields(log.Fields{
				"event": e.Type,
				"error": e.Err,
			}).Info(e.String())

		case e, ok := <-w.fsWatcher.Events:
			if !ok {
				log.Error("fsnotify's Event channel was closed")
				return
			}

			if filepath.Clean(e.Name) != w.filename || e.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}

			w.reload()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				log.Error("fsnotify's Errors channel was closed")
				return
			}

			log.WithError(err).Error("fsnotify errored")
		}
	}
}

func (w *watcher) reload() {
	endpoints, err := parseEndpointFile(w.filename)
	if err != nil {
		log.WithFields(log.Fields{
			"file":  w.filename,
			"error": err,
		}).Warn("Ignoring invalid configuration change")
		return
	}

	if err := w.client.SetEndpoints(endpoints); err != nil {
		log.WithError(err).Warn("Updating endpoints errored")
		return
	}

	log.WithFields(log.Fields{
		"file":      w.filename,
		"endpoints": endpoints,
	}).Info("Reloaded endpoints")
}
