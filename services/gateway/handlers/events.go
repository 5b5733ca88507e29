// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAds/services/adsapi/events"
	"github.com/AleutianAI/AleutianAds/services/gateway/observability"
)

const (
	// eventQueueSize bounds the events buffered for one slow client.
	eventQueueSize = 64

	streamWriteWait    = 10 * time.Second
	streamPingInterval = 30 * time.Second
)

// Frame types sent on the event stream.
const (
	FrameReady = "ready"
	FrameEvent = "event"
)

// StreamFrame is one message on /v1/events/ws. The first frame is always
// "ready", sent once the subscription is live and any replay is done.
type StreamFrame struct {
	Type         string        `json:"type"`
	Subscription string        `json:"subscription,omitempty"`
	Replayed     int           `json:"replayed,omitempty"`
	Event        *events.Event `json:"event,omitempty"`
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleEventStream pushes access layer events to a WebSocket client.
//
// Description:
//
//	Query parameters:
//	  topics - comma-separated topic filter; empty means all topics
//	  since  - RFC 3339 time; buffered events after it are replayed first
//
//	Events are queued per connection. When a client falls behind and its
//	queue is full, further events are dropped and counted rather than
//	blocking the publisher.
func HandleEventStream(bus *events.Bus, metrics *observability.HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		topics, err := parseTopics(c.Query("topics"))
		if err != nil {
			badRequest(c, err)
			return
		}
		var since time.Time
		if raw := c.Query("since"); raw != "" {
			if since, err = time.Parse(time.RFC3339, raw); err != nil {
				badRequest(c, fmt.Errorf("since: %w", err))
				return
			}
		}

		ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Warn("event stream upgrade failed", "error", err)
			return
		}
		defer ws.Close()

		metrics.StreamOpened()
		defer metrics.StreamClosed()

		queue := make(chan events.Event, eventQueueSize)
		subID := bus.Subscribe(func(e *events.Event) {
			select {
			case queue <- *e:
			default:
				metrics.EventDropped()
			}
		}, topics...)
		defer bus.Unsubscribe(subID)

		replayed := make(map[string]struct{})
		if !since.IsZero() {
			for _, e := range bus.RecentSince(since) {
				if len(topics) > 0 && !slices.Contains(topics, e.Topic) {
					continue
				}
				if err := writeFrame(ws, StreamFrame{Type: FrameEvent, Event: &e}); err != nil {
					return
				}
				replayed[e.ID] = struct{}{}
			}
		}
		if err := writeFrame(ws, StreamFrame{Type: FrameReady, Subscription: subID, Replayed: len(replayed)}); err != nil {
			return
		}
		slog.Info("event stream opened", "subscription", subID, "topics", topics, "replayed", len(replayed))

		// The client never sends data frames; reading only surfaces the close.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := ws.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(streamPingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				slog.Info("event stream closed", "subscription", subID)
				return
			case e := <-queue:
				if _, dup := replayed[e.ID]; dup {
					continue
				}
				if err := writeFrame(ws, StreamFrame{Type: FrameEvent, Event: &e}); err != nil {
					slog.Info("event stream write failed", "subscription", subID, "error", err)
					return
				}
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
					return
				}
			}
		}
	}
}

func writeFrame(ws *websocket.Conn, frame StreamFrame) error {
	if err := ws.SetWriteDeadline(time.Now().Add(streamWriteWait)); err != nil {
		return err
	}
	return ws.WriteJSON(frame)
}

func parseTopics(raw string) ([]events.Topic, error) {
	if raw == "" {
		return nil, nil
	}
	var topics []events.Topic
	for _, part := range strings.Split(raw, ",") {
		t := events.Topic(strings.TrimSpace(part))
		if t == "" {
			continue
		}
		if !t.Valid() {
			return nil, fmt.Errorf("unknown topic %q", t)
		}
		topics = append(topics, t)
	}
	return topics, nil
}
