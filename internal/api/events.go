/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	ws "nhooyr.io/websocket"

	"github.com/friendsincode/curie/internal/events"
	"github.com/friendsincode/curie/internal/telemetry"
)

type taggedPayload struct {
	eventType events.EventType
	payload   events.Payload
}

// handleEvents streams lifecycle events over a websocket. ?types= narrows the
// stream to a comma separated list.
func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	// Clients only send control frames; CloseRead handles them and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = events.LifecycleEvents
	}

	merged := make(chan taggedPayload, 32)
	subscribers := make([]events.Subscriber, len(eventTypes))
	for i, eventType := range eventTypes {
		sub := a.bus.Subscribe(eventType)
		subscribers[i] = sub
		go forward(ctx, eventType, sub, merged)
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				return
			}
		case msg := <-merged:
			if err := writeEvent(ctx, conn, msg.eventType, msg.payload); err != nil {
				a.logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		}
	}
}

func forward(ctx context.Context, eventType events.EventType, sub events.Subscriber, out chan<- taggedPayload) {
	for {
		select {
		case <-ctx.Done():
			return
		case payload, ok := <-sub:
			if !ok {
				return
			}
			select {
			case out <- taggedPayload{eventType: eventType, payload: payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data, err := json.Marshal(map[string]any{
		"type":    eventType,
		"payload": payload,
	})
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(writeCtx, ws.MessageText, data)
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, events.EventType(part))
	}
	return out
}
