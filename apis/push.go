// Copyright 2025-2026 The meshweb Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"fmt"
	"net/http"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/ipnet-mesh/meshweb/common"
	"github.com/ipnet-mesh/meshweb/relay"
)

const (
	sessionWriteWait      = 10 * time.Second
	sessionPongWait       = 60 * time.Second
	sessionPingPeriod     = (sessionPongWait * 9) / 10
	sessionMaxMessageSize = 4 * 1024
	sessionSendBuffer     = 256
)

// wsSession one websocket push-channel session
type wsSession struct {
	common.Component
	id       string
	conn     *websocket.Conn
	relay    relay.BridgeRelay
	registry relay.SessionRegistry
	send     chan relay.Event
	closed   chan struct{}
}

// SessionID the opaque session identifier
func (s *wsSession) SessionID() string {
	return s.id
}

// SendEvent queue an event for delivery to this client. Does not block; a
// session too slow to drain its buffer fails delivery instead of stalling
// fan-out to the other sessions.
func (s *wsSession) SendEvent(event relay.Event) error {
	select {
	case <-s.closed:
		return fmt.Errorf("session %s already closed", s.id)
	case s.send <- event:
		return nil
	default:
		return fmt.Errorf("session %s send buffer full", s.id)
	}
}

// readPump read client command frames off the websocket until it closes.
// Owns session teardown.
func (s *wsSession) readPump() {
	defer func() {
		s.registry.Deregister(s.id)
		close(s.closed)
		_ = s.conn.Close()
	}()

	s.conn.SetReadLimit(sessionMaxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(sessionPongWait)); err != nil {
		log.WithError(err).WithFields(s.LogTags).Error("Failed to set read deadline")
		return
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(sessionPongWait))
	})

	for {
		var cmd relay.ClientCommand
		if err := s.conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseNormalClosure,
			) {
				log.WithError(err).WithFields(s.LogTags).Warn("Session read failure")
			}
			return
		}
		s.relay.HandleClientCommand(s.id, cmd)
	}
}

// writePump forward queued events onto the websocket and keep the
// connection alive with periodic pings
func (s *wsSession) writePump() {
	ticker := time.NewTicker(sessionPingPeriod)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()

	for {
		select {
		case <-s.closed:
			return
		case event := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait)); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error("Failed to set write deadline")
				return
			}
			if err := s.conn.WriteJSON(&event); err != nil {
				log.WithError(err).WithFields(s.LogTags).Warn("Session write failure")
				return
			}
		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(sessionWriteWait)); err != nil {
				log.WithError(err).WithFields(s.LogTags).Error("Failed to set write deadline")
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ========================================================================================

// APIRestPushHandler REST handler for the websocket push channel
type APIRestPushHandler struct {
	APIRestHandler
	relay    relay.BridgeRelay
	registry relay.SessionRegistry
	upgrader websocket.Upgrader
}

// GetAPIRestPushHandler define APIRestPushHandler
func GetAPIRestPushHandler(
	bridge relay.BridgeRelay, registry relay.SessionRegistry, httpConfig *common.HTTPConfig,
) (APIRestPushHandler, error) {
	logTags := log.Fields{
		"module":    "rest",
		"component": "push-channel",
	}
	return APIRestPushHandler{
		APIRestHandler: APIRestHandler{
			RestAPIHandler: goutils.RestAPIHandler{
				Component: goutils.Component{
					LogTags: logTags,
					LogTagModifiers: []goutils.LogMetadataModifier{
						goutils.ModifyLogMetadataByRestRequestParam,
					},
				},
				CallRequestIDHeaderField: &httpConfig.Logging.RequestIDHeader,
				DoNotLogHeaders: func() map[string]bool {
					result := map[string]bool{}
					for _, v := range httpConfig.Logging.DoNotLogHeaders {
						result[v] = true
					}
					return result
				}(),
			},
		},
		relay:    bridge,
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Pages are served from the same origin as this API
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// PushChannel godoc
// @Summary Open the push channel
// @Description Upgrade to a websocket session receiving live broker events
// @tags Push
// @Success 101 {string} string "protocol upgrade"
// @Failure 400 {string} string "error"
// @Failure 500 {object} goutils.RestAPIBaseResponse "error"
// @Router /v1/push [get]
func (h APIRestPushHandler) PushChannel(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}

	sessionID := uuid.New().String()
	sessionLogTags := log.Fields{
		"module":    "rest",
		"component": "push-session",
		"instance":  sessionID,
	}
	session := &wsSession{
		Component: common.Component{LogTags: sessionLogTags},
		id:        sessionID,
		conn:      conn,
		relay:     h.relay,
		registry:  h.registry,
		send:      make(chan relay.Event, sessionSendBuffer),
		closed:    make(chan struct{}),
	}

	h.registry.Register(session)
	go session.writePump()
	go session.readPump()
	// Replay the current broker status so the page renders the live state
	// without waiting for the next change
	h.relay.SessionOpened(sessionID)
}

// PushChannelHandler Wrapper around PushChannel
func (h APIRestPushHandler) PushChannelHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.PushChannel(w, r)
	}
}
