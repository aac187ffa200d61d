package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/PipeOpsHQ/sai/observe"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Same-origin requests and non-browser clients only.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// handleStream pushes observe events to a websocket client. With ?history=N
// the last N buffered events are sent first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Hub == nil {
		writeError(w, http.StatusNotFound, errors.New("event stream is not enabled"))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.cfg.Logger.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, release := s.cfg.Hub.Subscribe(128)
	defer release()

	if n, _ := strconv.Atoi(r.URL.Query().Get("history")); n > 0 {
		recent := s.cfg.Hub.Recent()
		if len(recent) > n {
			recent = recent[len(recent)-n:]
		}
		for _, ev := range recent {
			if err := writeEvent(conn, ev); err != nil {
				return
			}
		}
	}

	// The reader only drains control frames and notices the client leaving.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(conn, ev); err != nil {
				s.cfg.Logger.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeEvent(conn *websocket.Conn, ev observe.Event) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return conn.WriteJSON(ev)
}
