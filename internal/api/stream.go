package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/patrickwarner/adrotator/internal/middleware"
	"github.com/patrickwarner/adrotator/internal/rotation"
)

const (
	streamBuffer       = 16
	streamWriteWait    = 10 * time.Second
	defaultPingPeriod  = 30 * time.Second
	unmountCloseReason = "placement unmounted"
)

// streamAction is a message sent by the client over the stream.
type streamAction struct {
	Action string `json:"action"`
}

type streamError struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	Error  string `json:"error"`
}

// PlacementStreamHandler handles GET /sessions/{identity}/placements/{id}/stream.
// It pushes an update for every state change and accepts the same actions
// as the REST endpoints.
func (s *Server) PlacementStreamHandler(w http.ResponseWriter, r *http.Request) {
	logger := middleware.LoggerFromRequest(r, s.Logger)
	start := time.Now()
	const endpoint = "placement_stream"
	const method = "GET"

	p, err := s.lookup(r)
	if err != nil {
		s.fail(w, endpoint, method, start, statusFor(err), err.Error())
		return
	}
	mobile, err := s.isMobile(r)
	if err != nil {
		s.fail(w, endpoint, method, start, http.StatusBadRequest, err.Error())
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied to the client.
		logger.Warn("websocket upgrade failed", zap.Error(err))
		s.observe(endpoint, method, http.StatusBadRequest, start)
		return
	}
	s.observe(endpoint, method, http.StatusSwitchingProtocols, start)

	ping := s.Config.StreamPingInterval
	if ping <= 0 {
		ping = defaultPingPeriod
	}
	identity := mux.Vars(r)["identity"]
	st := &placementStream{
		conn:   conn,
		p:      p,
		mobile: mobile,
		ping:   ping,
		touch:  func() { s.Sessions.Touch(identity) },
		logger: logger.With(zap.String("placement_id", p.ID())),
	}
	st.run()
}

type placementStream struct {
	conn   *websocket.Conn
	p      *rotation.Placement
	mobile bool
	ping   time.Duration
	// touch keeps the owning session alive while the client answers.
	touch  func()
	logger *zap.Logger

	writeMu sync.Mutex
}

func (st *placementStream) run() {
	updates, cancel := st.p.Subscribe(streamBuffer)
	defer cancel()

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		st.writeLoop(updates, done)
	}()

	st.readLoop()
	close(done)
	wg.Wait()
	_ = st.conn.Close()
	st.logger.Debug("placement stream closed")
}

func (st *placementStream) writeLoop(updates <-chan rotation.Update, done <-chan struct{}) {
	ticker := time.NewTicker(st.ping)
	defer ticker.Stop()

	initial := rotation.Update{Type: rotation.UpdateState, View: st.p.Render(st.mobile)}
	if err := st.writeJSON(initial); err != nil {
		return
	}
	for {
		select {
		case <-done:
			return
		case u, ok := <-updates:
			if !ok {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, unmountCloseReason)
				_ = st.writeControl(websocket.CloseMessage, msg)
				return
			}
			u.View = u.View.ForDevice(st.mobile, st.p.ShowOnMobile())
			if err := st.writeJSON(u); err != nil {
				return
			}
		case <-ticker.C:
			if err := st.writeControl(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (st *placementStream) readLoop() {
	pongWait := 2 * st.ping
	_ = st.conn.SetReadDeadline(time.Now().Add(pongWait))
	st.conn.SetPongHandler(func(string) error {
		st.touch()
		return st.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseAbnormalClosure) {
				st.logger.Warn("placement stream error", zap.Error(err))
			}
			return
		}
		_ = st.conn.SetReadDeadline(time.Now().Add(pongWait))
		st.touch()

		var msg streamAction
		if err := json.Unmarshal(raw, &msg); err != nil {
			_ = st.writeJSON(streamError{Type: "error", Error: "invalid json"})
			continue
		}
		if _, err := applyAction(st.p, msg.Action); err != nil {
			_ = st.writeJSON(streamError{Type: "error", Action: msg.Action, Error: err.Error()})
		}
	}
}

func (st *placementStream) writeJSON(v interface{}) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	_ = st.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	return st.conn.WriteJSON(v)
}

func (st *placementStream) writeControl(messageType int, data []byte) error {
	st.writeMu.Lock()
	defer st.writeMu.Unlock()
	return st.conn.WriteControl(messageType, data, time.Now().Add(streamWriteWait))
}
