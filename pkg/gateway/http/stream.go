package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const STREAM_URI = "/ecat/stream"

const (
	DefaultStreamPeriod = 100 * time.Millisecond
	MinStreamPeriod     = 10 * time.Millisecond
	MaxStreamPeriod     = 10 * time.Second
)

const (
	writeWait      = 2 * time.Second
	pongWait       = 30 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// Parse the stream query parameters period_ms & slave.
// Slave defaults to all slaves.
func (g *GatewayServer) parseStreamQuery(r *http.Request) (period time.Duration, slaveId int, err error) {
	period = DefaultStreamPeriod
	slaveId = TOKEN_ALL
	query := r.URL.Query()
	if raw := query.Get("period_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil {
			return 0, 0, ErrGwSyntaxError
		}
		period = time.Duration(ms) * time.Millisecond
		if period < MinStreamPeriod || period > MaxStreamPeriod {
			return 0, 0, ErrGwSyntaxError
		}
	}
	switch raw := query.Get("slave"); raw {
	case "", "all":
	case "default":
		slaveId = g.DefaultSlave()
	default:
		slaveId, err = parseMasterOrSlaveParam(raw)
		if err != nil || slaveId < 0 || slaveId >= g.SlaveCount() {
			return 0, 0, ErrGwUnsupportedSlave
		}
	}
	return period, slaveId, nil
}

// Stream process data snapshots over a websocket until the client leaves
// or the gateway is stopped
func (g *GatewayServer) handleStream(w http.ResponseWriter, r *http.Request) {
	period, slaveId, err := g.parseStreamQuery(r)
	if err != nil {
		g.logger.Warnf("rejecting stream %v : %v", r.URL, err)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write(NewResponseError(0, err))
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader has already answered the client
		g.logger.Warnf("websocket upgrade failed : %v", err)
		return
	}
	g.logger.Infof("streaming process data to %v every %v", conn.RemoteAddr(), period)
	closed := make(chan struct{})
	go g.readPump(conn, closed)
	g.writePump(conn, period, slaveId, closed)
	g.logger.Infof("stream to %v ended", conn.RemoteAddr())
}

// Consume incoming messages, needed for pong & close handling.
// closed is closed once the client is gone.
func (g *GatewayServer) readPump(conn *websocket.Conn, closed chan struct{}) {
	defer close(closed)
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.logger.Warnf("stream read error : %v", err)
			}
			return
		}
	}
}

func (g *GatewayServer) writePump(conn *websocket.Conn, period time.Duration, slaveId int, closed chan struct{}) {
	ticker := time.NewTicker(period)
	pinger := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		pinger.Stop()
		conn.Close()
	}()
	for {
		select {
		case <-closed:
			return
		case <-g.stop:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "gateway stopped"),
			)
			return
		case <-ticker.C:
			snapshot, err := g.Snapshot(slaveId)
			if err != nil {
				g.logger.Warnf("snapshot failed : %v", err)
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snapshot); err != nil {
				g.logger.Debugf("stream write failed : %v", err)
				return
			}
		case <-pinger.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close every running stream, new streams are closed straight away
func (g *GatewayServer) closeStreams() {
	g.stopOnce.Do(func() { close(g.stop) })
}
