package http

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"rebarquality/session"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// streamMessage 推送给客户端的消息
type streamMessage struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	History   []session.Record `json:"history"`
}

// handleHistoryStream 推送当前会话的历史记录，每次变更后发送完整快照
func (s *Server) handleHistoryStream(w http.ResponseWriter, r *http.Request) {
	st := sessionFrom(r.Context())
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	updates, cancel := st.Subscribe()
	done := make(chan struct{})
	go s.readPump(conn, done)
	s.writePump(conn, updates, done)
	cancel()
}

// writePump 写入泵
func (s *Server) writePump(conn *websocket.Conn, updates <-chan []session.Record, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case history, ok := <-updates:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session expired"))
				return
			}
			msg := streamMessage{Type: "history", Timestamp: time.Now(), History: history}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			return
		}
	}
}

// readPump 读取泵: 只处理控制帧，连接关闭时通知写入泵
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
	}
}
