package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/castla94/gestor-chatbot/internal/logstream"
	"github.com/castla94/gestor-chatbot/pkg/logger"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	msgMissingApp  = "Debe proporcionar un nombre de aplicación"
	msgLogsFailure = "Error fetching logs"

	wsWriteTimeout = 10 * time.Second
)

// LogRelay opens and forwards live process logs
type LogRelay interface {
	Open(ctx context.Context, processName string) (*logstream.Session, error)
	Forward(ctx context.Context, processName string, session *logstream.Session, sink logstream.Sink) logstream.Outcome
}

// responseSink writes chunks straight to a chunked HTTP response
type responseSink struct {
	res *echo.Response
}

func (s *responseSink) WriteChunk(p []byte) error {
	if _, err := s.res.Write(p); err != nil {
		return err
	}
	s.res.Flush()
	return nil
}

func (s *responseSink) Close() error {
	s.res.Flush()
	return nil
}

// StreamLogs relays the live log output of appName as a plain text body
func (h *TenantHandler) StreamLogs(c echo.Context) error {
	log := logger.FromContext(c)
	appName := c.Param("appName")
	if appName == "" {
		log.Warn("Missing application name")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgMissingApp})
	}
	log = log.With(zap.String("app_name", appName))
	log.Info("Received logs request")

	ctx := c.Request().Context()
	session, err := h.logs.Open(ctx, appName)
	if err != nil {
		log.Error("Error fetching logs", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": msgLogsFailure})
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMETextPlainCharsetUTF8)
	res.WriteHeader(http.StatusOK)

	outcome := h.logs.Forward(ctx, appName, session, &responseSink{res: res})
	log.Info("Logs request finished", zap.String("outcome", string(outcome)))
	return nil
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsSink sends every chunk as one text frame
type wsSink struct {
	conn *websocket.Conn
}

func (s *wsSink) WriteChunk(p []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, p)
}

func (s *wsSink) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
	return s.conn.Close()
}

// StreamLogsWS relays the live log output of appName over a websocket
func (h *TenantHandler) StreamLogsWS(c echo.Context) error {
	log := logger.FromContext(c)
	appName := c.Param("appName")
	if appName == "" {
		log.Warn("Missing application name")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": msgMissingApp})
	}
	log = log.With(zap.String("app_name", appName))

	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already answered the request
		log.Warn("Websocket upgrade failed", zap.Error(err))
		return nil
	}
	log.Info("Received websocket logs request")

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	session, err := h.logs.Open(ctx, appName)
	if err != nil {
		log.Error("Error fetching logs", zap.Error(err))
		msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, msgLogsFailure)
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteTimeout))
		return conn.Close()
	}

	// a peer close or read error ends the relay
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	outcome := h.logs.Forward(ctx, appName, session, &wsSink{conn: conn})
	log.Info("Websocket logs request finished", zap.String("outcome", string(outcome)))
	return nil
}
