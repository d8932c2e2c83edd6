package api

import (
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"planit/auth"
)

// streamGraph pushes the full graph view to the client after every change.
func streamGraph(hub *Hub, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		user, _ := auth.UserFrom(c)
		ws, release := hub.Hold(user)
		defer release()
		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}
		c.Response().WriteHeader(http.StatusOK)

		ctx := c.Request().Context()
		ch, unsubscribe := ws.Board.Subscribe()
		defer unsubscribe()
		for {
			data, err := sonic.Marshal(ws.Board.View())
			if err != nil {
				logger.WithError(err).Error("failed to encode graph")
				return err
			}
			if _, err := c.Response().Write([]byte("data: ")); err != nil {
				return err
			}
			if _, err := c.Response().Write(data); err != nil {
				return err
			}
			if _, err := c.Response().Write([]byte("\n\n")); err != nil {
				return err
			}
			flusher.Flush()
			select {
			case <-ctx.Done():
				return nil
			case <-ch:
			}
		}
	}
}
