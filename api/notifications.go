package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"planit/notify"
)

type notificationsResponse struct {
	Notifications []notify.Notification `json:"notifications"`
	Unread        int                   `json:"unread"`
}

func getNotifications(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		center := workspace(hub, c).Center
		return c.JSON(http.StatusOK, notificationsResponse{
			Notifications: center.Snapshot(),
			Unread:        center.UnreadCount(),
		})
	}
}

func postRead(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		workspace(hub, c).Center.MarkAsRead(c.Request().Context(), c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	}
}

func postReadAll(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		workspace(hub, c).Center.MarkAllAsRead(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	}
}

// postDismiss closes the toast but keeps the entry in the panel.
func postDismiss(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		workspace(hub, c).Center.RemoveToastOnly(c.Request().Context(), c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteNotification(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		workspace(hub, c).Center.Remove(c.Request().Context(), c.Param("id"))
		return c.NoContent(http.StatusNoContent)
	}
}
