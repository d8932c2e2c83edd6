package api

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"planit/auth"
	"planit/board"
	"planit/domain"
	"planit/graph"
	"planit/storage"
)

const maxBodySize = 1 << 20

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, hub *Hub, authn auth.Authenticator, logger *log.Logger) {
	if logger == nil {
		logger = log.StandardLogger()
	}
	g := e.Group("/api", metricsMiddleware(logger), auth.Middleware(authn))

	g.GET("/graph", getGraph(hub))
	g.GET("/stream", streamGraph(hub, logger))
	g.POST("/nodes/changes", postNodeChanges(hub))
	g.POST("/edges/changes", postEdgeChanges(hub))
	g.POST("/connect", postConnect(hub))

	g.POST("/tasks", postTask(hub))
	g.PUT("/tasks/:id", putTask(hub))
	g.POST("/tasks/:id/edit", postBeginEdit(hub))
	g.POST("/tasks/:id/toggle", postToggle(hub))
	g.DELETE("/tasks/:id", deleteTask(hub))

	g.PUT("/session/date", putDate(hub))
	g.PUT("/session/project", putCurrentProject(hub))

	g.GET("/projects", getProjects(hub))
	g.POST("/projects", postProject(hub))
	g.PUT("/projects/order", putProjectOrder(hub))
	g.PUT("/projects/:id", putProject(hub))
	g.DELETE("/projects/:id", deleteProject(hub))

	g.GET("/notifications", getNotifications(hub))
	g.POST("/notifications/read", postReadAll(hub))
	g.POST("/notifications/:id/read", postRead(hub))
	g.POST("/notifications/:id/dismiss", postDismiss(hub))
	g.DELETE("/notifications/:id", deleteNotification(hub))

	e.GET("/healthz", healthz())
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func workspace(hub *Hub, c echo.Context) *Workspace {
	user, _ := auth.UserFrom(c)
	return hub.Workspace(user)
}

func decode(c echo.Context, v any) error {
	dec := sonic.ConfigStd.NewDecoder(io.LimitReader(c.Request().Body, maxBodySize))
	return dec.Decode(v)
}

// statusFor maps operation errors to HTTP status codes. Failures reaching
// here have already been reported to the user as notifications.
func statusFor(err error) int {
	switch {
	case errors.Is(err, board.ErrSelfDependency):
		return http.StatusBadRequest
	case errors.Is(err, board.ErrNoProject), errors.Is(err, board.ErrNoIdentity):
		return http.StatusConflict
	case errors.Is(err, board.ErrTaskNotFound), errors.Is(err, board.ErrProjectNotFound), errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrConcurrencyConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func fail(c echo.Context, err error) error {
	return c.String(statusFor(err), err.Error())
}

func badRequest(c echo.Context, msg string) error {
	return c.String(http.StatusBadRequest, msg)
}

func getGraph(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws := workspace(hub, c)
		return c.JSON(http.StatusOK, ws.Board.View())
	}
}

func postNodeChanges(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var changes []graph.NodeChange
		if err := decode(c, &changes); err != nil {
			return badRequest(c, "invalid body")
		}
		workspace(hub, c).Board.ApplyNodeChanges(c.Request().Context(), changes)
		return c.NoContent(http.StatusNoContent)
	}
}

func postEdgeChanges(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var changes []graph.EdgeChange
		if err := decode(c, &changes); err != nil {
			return badRequest(c, "invalid body")
		}
		if err := workspace(hub, c).Board.ApplyEdgeChanges(c.Request().Context(), changes); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postConnect(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var conn graph.Connection
		if err := decode(c, &conn); err != nil {
			return badRequest(c, "invalid body")
		}
		if err := workspace(hub, c).Board.Connect(c.Request().Context(), conn); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postTask(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var draft domain.TaskDraft
		if err := decode(c, &draft); err != nil {
			return badRequest(c, "invalid body")
		}
		if draft.Title == "" {
			return badRequest(c, "title is required")
		}
		id, err := workspace(hub, c).Board.Create(c.Request().Context(), draft)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, map[string]string{"id": id})
	}
}

func putTask(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var edit domain.TaskEdit
		if err := decode(c, &edit); err != nil {
			return badRequest(c, "invalid body")
		}
		edit.ID = c.Param("id")
		if err := workspace(hub, c).Board.Update(c.Request().Context(), edit); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postBeginEdit(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := workspace(hub, c).Board.BeginEdit(c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func postToggle(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := workspace(hub, c).Board.ToggleComplete(c.Request().Context(), c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTask(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := workspace(hub, c).Board.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type dateRequest struct {
	Date string `json:"date"`
}

func putDate(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req dateRequest
		if err := decode(c, &req); err != nil {
			return badRequest(c, "invalid body")
		}
		day, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			return badRequest(c, "invalid date")
		}
		ws := workspace(hub, c)
		ws.Board.SelectDate(day)
		return c.JSON(http.StatusOK, map[string]string{"dateKey": ws.Board.DateKey()})
	}
}

type projectRequest struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type projectsResponse struct {
	Projects []domain.Project `json:"projects"`
	Current  *domain.Project  `json:"current,omitempty"`
}

func getProjects(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		ws := workspace(hub, c)
		resp := projectsResponse{Projects: ws.Projects.List()}
		if cur, ok := ws.Projects.Current(); ok {
			resp.Current = &cur
		}
		return c.JSON(http.StatusOK, resp)
	}
}

func postProject(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req projectRequest
		if err := decode(c, &req); err != nil || req.Name == "" {
			return badRequest(c, "name is required")
		}
		p, err := workspace(hub, c).Projects.Create(c.Request().Context(), req.Name)
		if err != nil {
			return fail(c, err)
		}
		return c.JSON(http.StatusCreated, p)
	}
}

func putProject(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req projectRequest
		if err := decode(c, &req); err != nil || req.Name == "" {
			return badRequest(c, "name is required")
		}
		if err := workspace(hub, c).Projects.Rename(c.Request().Context(), c.Param("id"), req.Name); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteProject(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := workspace(hub, c).Projects.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type orderRequest struct {
	IDs []string `json:"ids"`
}

func putProjectOrder(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req orderRequest
		if err := decode(c, &req); err != nil {
			return badRequest(c, "invalid body")
		}
		if err := workspace(hub, c).Projects.Reorder(c.Request().Context(), req.IDs); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func putCurrentProject(hub *Hub) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req projectRequest
		if err := decode(c, &req); err != nil || req.ID == "" {
			return badRequest(c, "id is required")
		}
		if err := workspace(hub, c).Projects.Switch(req.ID); err != nil {
			return fail(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}
