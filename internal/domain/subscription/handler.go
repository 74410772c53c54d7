package subscription

import (
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/stima/stima/internal/domain/subscriber"
	"github.com/stima/stima/internal/platform/auth"
	"github.com/stima/stima/pkg/pagination"
)

// Handler serves the subscription endpoints. Every route requires a
// verified bearer token; the token subject is resolved to a subscriber row
// before anything else happens.
type Handler struct {
	svc         *Service
	subscribers *subscriber.Service
	validate    *validator.Validate
}

func NewHandler(svc *Service, subscribers *subscriber.Service) *Handler {
	return &Handler{svc: svc, subscribers: subscribers, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/locations/subscribe", h.Subscribe)
	api.GET("/locations/subscribe/progress/:taskId", h.Progress)
	api.GET("/locations/list/subscribed", h.ListSubscribed)
	api.GET("/locations/search", h.Search)
	api.DELETE("/primary_location/:id", h.Unsubscribe)
}

// caller resolves the authenticated subscriber. A valid token whose subject
// has never authenticated is still unauthorized here.
func (h *Handler) caller(c echo.Context) (*subscriber.Subscriber, error) {
	externalID, ok := auth.ExternalIDFrom(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "missing subject")
	}
	sub, err := h.subscribers.GetByExternalID(c.Request().Context(), externalID)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "unknown subscriber, authenticate first")
	}
	return sub, nil
}

type subscribeRequest struct {
	ExternalID string `json:"external_id" validate:"required"`
}

// Subscribe accepts an external place id and returns the task id the
// client polls while the resolve chain runs.
func (h *Handler) Subscribe(c echo.Context) error {
	sub, err := h.caller(c)
	if err != nil {
		return err
	}
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.validate.Struct(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "external_id is required")
	}
	taskID, err := h.svc.Subscribe(c.Request().Context(), sub.ID, req.ExternalID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusAccepted, echo.Map{"task_id": taskID})
}

// Progress reports the state of a subscription task.
func (h *Handler) Progress(c echo.Context) error {
	if _, err := h.caller(c); err != nil {
		return err
	}
	status, ok, err := h.svc.Progress(c.Request().Context(), c.Param("taskId"))
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown task")
	}
	return c.JSON(http.StatusOK, echo.Map{"status": status})
}

// ListSubscribed returns one page of the caller's locations.
func (h *Handler) ListSubscribed(c echo.Context) error {
	sub, err := h.caller(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), sub.ID, p)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

// Unsubscribe removes the caller's link to one location.
func (h *Handler) Unsubscribe(c echo.Context) error {
	sub, err := h.caller(c)
	if err != nil {
		return err
	}
	locationID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid location id")
	}
	if err := h.svc.Unsubscribe(c.Request().Context(), sub.ID, locationID); err != nil {
		if errors.Is(err, ErrNotSubscribed) {
			return echo.NewHTTPError(http.StatusNotFound, ErrNotSubscribed.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// Search answers from the text-search cache, queueing a warm-up task on a
// cold term. Clients poll until the cache fills.
func (h *Handler) Search(c echo.Context) error {
	if _, err := h.caller(c); err != nil {
		return err
	}
	term := c.QueryParam("term")
	if term == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "term is required")
	}
	raw, ok, err := h.svc.SearchLocations(c.Request().Context(), term)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if !ok {
		return c.JSON(http.StatusAccepted, echo.Map{"status": "Pending"})
	}
	return c.JSONBlob(http.StatusOK, raw)
}
