package subscriber

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/stima/stima/internal/platform/auth"
)

// Handler provides the authentication endpoint.
type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.POST("/authenticate", h.Authenticate)
}

// Authenticate upserts the caller's subscriber row from the validated token
// claims and returns the profile.
func (h *Handler) Authenticate(c echo.Context) error {
	claims, ok := auth.ClaimsFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "missing claims")
	}
	sub, err := h.svc.Authenticate(c.Request().Context(), claims.Subject, claims.Name, claims.Email)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sub)
}
