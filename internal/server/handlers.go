package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ypeikes18/kalshi-screener/internal/logging"
	"github.com/ypeikes18/kalshi-screener/internal/models"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
)

// Handler carries the route dependencies.
type Handler struct {
	repo   storage.Repository
	poller Poller
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	e.GET("/watchlist", h.ListWatchlist)
	e.POST("/watchlist", h.CreateWatchlistItem)
	e.PATCH("/watchlist", h.UpdateWatchlistItem)
	e.DELETE("/watchlist", h.DeleteWatchlistItem)

	e.GET("/matches", h.ListMatches)
	e.PATCH("/matches", h.MarkMatchesSeen)

	e.POST("/poll", h.Poll)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) ListWatchlist(c echo.Context) error {
	items, err := h.repo.ListWatchlist(c.Request().Context())
	if err != nil {
		return h.storageError(c, err)
	}
	if items == nil {
		items = []models.WatchlistItem{}
	}
	return c.JSON(http.StatusOK, items)
}

type createWatchlistRequest struct {
	Query string `json:"query"`
}

func (h *Handler) CreateWatchlistItem(c echo.Context) error {
	var req createWatchlistRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(req.Query) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "query is required"})
	}
	item, err := h.repo.CreateWatchlistItem(c.Request().Context(), req.Query)
	if err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(http.StatusCreated, item)
}

type updateWatchlistRequest struct {
	ID     int64   `json:"id"`
	Query  *string `json:"query"`
	Active *bool   `json:"active"`
}

func (h *Handler) UpdateWatchlistItem(c echo.Context) error {
	var req updateWatchlistRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.ID == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "id is required"})
	}
	if req.Query != nil && strings.TrimSpace(*req.Query) == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "query must not be blank"})
	}
	item, err := h.repo.UpdateWatchlistItem(c.Request().Context(), req.ID, storage.WatchlistUpdate{
		Query:  req.Query,
		Active: req.Active,
	})
	if errors.Is(err, storage.ErrNotFound) {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "watchlist item not found"})
	}
	if err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(http.StatusOK, item)
}

type deleteWatchlistRequest struct {
	ID int64 `json:"id"`
}

func (h *Handler) DeleteWatchlistItem(c echo.Context) error {
	var req deleteWatchlistRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.ID == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "id is required"})
	}
	if err := h.repo.DeleteWatchlistItem(c.Request().Context(), req.ID); err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) ListMatches(c echo.Context) error {
	limit := storage.DefaultMatchLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
		}
		limit = parsed
	}
	matches, err := h.repo.ListMatches(c.Request().Context(), limit)
	if err != nil {
		return h.storageError(c, err)
	}
	if matches == nil {
		matches = []models.Match{}
	}
	return c.JSON(http.StatusOK, matches)
}

type markSeenRequest struct {
	IDs []int64 `json:"ids"`
}

func (h *Handler) MarkMatchesSeen(c echo.Context) error {
	var req markSeenRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
	}
	if req.IDs == nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "ids array required"})
	}
	if err := h.repo.MarkMatchesSeen(c.Request().Context(), req.IDs); err != nil {
		return h.storageError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) Poll(c echo.Context) error {
	report := h.poller.Run(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{
		"message": report.Message,
		"matched": report.Matched,
	})
}

func (h *Handler) storageError(c echo.Context, err error) error {
	logging.Errorf("[server] %s %s: %v", c.Request().Method, c.Path(), err)
	return c.JSON(http.StatusInternalServerError, errorResponse{Error: "internal error"})
}
