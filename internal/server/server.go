// Package server exposes the screener's JSON API: watchlist CRUD, match
// listing/acknowledgment, and the poll trigger.
package server

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ypeikes18/kalshi-screener/internal/poller"
	"github.com/ypeikes18/kalshi-screener/internal/storage"
)

// Poller triggers one scan cycle.
type Poller interface {
	Run(ctx context.Context) poller.Report
}

// Server wraps the echo instance and its route handlers.
type Server struct {
	echo *echo.Echo
}

// New builds the HTTP server around a repository and a poller.
func New(repo storage.Repository, p Poller) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h := &Handler{repo: repo, poller: p}
	h.RegisterRoutes(e)

	return &Server{echo: e}
}

// Start blocks serving on addr until Shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Echo exposes the underlying instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}
