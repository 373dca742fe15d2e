package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/samber/do/v2"
	"go.uber.org/zap"
)

type EchoService struct {
	echo   *echo.Echo
	port   int
	logger *zap.Logger
}

func NewEchoService(i do.Injector) (*EchoService, error) {
	port := do.MustInvokeNamed[int](i, "port")
	logger := do.MustInvoke[*LoggerService](i).Named("http")

	e := echo.New()

	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestID())
	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Format: "${id} ${remote_ip} ${status} ${method} ${path} ${error} ${latency_human} ${bytes_in} ${bytes_out}\n",
	}))
	e.Use(middleware.Recover())

	e.GET("/api/health", func(c echo.Context) error {
		//nolint:wrapcheck
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return &EchoService{
		echo:   e,
		port:   port,
		logger: logger,
	}, nil
}

func (s *EchoService) Register(c func(e *echo.Echo)) {
	c(s.echo)
}

// Handler exposes the router, mostly for httptest.
func (s *EchoService) Handler() http.Handler {
	return s.echo
}

func (s *EchoService) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("listening", zap.String("addr", addr))

	err := s.echo.Start(addr)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start echo server: %w", err)
	}

	return nil
}

func (s *EchoService) Shutdown(ctx context.Context) error {
	err := s.echo.Shutdown(ctx)
	if err != nil {
		return fmt.Errorf("failed to shutdown echo server: %w", err)
	}

	return nil
}
