package server

import (
	"net/http"
	"time"

	"github.com/berfenger/surplus2evse/internal/core/domain"
	"github.com/berfenger/surplus2evse/internal/core/events"

	"github.com/carlmjohnson/versioninfo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

type statusDocument struct {
	Version    string                      `json:"version"`
	ActorState string                      `json:"actor_state"`
	Controller events.ControllerDocument   `json:"controller"`
	LastCycle  *events.CycleReportDocument `json:"last_cycle,omitempty"`
	Evse       *evseDocument               `json:"evse,omitempty"`
	NextCycle  *time.Time                  `json:"next_cycle,omitempty"`
}

type evseDocument struct {
	State             string  `json:"state"`
	StateCode         int     `json:"state_code"`
	Enabled           bool    `json:"enabled"`
	Charging          bool    `json:"charging"`
	ChargeCurrentAmps float64 `json:"charge_current_a"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/status", s.StatusHandler)
	if s.metrics != nil {
		e.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StatusHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetChargeStatusRequest{}, 5*time.Second).Result()
	if err != nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "charge loop not responding")
	}
	status, ok := res.(domain.GetChargeStatusResponse)
	if !ok || status.HasResponseError() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "charge loop status unavailable")
	}

	doc := statusDocument{
		Version:    versioninfo.Short(),
		ActorState: status.ActorState,
		Controller: events.NewControllerDocument(status.Controller),
	}
	if status.LastReport != nil {
		last := events.NewCycleReportDocument(*status.LastReport)
		doc.LastCycle = &last
	}
	if e := status.Evse; e != nil {
		doc.Evse = &evseDocument{
			State:             e.State,
			StateCode:         e.StateCode,
			Enabled:           e.Enabled,
			Charging:          e.Charging,
			ChargeCurrentAmps: e.ChargeCurrentAmps,
		}
	}
	if !status.NextCycle.IsZero() {
		doc.NextCycle = &status.NextCycle
	}
	return c.JSON(http.StatusOK, doc)
}
