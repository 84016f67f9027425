// Package server exposes the slimming pipeline over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/ukaji3/exslim-go/internal/config"
	"github.com/ukaji3/exslim-go/pkg/exslim"
	"github.com/ukaji3/exslim-go/pkg/exslim/models"
)

// Response headers carrying the run summary.
const (
	HeaderRunID         = "X-Exslim-Run-Id"
	HeaderInputBytes    = "X-Exslim-Input-Bytes"
	HeaderOutputBytes   = "X-Exslim-Output-Bytes"
	HeaderNamesRemoved  = "X-Exslim-Names-Removed"
	HeaderImagesSlimmed = "X-Exslim-Images-Recompressed"
	HeaderPartsRemoved  = "X-Exslim-Parts-Removed"
	HeaderConversions   = "X-Exslim-Conversions"
)

const (
	defaultBodyLimit     = "256M"
	shutdownGracePeriod  = 10 * time.Second
	contentTypeWorkbook  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypeMacroBook = "application/vnd.ms-excel.sheet.macroEnabled.12"
)

var summaryHeaders = []string{
	HeaderRunID, HeaderInputBytes, HeaderOutputBytes, HeaderNamesRemoved,
	HeaderImagesSlimmed, HeaderPartsRemoved, HeaderConversions,
}

// Server handles slimming requests. Settings supply the defaults that form
// fields override.
type Server struct {
	e        *echo.Echo
	settings config.Settings
	logger   *slog.Logger
}

// New builds the router.
func New(settings config.Settings, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Server{e: echo.New(), settings: settings.Normalize(), logger: logger}
	s.e.HideBanner = true
	s.e.HidePort = true

	s.e.Use(middleware.Recover())
	s.e.Use(middleware.BodyLimit(defaultBodyLimit))
	s.e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		ExposeHeaders: append([]string{echo.HeaderContentDisposition}, summaryHeaders...),
	}))
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			attrs := []any{"method", v.Method, "uri", v.URI, "status", v.Status, "latency", v.Latency}
			if v.Error != nil {
				s.logger.Warn("request failed", append(attrs, "error", v.Error)...)
				return nil
			}
			s.logger.Info("request", attrs...)
			return nil
		},
	}))

	api := s.e.Group("/api")
	api.GET("/health", s.health)
	api.POST("/slim", s.slim)
	return s
}

// Handler returns the router for use with net/http.
func (s *Server) Handler() http.Handler {
	return s.e
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		errCh <- s.e.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		s.logger.Info("shutting down")
		return s.e.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) slim(c echo.Context) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing upload field \"file\"")
	}
	if fh.Filename == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "file name is empty")
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if ext != ".xlsx" && ext != ".xlsm" {
		return echo.NewHTTPError(http.StatusBadRequest, "only .xlsx and .xlsm files are supported")
	}

	opts, err := s.options(c)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	src, err := fh.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload").SetInternal(err)
	}
	defer src.Close()
	input, err := io.ReadAll(src)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "cannot read upload").SetInternal(err)
	}

	report, err := exslim.Slim(c.Request().Context(), input, opts)
	if err != nil {
		return slimError(err)
	}

	setSummaryHeaders(c.Response().Header(), report)
	stem := strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", stem+"_complete"+ext))
	contentType := contentTypeWorkbook
	if ext == ".xlsm" {
		contentType = contentTypeMacroBook
	}
	return c.Blob(http.StatusOK, contentType, report.Output)
}

// options applies the form fields on top of the server settings.
func (s *Server) options(c echo.Context) (exslim.Options, error) {
	p := s.settings.Pipeline
	fields := []struct {
		name string
		dst  *bool
	}{
		{"use_clean", &p.CleanNames},
		{"use_image", &p.SlimImages},
		{"use_precision", &p.Precision},
		{"aggressive", &p.Aggressive},
		{"do_xml_cleanup", &p.XMLCleanup},
		{"force_custom", &p.ForceCustomXML},
		{"verify", &p.Verify},
	}
	for _, f := range fields {
		v := c.FormValue(f.name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return exslim.Options{}, fmt.Errorf("field %s: %q is not a boolean", f.name, v)
		}
		*f.dst = b
	}

	settings := s.settings
	settings.Pipeline = p
	return settings.Options(s.logger), nil
}

func slimError(err error) error {
	kind := exslim.KindOf(err)
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "request cancelled").SetInternal(err)
	case kind == "" || kind == exslim.KindIO:
		return echo.NewHTTPError(http.StatusInternalServerError, "processing failed").SetInternal(err)
	default:
		return echo.NewHTTPError(http.StatusUnprocessableEntity, map[string]string{
			"message": err.Error(),
			"kind":    string(kind),
		}).SetInternal(err)
	}
}

func setSummaryHeaders(h http.Header, r *models.Report) {
	h.Set(HeaderRunID, r.RunID)
	h.Set(HeaderInputBytes, strconv.FormatInt(r.InputBytes, 10))
	h.Set(HeaderOutputBytes, strconv.FormatInt(r.OutputBytes, 10))
	h.Set(HeaderNamesRemoved, strconv.Itoa(r.Summary.NamesRemoved))
	h.Set(HeaderImagesSlimmed, strconv.Itoa(r.Summary.ImagesRecompressed))
	h.Set(HeaderPartsRemoved, strconv.Itoa(r.Summary.PartsRemoved))
	h.Set(HeaderConversions, strconv.Itoa(r.Summary.Conversions))
}
