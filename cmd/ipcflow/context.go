package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/drblury/ipcflow/internal/runtime"
	configpkg "github.com/drblury/ipcflow/internal/runtime/config"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
	metricspkg "github.com/drblury/ipcflow/internal/runtime/metrics"
	"github.com/drblury/ipcflow/internal/runtime/transcoder"
)

const metricsShutdownTimeout = 2 * time.Second

type globalFlags struct {
	config         string
	socket         string
	codec          string
	logLevel       string
	metricsAddress string
}

type commandContext struct {
	flags *globalFlags

	configOnce sync.Once
	config     *configpkg.Config
	configErr  error
}

func newCommandContext(flags *globalFlags) *commandContext {
	return &commandContext{flags: flags}
}

// ensureConfig reads the config file once, applies flag overrides and
// validates the result.
func (c *commandContext) ensureConfig() (*configpkg.Config, error) {
	c.configOnce.Do(func() {
		cfg, err := configpkg.Read(strings.TrimSpace(c.flags.config))
		if err != nil {
			c.configErr = err
			return
		}
		if c.flags.socket != "" {
			cfg.SocketFile = c.flags.socket
		}
		if c.flags.codec != "" {
			cfg.Codec = c.flags.codec
		}
		if c.flags.metricsAddress != "" {
			cfg.MetricsAddress = c.flags.metricsAddress
		}
		if err := cfg.Validate(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// session bundles what a command needs to build a server or client.
type session struct {
	cfg      configpkg.Config
	log      loggingpkg.ServiceLogger
	opts     []runtime.Option
	registry *prometheus.Registry

	metricsServer *http.Server
}

func (c *commandContext) newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	log, err := newLogger(cmd.ErrOrStderr(), c.flags.logLevel)
	if err != nil {
		return nil, err
	}
	tc, ok := transcoder.ByName(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}

	s := &session{
		cfg:  *cfg,
		log:  log,
		opts: []runtime.Option{runtime.WithLogger(log), runtime.WithTranscoder(tc)},
	}
	if cfg.MetricsAddress != "" {
		s.registry = prometheus.NewRegistry()
		m := metricspkg.New(s.registry)
		if err := m.Register(); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
		s.opts = append(s.opts, runtime.WithMetrics(m))
		s.startMetricsServer(cfg.MetricsAddress)
	}
	return s, nil
}

func (s *session) startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	s.metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	s.log.Info("Starting metrics server", loggingpkg.LogFields{"address": addr})
	go func(srv *http.Server) {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("Metrics server failed", err, loggingpkg.LogFields{"address": addr})
		}
	}(s.metricsServer)
}

func (s *session) Close() {
	if s == nil || s.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
	defer cancel()
	_ = s.metricsServer.Shutdown(ctx)
}

// newLogger writes text logs to terminals and JSON logs everywhere else.
func newLogger(w io.Writer, level string) (loggingpkg.ServiceLogger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", level)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if isTerminal(w) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return loggingpkg.NewSlogServiceLogger(slog.New(handler)), nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
