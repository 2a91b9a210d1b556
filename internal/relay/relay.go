// Package relay bridges topics between the socket transport and another
// Watermill transport, such as NATS, through a router carrying the standard
// middleware chain.
package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/ipcflow/internal/runtime/config"
	loggingpkg "github.com/drblury/ipcflow/internal/runtime/logging"
	"github.com/drblury/ipcflow/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// Dependencies holds the optional collaborators of a Relay.
type Dependencies struct {
	// Registry resolves transport names. Defaults to transport.DefaultRegistry.
	Registry *transport.Registry
	// Registerer receives the router metrics. Nil disables them.
	Registerer prometheus.Registerer
	// Middlewares are appended after the default middleware chain.
	Middlewares               []MiddlewareRegistration
	DisableDefaultMiddlewares bool
}

// Relay forwards messages from the source transport named by the config to
// a target transport, and optionally back.
type Relay struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	target     string
	source     transport.Transport
	sink       transport.Transport
	sourceCaps transport.Capabilities
	sinkCaps   transport.Capabilities
	router     *message.Router
	registerer prometheus.Registerer
}

// New builds the source transport from conf and the target transport named
// target, both through the registry. Add routes with Forward and Backward
// before calling Run.
func New(ctx context.Context, conf *configpkg.Config, target string, log loggingpkg.ServiceLogger, deps Dependencies) (*Relay, error) {
	log = loggingpkg.OrNop(log)
	registry := deps.Registry
	if registry == nil {
		registry = transport.DefaultRegistry
	}

	sourceConf := *conf
	if sourceConf.Transport == "" {
		sourceConf.Transport = transport.DefaultTransport
	}
	if target == sourceConf.Transport {
		return nil, fmt.Errorf("relay: target %q is the source transport", target)
	}
	targetConf := *conf
	targetConf.Transport = target

	wmLogger := loggingpkg.NewWatermillAdapter(log)
	sourceCaps := registry.GetCapabilities(sourceConf.Transport)
	sinkCaps := registry.GetCapabilities(target)
	log.Info("Creating relay", loggingpkg.LogFields{
		"source":          sourceConf.Transport,
		"target":          target,
		"source_reliable": sourceCaps.SupportsReliableDelivery(),
		"target_reliable": sinkCaps.SupportsReliableDelivery(),
		"config":          sourceConf,
	})

	source, err := registry.Build(ctx, &sourceConf, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("relay: build source: %w", err)
	}
	sink, err := registry.Build(ctx, &targetConf, wmLogger)
	if err != nil {
		_ = closeTransport(source)
		return nil, fmt.Errorf("relay: build target: %w", err)
	}

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		_ = closeTransport(source)
		_ = closeTransport(sink)
		return nil, err
	}

	r := &Relay{
		Conf:       &sourceConf,
		Logger:     log,
		target:     target,
		source:     source,
		sink:       sink,
		sourceCaps: sourceCaps,
		sinkCaps:   sinkCaps,
		router:     router,
		registerer: deps.Registerer,
	}
	if err := r.registerConfiguredMiddlewares(deps); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Relay) registerConfiguredMiddlewares(deps Dependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := r.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("relay: register middleware %s: %w", name, err)
		}
	}
	return nil
}

// Forward copies messages on topic from the source to the target.
func (r *Relay) Forward(topic string) {
	r.router.AddHandler("forward."+topic, topic, r.source.Subscriber, topic, r.sink.Publisher, passthrough)
	r.Logger.Debug("Added forward route", loggingpkg.LogFields{"topic": topic, "target": r.target})
	r.warnIfUnreliable("forward", topic, r.sourceCaps)
}

// Backward copies messages on topic from the target to the source.
func (r *Relay) Backward(topic string) {
	r.router.AddHandler("backward."+topic, topic, r.sink.Subscriber, topic, r.source.Publisher, passthrough)
	r.Logger.Debug("Added backward route", loggingpkg.LogFields{"topic": topic, "target": r.target})
	r.warnIfUnreliable("backward", topic, r.sinkCaps)
}

// warnIfUnreliable reports routes whose subscribing side drops a message the
// retry middleware gave up on instead of redelivering it.
func (r *Relay) warnIfUnreliable(route, topic string, caps transport.Capabilities) {
	if caps.SupportsReliableDelivery() {
		return
	}
	r.Logger.Info("Route drops messages that fail after retries", loggingpkg.LogFields{
		"route":     route,
		"topic":     topic,
		"transport": caps.Name,
	})
}

func passthrough(msg *message.Message) ([]*message.Message, error) {
	return []*message.Message{msg.Copy()}, nil
}

// Running is closed once the router has started every handler.
func (r *Relay) Running() chan struct{} {
	return r.router.Running()
}

// Run routes messages until ctx is cancelled, then closes both transports.
func (r *Relay) Run(ctx context.Context) error {
	err := routerRun(r.router, ctx)
	return errors.Join(err, r.Close())
}

// Close stops the router and closes both transports.
func (r *Relay) Close() error {
	var errs []error
	if r.router != nil {
		errs = append(errs, r.router.Close())
	}
	errs = append(errs, closeTransport(r.source), closeTransport(r.sink))
	return errors.Join(errs...)
}

func closeTransport(t transport.Transport) error {
	var errs []error
	if t.Publisher != nil {
		errs = append(errs, t.Publisher.Close())
	}
	if t.Subscriber != nil {
		errs = append(errs, t.Subscriber.Close())
	}
	return errors.Join(errs...)
}
