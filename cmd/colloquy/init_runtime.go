package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"colloquy/internal/domain"
	"colloquy/internal/infra/config"
	"colloquy/internal/infra/logger"
	"colloquy/internal/infra/metrics"
	"colloquy/internal/infra/tracer"
	"colloquy/internal/usecase/conversation"
	"colloquy/internal/usecase/eventbus"
	"colloquy/internal/usecase/request"
)

// shutdownTimeout bounds flushing the tracer and waiting for a request to settle.
const shutdownTimeout = 5 * time.Second

// runtime is everything a command needs besides its front end.
type runtime struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	store     *conversation.Store
	history   domain.HistoryStore
	persister *conversation.Persister
	llm       *LLMComponents
	recorder  *metrics.Recorder

	closers []func(context.Context) error
}

// runtimeOptions selects how the runtime is built for a front end.
type runtimeOptions struct {
	// terminalUI keeps log output off the terminal.
	terminalUI bool
	// serveMetrics starts the Prometheus listener when it is enabled in config.
	serveMetrics bool
}

// initRuntime wires config, logging, tracing, the event bus, history and
// the LLM backend. Call close when done, even after an error.
func initRuntime(ctx context.Context, cfg *config.Config, opts runtimeOptions) (*runtime, error) {
	rt := &runtime{cfg: cfg}

	var (
		log      *slog.Logger
		closeLog func() error
		err      error
	)
	if opts.terminalUI {
		log, closeLog, err = logger.ForTerminalUI(cfg.Logger, config.DataDir())
	} else {
		log, closeLog, err = logger.New(cfg.Logger)
	}
	if err != nil {
		return rt, fmt.Errorf("logger: %w", err)
	}
	rt.log = log
	rt.closers = append(rt.closers, func(context.Context) error { return closeLog() })

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return rt, fmt.Errorf("tracer: %w", err)
	}
	rt.closers = append(rt.closers, shutdownTracer)

	rt.bus = eventbus.New(log)

	rt.recorder = metrics.NewRecorder()
	rt.recorder.Attach(rt.bus)
	if opts.serveMetrics && cfg.Metrics.Enabled {
		metricsCtx, stop := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(metricsCtx, cfg.Metrics.Addr, cfg.Metrics.Path, rt.recorder, log); err != nil {
				log.Error("metrics listener failed", "error", err)
			}
		}()
		rt.closers = append(rt.closers, func(context.Context) error {
			stop()
			<-done
			return nil
		})
	}

	rt.store = conversation.NewStore(rt.bus)

	rt.history, rt.persister, err = initHistory(ctx, cfg, rt.store, rt.bus, log)
	if err != nil {
		return rt, fmt.Errorf("history: %w", err)
	}
	if rt.history != nil {
		hs := rt.history
		rt.closers = append(rt.closers, func(context.Context) error { return hs.Close() })
	}

	rt.llm, err = initLLM(cfg, rt.bus, log)
	if err != nil {
		return rt, fmt.Errorf("llm: %w", err)
	}
	return rt, nil
}

// newController builds a request controller over the runtime's store and backend.
func (rt *runtime) newController(dispatcher domain.Dispatcher, notifier domain.Notifier, onError func(string, error)) *request.Controller {
	return request.NewController(request.Deps{
		Store:             rt.store,
		Backend:           rt.llm.Backend,
		Mode:              rt.llm.Backend,
		Notifier:          notifier,
		Dispatcher:        dispatcher,
		Bus:               rt.bus,
		Metrics:           rt.recorder,
		Logger:            rt.log,
		OnError:           onError,
		Timeout:           rt.cfg.Request.Timeout,
		CancelGrace:       rt.cfg.Request.CancelGrace,
		NotificationTitle: rt.cfg.Request.NotificationTitle,
	})
}

// close drains the event bus, so pending history writes land, then
// releases resources in reverse order of acquisition.
func (rt *runtime) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.persister != nil {
		rt.persister.Detach()
	}
	if rt.recorder != nil {
		rt.recorder.Detach()
	}

	var errs []error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// stopController cancels an outstanding request and waits briefly for the
// controller to go idle.
func (rt *runtime) stopController(ctrl *request.Controller) {
	if ctrl.Cancel() {
		rt.log.Info("cancelled outstanding request on shutdown")
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := ctrl.Wait(ctx); err != nil {
		rt.log.Warn("request still settling at shutdown", "state", ctrl.State().String())
	}
}
