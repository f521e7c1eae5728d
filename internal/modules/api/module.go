package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"options_bot/internal/models"
	"options_bot/internal/modules/api/service"
	"options_bot/internal/modules/config"
	engine "options_bot/internal/modules/engine/service"
	hub "options_bot/internal/modules/hub/service"
	"options_bot/internal/modules/metrics"
	"options_bot/pkg/logger"
	"options_bot/pkg/sched"
)

func NewServer(e *engine.Engine, h *hub.Hub, sch *sched.Scheduler) *service.Server {
	// новый клиент ws сразу получает текущее состояние
	h.SetGreeter(func() models.Event {
		st := e.Status()
		return models.Event{
			Type:  models.EventUpdate,
			Level: models.LevelInfo,
			Time:  sch.Now(),
			Payload: models.UpdatePayload{
				State:   st.State,
				Session: st.Session,
				Stats:   st.Stats,
			},
		}
	})
	return service.New(e, h, metrics.Handler(), sch)
}

func RunHTTP(lc fx.Lifecycle, cfg *config.Config, srv *service.Server) {
	addr := cfg.HTTPAddr()
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return err
			}
			logger.Info("[API] listening on %s", addr)
			go func() {
				if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("[API] serve: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return httpSrv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("api",
		fx.Provide(
			NewServer,
		),
		fx.Invoke(RunHTTP),
	)
}
