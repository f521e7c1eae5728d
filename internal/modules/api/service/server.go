package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"

	"options_bot/internal/models"
	engine "options_bot/internal/modules/engine/service"
	"options_bot/pkg/logger"
	"options_bot/pkg/sched"
)

// Engine: то, что API делает с движком.
type Engine interface {
	Configure(s engine.Settings) (engine.Settings, error)
	Settings() engine.Settings
	Start(ctx context.Context) error
	Stop(reason string)
	Status() engine.Status
	History() []models.Operation
	ClearHistory(ctx context.Context) error
	SwitchAccount(ctx context.Context, mode models.AccountMode) (models.Session, error)
	TestEntry(ctx context.Context) (models.Operation, error)
}

// Push: канал событий для браузера.
type Push interface {
	http.Handler
	Clients() int
}

type Server struct {
	eng       Engine
	push      Push
	metrics   http.Handler
	sch       *sched.Scheduler
	startedAt time.Time
}

func New(eng Engine, push Push, metrics http.Handler, sch *sched.Scheduler) *Server {
	return &Server{
		eng:       eng,
		push:      push,
		metrics:   metrics,
		sch:       sch,
		startedAt: sch.Now(),
	}
}

func (s *Server) Mux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/configure", s.configure)
	mux.HandleFunc("POST /api/start", s.start)
	mux.HandleFunc("POST /api/stop", s.stop)
	mux.HandleFunc("GET /api/status", s.status)
	mux.HandleFunc("GET /api/history", s.history)
	mux.HandleFunc("DELETE /api/history", s.clearHistory)
	mux.HandleFunc("POST /api/account", s.account)
	mux.HandleFunc("POST /api/test-entry", s.testEntry)

	if s.push != nil {
		mux.Handle("GET /ws", s.push)
	}
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// готов: есть сессия у брокера
		if !s.eng.Status().Session.Connected {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	mux.HandleFunc("/healthz", s.healthz)

	return mux
}

func (s *Server) configure(w http.ResponseWriter, r *http.Request) {
	// отсутствующие поля остаются текущими
	settings := s.eng.Settings()
	if err := decode(r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	got, err := s.eng.Configure(settings)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, got)
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.Start(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.eng.Status())
}

type stopRequest struct {
	Reason string `json:"reason"`
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.eng.Stop(req.Reason)
	writeJSON(w, http.StatusOK, s.eng.Status())
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.eng.Status())
}

type historyResponse struct {
	Operations []models.Operation `json:"operations"`
	Stats      models.DailyStats  `json:"stats"`
}

func (s *Server) history(w http.ResponseWriter, _ *http.Request) {
	ops := s.eng.History()
	if ops == nil {
		ops = []models.Operation{}
	}
	writeJSON(w, http.StatusOK, historyResponse{Operations: ops, Stats: s.eng.Status().Stats})
}

func (s *Server) clearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.eng.ClearHistory(r.Context()); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type accountRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) account(w http.ResponseWriter, r *http.Request) {
	var req accountRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := models.ParseAccountMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sess, err := s.eng.SwitchAccount(r.Context(), mode)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) testEntry(w http.ResponseWriter, r *http.Request) {
	op, err := s.eng.TestEntry(r.Context())
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusAccepted, op)
}

type healthResponse struct {
	Ready         bool               `json:"ready"`
	State         models.EngineState `json:"state"`
	UptimeSec     int64              `json:"uptimeSec"`
	Reconnects    int                `json:"reconnects"`
	LastHeartbeat int64              `json:"lastHeartbeatUnix"`
	Clients       int                `json:"clients"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	st := s.eng.Status()
	resp := healthResponse{
		Ready:      st.Session.Connected,
		State:      st.State,
		UptimeSec:  int64(s.sch.Now().Sub(s.startedAt).Seconds()),
		Reconnects: st.Health.TotalReconnects,
	}
	if !st.Health.LastHeartbeat.IsZero() {
		resp.LastHeartbeat = st.Health.LastHeartbeat.Unix()
	}
	if s.push != nil {
		resp.Clients = s.push.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	var pe *models.PlacementError
	switch {
	case errors.Is(err, models.ErrInvalidPolicy):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrEngineRunning),
		errors.Is(err, engine.ErrDraining),
		errors.Is(err, models.ErrNoAssets),
		errors.Is(err, models.ErrNotConnected),
		errors.Is(err, models.ErrAssetUnavailable):
		return http.StatusConflict
	case errors.As(err, &pe):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// decode: пустое тело допустимо.
func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return sonic.Unmarshal(body, v)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	if code >= http.StatusInternalServerError {
		logger.Error("[API] %v", err)
	}
	writeJSON(w, code, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		logger.Error("[API] encode: %v", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(data)
}
