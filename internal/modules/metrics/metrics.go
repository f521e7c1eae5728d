package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	CyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "options_bot_cycles_total", Help: "Engine cycles by result"},
		[]string{"result"},
	)
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "options_bot_signals_total", Help: "Signals produced by the evaluator"},
		[]string{"asset", "direction"},
	)
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "options_bot_orders_total", Help: "Orders by settlement outcome"},
		[]string{"asset", "outcome"},
	)
	PlacementErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "options_bot_placement_errors_total", Help: "Orders the broker did not accept"},
		[]string{"asset"},
	)
	ReconnectAttemptsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "options_bot_reconnect_attempts_total", Help: "Broker reconnect attempts"},
	)
	ConnectionUp = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "options_bot_connection_up", Help: "1 when the broker session is alive"},
	)
	ProfitLoss = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "options_bot_profit_loss", Help: "Running profit/loss of the day"},
	)
)

// Registry: свой реестр, чтобы тесты не делили глобальный.
var Registry = prometheus.NewRegistry()

func init() {
	Registry.MustRegister(
		CyclesTotal,
		SignalsTotal,
		OrdersTotal,
		PlacementErrorsTotal,
		ReconnectAttemptsTotal,
		ConnectionUp,
		ProfitLoss,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
