// metrics — Prometheus-метрики сервиса. Коллекторы объявлены на уровне пакета
// и регистрируются один раз при старте через Register.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Результаты операций.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultDropped = "dropped"
)

// Operations — счётчик бизнес-операций по результату.
var Operations = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_operations_total",
		Help: "Total number of auth operations by result",
	},
	[]string{"operation", "result"},
)

// HTTPDuration — длительность HTTP-запросов.
var HTTPDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// MailDispatch — счётчик отправки писем.
var MailDispatch = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "mail_dispatch_total",
		Help: "Total number of mail dispatch attempts by template and result",
	},
	[]string{"template", "result"},
)

// Register регистрирует коллекторы пакета. Паникует при повторной регистрации.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(Operations, HTTPDuration, MailDispatch)
}

// RecordOperation учитывает завершение операции. result — код ошибки
// транспорта ("ok", "invalid_credentials", ...).
func RecordOperation(operation, result string) {
	Operations.WithLabelValues(operation, result).Inc()
}

// RecordHTTP учитывает длительность HTTP-запроса.
// route — шаблон маршрута chi, а не фактический путь.
func RecordHTTP(method, route string, status int, d time.Duration) {
	HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}

// RecordMail учитывает результат доставки письма.
func RecordMail(template, result string) {
	MailDispatch.WithLabelValues(template, result).Inc()
}
