package server

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type MetricsHelper struct {
	RequestCounter *prometheus.CounterVec // 按路由与返回码统计请求
	QueueGauge     prometheus.GaugeFunc   // 发布队列积压
}

func NewMetricsHelper(reg prometheus.Registerer, channel *Channel) *MetricsHelper {
	requestCounter := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "vdshm_panel_request_total",
		Help: "Number of control surface requests by route and code.",
	}, []string{"route", "code"})
	queueGauge := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "vdshm_panel_publish_queue_length",
		Help: "Keyboard publishes waiting for the publisher goroutine.",
	}, func() float64 {
		return float64(channel.Len())
	})

	for _, c := range []prometheus.Collector{
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if !errors.As(err, &are) {
				panic(err)
			}
		}
	}
	reg.MustRegister(requestCounter, queueGauge)

	return &MetricsHelper{
		RequestCounter: requestCounter,
		QueueGauge:     queueGauge,
	}
}

func (m *MetricsHelper) observe(rt route, code int64) {
	m.RequestCounter.WithLabelValues(rt.String(), strconv.FormatInt(code, 10)).Inc()
}
