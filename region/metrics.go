package region

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	slotKeyboard = "keyboard"
	slotFrame    = "frame"
)

type metricsHelper struct {
	publishCounter   *prometheus.CounterVec // 各槽位发布次数
	retryCounter     *prometheus.CounterVec // 读者重试次数
	contendedCounter *prometheus.CounterVec // 读者重试耗尽次数
	rejectCounter    *prometheus.CounterVec // 被拒绝的帧，按原因
	staleCounter     prometheus.Counter     // 创建时清理的陈旧区
}

func newMetricsHelper(reg prometheus.Registerer) *metricsHelper {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &metricsHelper{
		publishCounter: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vdshm_region_publish_total",
			Help: "Number of completed publishes per slot.",
		}, []string{"slot"})),
		retryCounter: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vdshm_region_read_retry_total",
			Help: "Number of seqlock retries per slot, reads and writes.",
		}, []string{"slot"})),
		contendedCounter: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vdshm_region_read_contended_total",
			Help: "Number of reads or writes that exhausted their retry budget per slot.",
		}, []string{"slot"})),
		rejectCounter: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vdshm_region_frame_rejected_total",
			Help: "Number of frames rejected before publish, by reason.",
		}, []string{"reason"})),
		staleCounter: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vdshm_region_stale_recovered_total",
			Help: "Number of stale regions wiped on create.",
		})),
	}
}

// register 同一进程内多次挂载共享同一组指标
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
