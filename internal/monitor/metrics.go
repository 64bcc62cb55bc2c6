package monitor

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"scope-collector/pkg/protocol"
)

var (
	// 采集次数，result = success | fatal | interrupted
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope_runs_total",
			Help: "采集次数",
		},
		[]string{"result"},
	)

	// 通道解码失败
	ChannelFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope_channel_failures_total",
			Help: "通道解码失败次数",
		},
		[]string{"channel"},
	)

	// 标定参数使用默认值
	CalibrationFallbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope_calibration_fallbacks_total",
			Help: "标定参数未应答而使用默认值的次数",
		},
		[]string{"channel", "param"},
	)

	PollAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scope_poll_attempts_total",
		Help: "状态寄存器轮询次数",
	})

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "scope_bytes_received_total",
		Help: "从仪器读取的波形字节总数",
	})

	SinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scope_sink_errors_total",
			Help: "数据输出失败次数",
		},
		[]string{"sink"},
	)

	TransferDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "scope_transfer_duration_seconds",
		Help:    "从布防到全部通道读取完成的耗时",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80},
	})
)

var registerOnce sync.Once

// 保留的历史摘要条数
const historyLimit = 100

type Monitor struct {
	log     *logrus.Logger
	version string

	mu      sync.RWMutex
	history []protocol.Summary
}

func NewMonitor(log *logrus.Logger, version string) *Monitor {
	// 注册指标
	registerOnce.Do(func() {
		prometheus.MustRegister(
			RunsTotal,
			ChannelFailures,
			CalibrationFallbacks,
			PollAttempts,
			BytesReceived,
			SinkErrors,
			TransferDuration,
		)
	})

	return &Monitor{log: log, version: version}
}

// Record 保存一次采集的摘要
func (m *Monitor) Record(s protocol.Summary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, s)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// Latest 返回最近一次采集摘要
func (m *Monitor) Latest() (protocol.Summary, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.history) == 0 {
		return protocol.Summary{}, false
	}
	return m.history[len(m.history)-1], true
}

// Router 返回 HTTP 路由
func (m *Monitor) Router() *mux.Router {
	router := mux.NewRouter()

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")
	router.HandleFunc("/version", m.versionInfo).Methods("GET")
	router.HandleFunc("/runs", m.listRuns).Methods("GET")
	router.HandleFunc("/runs/latest", m.latestRun).Methods("GET")
	router.HandleFunc("/runs/{index:[0-9]+}", m.getRun).Methods("GET")

	return router
}

// StartMetricsServer 启动 Metrics HTTP 服务器
func (m *Monitor) StartMetricsServer(port int) *http.Server {
	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: m.Router()}
	m.log.Infof("Metrics服务器启动: %s", addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Errorf("Metrics服务器错误: %v", err)
		}
	}()
	return srv
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusOK)
	e := json.NewEncoder(w)
	e.SetIndent("", "    ")
	e.Encode(v)
}

func (m *Monitor) versionInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, struct {
		Version string `json:"version"`
	}{Version: m.version})
}

func (m *Monitor) listRuns(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	runs := make([]protocol.Summary, len(m.history))
	copy(runs, m.history)
	m.mu.RUnlock()

	writeJSON(w, runs)
}

func (m *Monitor) latestRun(w http.ResponseWriter, r *http.Request) {
	s, ok := m.Latest()
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("No runs recorded yet"))
		return
	}
	writeJSON(w, s)
}

func (m *Monitor) getRun(w http.ResponseWriter, r *http.Request) {
	params := mux.Vars(r)
	index, err := strconv.Atoi(params["index"])
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(err.Error()))
		return
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].RunIndex == index {
			writeJSON(w, m.history[i])
			return
		}
	}

	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(fmt.Sprintf("No such run %d", index)))
}
