package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/region"
	"github.com/Trinoooo/vdshm/server/logs"
	"github.com/Trinoooo/vdshm/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sugawarayuuta/sonnet"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	PathKeystrokes = "/keystrokes/"
	PathRegion     = "/region/"
	PathMetrics    = "/metrics"

	maxKeysPerRequest = consts.KB
	maxBodySize       = consts.MB
)

// Request 控制面请求，请求体只携带 keys
type Request struct {
	Method string             `json:"-"`
	Path   string             `json:"-"`
	Keys   []region.KeyStroke `json:"keys"`
}

type Response struct {
	Code    int64  `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type route struct {
	method string
	path   string
}

func (rt route) String() string {
	return rt.method + " " + rt.path
}

type Options struct {
	host            string
	port            int64
	registry        *prometheus.Registry
	shutdownTimeout time.Duration
}

func NewOptions() *Options {
	return &Options{
		host:            "127.0.0.1",
		port:            8014,
		shutdownTimeout: utils.GetValueOnEnv(3*time.Second, 200*time.Millisecond).(time.Duration),
	}
}

func (opts *Options) SetHost(host string) *Options {
	opts.host = host
	return opts
}

func (opts *Options) SetPort(port int64) *Options {
	opts.port = port
	return opts
}

// SetRegistry 与共享内存区共用同一个 registry，/metrics 才能看到区内指标
func (opts *Options) SetRegistry(registry *prometheus.Registry) *Options {
	opts.registry = registry
	return opts
}

func (opts *Options) SetShutdownTimeout(timeout time.Duration) *Options {
	opts.shutdownTimeout = timeout
	return opts
}

func (opts *Options) check() error {
	if opts.port <= 0 || opts.port > 65535 {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "port"), zap.Int64(consts.LogFieldValue, opts.port))
		return e
	}
	if opts.shutdownTimeout < 0 {
		e := errs.NewInvalidParamErr()
		logs.Error(e.Error(), zap.String(consts.LogFieldParams, "shutdownTimeout"), zap.Duration(consts.LogFieldValue, opts.shutdownTimeout))
		return e
	}
	return nil
}

// Server 控制面板，接收按键并写入共享内存区
type Server struct {
	handlers map[route]HandleFunc
	mws      []MiddlewareFunc
	region   *region.Region
	channel  *Channel
	metrics  *MetricsHelper
	registry *prometheus.Registry
	opts     *Options
	httpSrv  *http.Server
	closed   atomic.Bool
	done     chan struct{}
	lastKeys atomic.Pointer[[]region.KeyStroke]
}

func NewServer(r *region.Region, opts *Options) (*Server, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.check(); err != nil {
		return nil, err
	}

	srv := &Server{
		handlers: map[route]HandleFunc{},
		mws:      make([]MiddlewareFunc, 0),
		region:   r,
		channel:  NewChannel(),
		registry: opts.registry,
		opts:     opts,
		done:     make(chan struct{}),
	}
	if srv.registry == nil {
		srv.registry = prometheus.NewRegistry()
	}
	srv.metrics = NewMetricsHelper(srv.registry, srv.channel)

	srv.withMiddleware(
		ParamsValidateMw,
		LogMw,
	)
	srv.withHandler(http.MethodPut, PathKeystrokes, srv.HandlePutKeys)
	srv.withHandler(http.MethodGet, PathKeystrokes, srv.HandleGetKeys)
	srv.withHandler(http.MethodGet, PathRegion, srv.HandleGetRegion)

	srv.httpSrv = &http.Server{
		Addr:              net.JoinHostPort(opts.host, strconv.FormatInt(opts.port, 10)),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv, nil
}

// Handler 控制面路由与 /metrics
func (srv *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(PathMetrics, promhttp.HandlerFor(srv.registry, promhttp.HandlerOpts{}))
	mux.Handle("/", srv)
	return mux
}

func (srv *Server) ServeHTTP(resp http.ResponseWriter, req *http.Request) {
	resp.Header().Set("Content-Type", "application/json")

	rt := route{method: req.Method, path: req.URL.Path}
	if !strings.HasSuffix(rt.path, "/") {
		rt.path += "/"
	}

	handler, ok := srv.handlers[rt]
	if !ok {
		e := errs.NewUnsupportedRouteErr()
		logs.Warn(e.Error(), zap.String(consts.LogFieldValue, rt.String()))
		srv.metrics.observe(route{method: req.Method, path: "unsupported"}, e.Code())
		writeResp(resp, newExceptionResp(e))
		return
	}

	vdReq, err := parseReq(resp, req)
	if err != nil {
		srv.metrics.observe(rt, errs.GetCode(err))
		writeResp(resp, newExceptionResp(err))
		return
	}
	vdReq.Path = rt.path

	wrappedHandler := handler
	for _, mw := range srv.mws {
		wrappedHandler = mw(wrappedHandler)
	}

	vdResp, err := wrappedHandler(vdReq)
	if err != nil {
		logs.Error(fmt.Sprintf("execute handle failed: %v", err))
		srv.metrics.observe(rt, errs.GetCode(err))
		writeResp(resp, newExceptionResp(err))
		return
	}

	srv.metrics.observe(rt, vdResp.Code)
	writeResp(resp, vdResp)
}

// Run 启动发布协程与 http 服务，ctx 取消或 Close 后退出
func (srv *Server) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		srv.publishLoop()
		return nil
	})
	eg.Go(func() error {
		logs.Info("control surface listening", zap.String(consts.LogFieldValue, srv.httpSrv.Addr))
		err := srv.httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		select {
		case <-ctx.Done():
			return srv.Close()
		case <-srv.done:
			return nil
		}
	})
	return eg.Wait()
}

// publishLoop 唯一的键盘写者，按投递顺序串行发布
func (srv *Server) publishLoop() {
	for {
		task, ok := srv.channel.Consume()
		if !ok {
			return
		}

		state, seq, err := srv.region.PublishKeys(task.keys)
		if err == nil {
			keys := task.keys
			srv.lastKeys.Store(&keys)
			logs.Debug("keys published", zap.Uint64(consts.LogFieldSeq, seq))
		}
		task.result <- &Result{State: state, Seq: seq, Err: err}
	}
}

// Close 停止接收请求，排空发布队列
func (srv *Server) Close() error {
	if !srv.closed.CompareAndSwap(false, true) {
		return nil
	}
	defer close(srv.done)

	ctx, cancel := context.WithTimeout(context.Background(), srv.opts.shutdownTimeout)
	defer cancel()
	err := srv.httpSrv.Shutdown(ctx)
	srv.channel.Close()
	if err != nil {
		logs.Error("shutdown control surface failed", zap.Error(err))
		return err
	}
	logs.Info("control surface closed")
	return nil
}

func (srv *Server) withHandler(method, path string, handler HandleFunc) {
	srv.handlers[route{method: method, path: path}] = handler
}

func (srv *Server) withMiddleware(mw ...MiddlewareFunc) {
	srv.mws = append(srv.mws, mw...)
}

func parseReq(resp http.ResponseWriter, req *http.Request) (*Request, error) {
	vdReq := &Request{Method: req.Method}
	if req.Method != http.MethodPut {
		return vdReq, nil
	}

	bodyBytes, err := io.ReadAll(http.MaxBytesReader(resp, req.Body, maxBodySize))
	if err != nil {
		e := errs.NewReadSocketErr().WithErr(err)
		logs.Error(e.Error())
		return nil, e
	}

	if err = sonnet.Unmarshal(bodyBytes, vdReq); err != nil {
		e := errs.NewJsonUnmarshalErr().WithErr(err)
		logs.Error(e.Error())
		return nil, e
	}
	vdReq.Method = req.Method

	return vdReq, nil
}

func writeResp(resp http.ResponseWriter, vdResp *Response) {
	resp.WriteHeader(statusOf(vdResp.Code))
	_, _ = resp.Write(mustMarshalResp(vdResp))
}

func statusOf(code int64) int {
	switch code {
	case 0:
		return http.StatusOK
	case errs.InvalidParamErrCode, errs.JsonUnmarshalErrCode, errs.ReadSocketErrCode:
		return http.StatusBadRequest
	case errs.UnsupportedRouteErrCode:
		return http.StatusNotFound
	case errs.ServerClosedErrCode, errs.RegionClosedErrCode, errs.ContendedErrCode:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func mustMarshalResp(resp *Response) []byte {
	respBytes, err := sonnet.Marshal(resp)
	if err != nil {
		logs.Error(errs.NewJsonMarshalErr().WithErr(err).Error())
		panic(err)
	}
	return respBytes
}

func newExceptionResp(err error) *Response {
	var vdErr = errs.NewUnknownErr()
	errors.As(err, &vdErr)
	return &Response{
		Code:    vdErr.Code(),
		Message: vdErr.Error(),
	}
}

func newSuccessResp(data any) *Response {
	return &Response{
		Message: "success",
		Code:    0,
		Data:    data,
	}
}
