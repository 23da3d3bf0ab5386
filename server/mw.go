package server

import (
	"fmt"
	"net/http"

	"github.com/Trinoooo/vdshm/consts"
	"github.com/Trinoooo/vdshm/errs"
	"github.com/Trinoooo/vdshm/server/logs"
	"github.com/luci/go-render/render"
	"go.uber.org/zap"
)

type HandleFunc func(request *Request) (*Response, error)

type MiddlewareFunc func(handleFn HandleFunc) HandleFunc

func LogMw(handleFn HandleFunc) HandleFunc {
	return func(req *Request) (*Response, error) {
		logs.Info(fmt.Sprintf("req: %s", render.Render(req)))
		resp, err := handleFn(req)
		logs.Info(fmt.Sprintf("resp: %s, err: %v", render.Render(resp), err))
		return resp, err
	}
}

// ParamsValidateMw 只校验请求规模，单个按键是否可表示由发布时过滤
func ParamsValidateMw(handleFn HandleFunc) HandleFunc {
	return func(req *Request) (*Response, error) {
		if req.Method != http.MethodPut {
			return handleFn(req)
		}

		if req.Keys == nil {
			e := errs.NewInvalidParamErr()
			logs.Error(e.Error(), zap.String(consts.LogFieldParams, "keys"), zap.String(consts.LogFieldValue, "missing"))
			return newExceptionResp(e), e
		}

		keysLength := len(req.Keys)
		if keysLength > maxKeysPerRequest {
			e := errs.NewInvalidParamErr()
			logs.Error(e.Error(), zap.String(consts.LogFieldParams, "keysLength"), zap.Int(consts.LogFieldValue, keysLength))
			return newExceptionResp(e), e
		}

		return handleFn(req)
	}
}
