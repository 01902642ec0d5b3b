package wxpay

import (
	"context"
	"strconv"

	"go.uber.org/zap"
)

// LogFunc 请求日志记录函数
type LogFunc func(ctx context.Context, data map[string]string)

// ReqLog 请求日志
type ReqLog struct {
	data map[string]string
}

// Set 设置日志K-V
func (l *ReqLog) Set(k, v string) {
	l.data[k] = v
}

// SetReqBody 设置请求Body
func (l *ReqLog) SetReqBody(v string) {
	l.data["request_body"] = v
}

// SetRespBody 设置返回报文
func (l *ReqLog) SetRespBody(v string) {
	l.data["response_body"] = v
}

// SetStatusCode 设置HTTP状态码
func (l *ReqLog) SetStatusCode(code int) {
	l.data["status_code"] = strconv.Itoa(code)
}

// Do 日志记录
func (l *ReqLog) Do(ctx context.Context, log LogFunc) {
	if log == nil {
		return
	}

	log(ctx, l.data)
}

// NewReqLog 生成请求日志
func NewReqLog(method, reqURL string) *ReqLog {
	return &ReqLog{
		data: map[string]string{
			"method": method,
			"url":    reqURL,
		},
	}
}

// ZapLogger 使用 zap 记录请求日志
func ZapLogger(l *zap.Logger) LogFunc {
	return func(ctx context.Context, data map[string]string) {
		fields := make([]zap.Field, 0, len(data))

		for k, v := range data {
			fields = append(fields, zap.String(k, v))
		}

		l.Info("wxpay request", fields...)
	}
}
