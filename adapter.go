package wxpay

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Version 协议版本
type Version string

const (
	VersionLegacy  Version = "legacy"  // APIv2（XML）
	VersionCurrent Version = "current" // APIv3（JSON）
)

// ParseVersion 解析协议版本，支持 `APIv2`、`APIv3` 别名；其余值返回 ErrConfiguration
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case string(VersionLegacy), "apiv2", "v2":
		return VersionLegacy, nil
	case string(VersionCurrent), "apiv3", "v3":
		return VersionCurrent, nil
	}

	return "", configErr("unknown protocol_version: %q", s)
}

// Request 待发送的网关请求
type Request struct {
	Method      string
	Path        string
	Header      http.Header
	Body        []byte
	ContentType string
	MutualTLS   bool // 是否需要双向证书
}

// Response 网关响应
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// AckResponse 通知应答
type AckResponse struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// NotifyKind 通知类型
type NotifyKind string

const (
	NotifyPaid     NotifyKind = "paid"
	NotifyRefunded NotifyKind = "refunded"
)

// Notification 验签（解密）后的异步通知
type Notification struct {
	Version Version
	Kind    NotifyKind
	Success bool

	// 以下字段仅 APIv3 通知携带
	ID           string
	CreateTime   time.Time
	EventType    string
	ResourceType string
	Summary      string
	Resource     []byte // 解密后的明文

	Paid     *PaidNotifyResult
	Refunded *RefundedNotifyResult
}

// ProtocolAdapter 协议适配器，封装各版本的报文格式与签名算法
type ProtocolAdapter interface {
	// Version 协议版本
	Version() Version

	// BuildPrepayRequest 构造JSAPI下单请求
	BuildPrepayRequest(params Params) (*Request, error)

	// ParsePrepayResponse 解析下单结果，返回客户端调起支付参数
	ParsePrepayResponse(params Params, resp *Response) (*PrepaySign, error)

	// BuildRefundRequest 构造退款请求
	BuildRefundRequest(params Params) (*Request, error)

	// ParseRefundResponse 解析退款结果
	ParseRefundResponse(resp *Response) (*RefundResult, error)

	// DecodeNotify 验签并解析异步通知，任何校验失败均不返回数据
	DecodeNotify(header http.Header, body []byte) (*Notification, error)

	// AckResponse 通知应答
	AckResponse() *AckResponse
}

func isSuccessStatus(code int) bool {
	return code >= http.StatusOK && code < http.StatusMultipleChoices
}

// newPrepaySign 根据 prepay_id 生成客户端调起支付参数
func newPrepaySign(signer Signer, appID, prepayID string, now time.Time) (*PrepaySign, error) {
	ps := &PrepaySign{
		AppID:     appID,
		TimeStamp: strconv.FormatInt(now.Unix(), 10),
		NonceStr:  Nonce(),
		Package:   "prepay_id=" + prepayID,
		SignType:  string(signer.Type()),
		PrepayID:  prepayID,
	}

	sign, err := signer.Sign(ps.AppID, ps.TimeStamp, ps.NonceStr, ps.Package)
	if err != nil {
		return nil, err
	}

	ps.PaySign = sign

	return ps, nil
}

// firstNonEmpty 返回第一个非空字符串
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if len(v) != 0 {
			return v
		}
	}

	return ""
}
