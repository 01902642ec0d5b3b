package wxpay

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

const (
	currentPrepayPath = "/v3/pay/transactions/jsapi"
	currentRefundPath = "/v3/refund/domestic/refunds"
)

// AuthScheme APIv3 Authorization 认证类型
const AuthScheme = "WECHATPAY2-SHA256-RSA2048"

var currentAck = []byte(`{"code":"SUCCESS","message":""}`)

// CurrentAdapter APIv3（JSON）协议适配器
type CurrentAdapter struct {
	cfg      *Config
	cred     *Credentials
	signer   Signer
	verifier *NotifyVerifier
	now      func() time.Time
}

// Version 协议版本
func (a *CurrentAdapter) Version() Version {
	return VersionCurrent
}

// BuildPrepayRequest JSAPI下单
func (a *CurrentAdapter) BuildPrepayRequest(params Params) (*Request, error) {
	p := params.Clone()

	setDefault(p, "mchid", a.cred.MchID())
	setDefault(p, "appid", a.cfg.AppID)
	setDefault(p, "notify_url", a.cfg.PayNotifyURL)

	return a.newRequest(http.MethodPost, currentPrepayPath, p)
}

// ParsePrepayResponse 解析下单结果，客户端支付参数使用RSA签名
func (a *CurrentAdapter) ParsePrepayResponse(params Params, resp *Response) (*PrepaySign, error) {
	ret, err := a.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	prepayID := ret.Get("prepay_id").String()
	if len(prepayID) == 0 {
		return nil, fmt.Errorf("%w: missing prepay_id", ErrParse)
	}

	ps, err := newPrepaySign(a.signer, firstNonEmpty(params.String("appid"), a.cfg.AppID), prepayID, a.now())
	if err != nil {
		return nil, err
	}

	ps.Raw = resp.Body

	return ps, nil
}

// BuildRefundRequest 申请退款
func (a *CurrentAdapter) BuildRefundRequest(params Params) (*Request, error) {
	p := params.Clone()

	setDefault(p, "notify_url", a.cfg.RefundNotifyURL)

	return a.newRequest(http.MethodPost, currentRefundPath, p)
}

// ParseRefundResponse 解析退款结果
func (a *CurrentAdapter) ParseRefundResponse(resp *Response) (*RefundResult, error) {
	ret, err := a.parseResponse(resp)
	if err != nil {
		return nil, err
	}

	refund := mapCurrentRefund(ret)
	refund.Raw = resp.Body

	return refund, nil
}

// DecodeNotify 验签并解密通知
func (a *CurrentAdapter) DecodeNotify(header http.Header, body []byte) (*Notification, error) {
	if err := a.verifier.Verify(header, body); err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: invalid notification json", ErrParse)
	}

	ret := gjson.ParseBytes(body)

	plainText, err := a.verifier.Decrypt(ret.Get("resource"))
	if err != nil {
		return nil, err
	}

	if !gjson.ValidBytes(plainText) {
		return nil, fmt.Errorf("%w: invalid resource json", ErrParse)
	}

	n := &Notification{
		Version:      VersionCurrent,
		ID:           ret.Get("id").String(),
		CreateTime:   parseTime(ret.Get("create_time").String()),
		EventType:    ret.Get("event_type").String(),
		ResourceType: ret.Get("resource_type").String(),
		Summary:      ret.Get("summary").String(),
		Resource:     plainText,
	}

	resource := gjson.ParseBytes(plainText)

	switch {
	case strings.HasPrefix(n.EventType, "TRANSACTION."):
		n.Kind = NotifyPaid
		n.Paid = mapCurrentPaid(resource)
		n.Success = n.Paid.TradeState == CodeSuccess
	case strings.HasPrefix(n.EventType, "REFUND."):
		n.Kind = NotifyRefunded
		n.Refunded = mapCurrentRefunded(resource)
		n.Success = n.Refunded.RefundStatus == CodeSuccess
	}

	return n, nil
}

// AckResponse 通知应答
func (a *CurrentAdapter) AckResponse() *AckResponse {
	body := make([]byte, len(currentAck))
	copy(body, currentAck)

	return &AckResponse{
		StatusCode:  http.StatusOK,
		ContentType: "application/json",
		Body:        body,
	}
}

// Authorization 生成请求签名头，签名串为 `METHOD\nPATH\nTIMESTAMP\nNONCE\nBODY\n`
func (a *CurrentAdapter) Authorization(method, path string, body []byte) (string, error) {
	nonce := Nonce()
	timestamp := strconv.FormatInt(a.now().Unix(), 10)

	sign, err := SignWithRSA(a.cred.PrivateKey(), method, path, timestamp, nonce, string(body))
	if err != nil {
		return "", err
	}

	var builder strings.Builder

	builder.WriteString(AuthScheme)
	builder.WriteString(` mchid="`)
	builder.WriteString(a.cred.MchID())
	builder.WriteString(`",nonce_str="`)
	builder.WriteString(nonce)
	builder.WriteString(`",signature="`)
	builder.WriteString(sign)
	builder.WriteString(`",timestamp="`)
	builder.WriteString(timestamp)
	builder.WriteString(`",serial_no="`)
	builder.WriteString(a.cred.SerialNO())
	builder.WriteString(`"`)

	return builder.String(), nil
}

func (a *CurrentAdapter) newRequest(method, path string, p Params) (*Request, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}

	auth, err := a.Authorization(method, path, body)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", auth)
	header.Set("Accept", "application/json")

	return &Request{
		Method:      method,
		Path:        path,
		Header:      header,
		Body:        body,
		ContentType: "application/json",
	}, nil
}

// parseResponse 非2xx：携带 {code,message} 时为 BusinessError，否则为 TransportError；应答携带签名时验签
func (a *CurrentAdapter) parseResponse(resp *Response) (gjson.Result, error) {
	if !isSuccessStatus(resp.StatusCode) {
		if gjson.ValidBytes(resp.Body) {
			ret := gjson.ParseBytes(resp.Body)

			if code := ret.Get("code"); code.Exists() {
				return fail(&BusinessError{
					StatusCode: resp.StatusCode,
					Code:       code.String(),
					Msg:        ret.Get("message").String(),
					Raw:        resp.Body,
				})
			}
		}

		return fail(&TransportError{StatusCode: resp.StatusCode, Body: string(resp.Body)})
	}

	if len(resp.Header.Get(HeaderSignature)) != 0 {
		if err := a.verifier.Verify(resp.Header, resp.Body); err != nil {
			return fail(err)
		}
	}

	if !gjson.ValidBytes(resp.Body) {
		return fail(fmt.Errorf("%w: invalid response json", ErrParse))
	}

	return gjson.ParseBytes(resp.Body), nil
}

// NewCurrentAdapter 生成APIv3适配器
func NewCurrentAdapter(cfg *Config, cred *Credentials, now func() time.Time) (*CurrentAdapter, error) {
	if err := cred.Check(VersionCurrent); err != nil {
		return nil, err
	}

	signer, err := NewSigner(SignRSA, cred)
	if err != nil {
		return nil, err
	}

	if now == nil {
		now = time.Now
	}

	return &CurrentAdapter{
		cfg:      cfg,
		cred:     cred,
		signer:   signer,
		verifier: NewNotifyVerifier(cred, cfg.NotifyTolerance, now),
		now:      now,
	}, nil
}

func setDefault(p Params, key, value string) {
	if len(value) == 0 || len(p.String(key)) != 0 {
		return
	}

	p.Set(key, value)
}

func fail(err error) (gjson.Result, error) {
	return gjson.Result{}, err
}
