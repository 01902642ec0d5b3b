package wxpay

import (
	"fmt"
	"net/http"
	"time"
)

const (
	legacyPrepayPath = "/pay/unifiedorder"
	legacyRefundPath = "/secapi/pay/refund"
)

// TradeTypeJSAPI JSAPI支付
const TradeTypeJSAPI = "JSAPI"

var legacyAck = []byte("<xml><return_code><![CDATA[SUCCESS]]></return_code><return_msg><![CDATA[OK]]></return_msg></xml>")

// LegacyAdapter APIv2（XML）协议适配器
type LegacyAdapter struct {
	cfg            *Config
	cred           *Credentials
	signType       SignType // 退款请求签名类型
	notifySignType SignType // 通知未携带 sign_type 时使用
	signer         Signer   // 客户端支付参数签名
	now            func() time.Time
}

// Version 协议版本
func (a *LegacyAdapter) Version() Version {
	return VersionLegacy
}

// BuildPrepayRequest 统一下单（JSAPI），HMAC-SHA256签名
func (a *LegacyAdapter) BuildPrepayRequest(params Params) (*Request, error) {
	v := V{
		"appid":        firstNonEmpty(params.String("appid"), a.cfg.AppID),
		"mch_id":       firstNonEmpty(params.String("mchid"), a.cred.MchID()),
		"nonce_str":    Nonce(),
		"trade_type":   TradeTypeJSAPI,
		"body":         params.String("description"),
		"out_trade_no": params.String("out_trade_no"),
		"total_fee":    params.String("amount.total"),
		"openid":       params.String("payer.openid"),
		"notify_url":   firstNonEmpty(params.String("notify_url"), a.cfg.PayNotifyURL),
		"sign_type":    string(SignHMacSHA256),
	}

	setNotEmpty(v, "attach", params.String("attach"))
	setNotEmpty(v, "goods_tag", params.String("goods_tag"))
	setNotEmpty(v, "fee_type", params.String("amount.currency"))
	setNotEmpty(v, "spbill_create_ip", params.String("scene_info.payer_client_ip"))
	setNotEmpty(v, "device_info", params.String("scene_info.device_id"))
	setNotEmpty(v, "time_expire", legacyTime(params.String("time_expire")))

	v.Set("sign", SignWithHMacSHA256(v, a.cred.SecretKey()))

	return a.newRequest(legacyPrepayPath, v, false), nil
}

// ParsePrepayResponse 解析统一下单结果
func (a *LegacyAdapter) ParsePrepayResponse(params Params, resp *Response) (*PrepaySign, error) {
	v, err := a.parseResponse(resp, SignHMacSHA256)
	if err != nil {
		return nil, err
	}

	prepayID := v.Get("prepay_id")
	if len(prepayID) == 0 {
		return nil, fmt.Errorf("%w: missing prepay_id", ErrParse)
	}

	ps, err := newPrepaySign(a.signer, firstNonEmpty(params.String("appid"), a.cfg.AppID, v.Get("appid")), prepayID, a.now())
	if err != nil {
		return nil, err
	}

	ps.Raw = resp.Body

	return ps, nil
}

// BuildRefundRequest 申请退款，需要商户API证书（双向TLS）
func (a *LegacyAdapter) BuildRefundRequest(params Params) (*Request, error) {
	if a.cred.MchCert() == nil {
		return nil, configErr("merchant_certificate_path is required for refund")
	}

	v := V{
		"appid":         firstNonEmpty(params.String("appid"), a.cfg.AppID),
		"mch_id":        firstNonEmpty(params.String("mchid"), a.cred.MchID()),
		"nonce_str":     Nonce(),
		"out_refund_no": params.String("out_refund_no"),
		"total_fee":     params.String("amount.total"),
		"refund_fee":    params.String("amount.refund"),
		"notify_url":    firstNonEmpty(params.String("notify_url"), a.cfg.RefundNotifyURL),
		"sign_type":     string(a.signType),
	}

	setNotEmpty(v, "out_trade_no", params.String("out_trade_no"))
	setNotEmpty(v, "transaction_id", params.String("transaction_id"))
	setNotEmpty(v, "refund_fee_type", params.String("amount.currency"))
	setNotEmpty(v, "refund_desc", params.String("reason"))
	setNotEmpty(v, "refund_account", legacyRefundAccount(params.String("funds_account")))

	sign, err := signV(a.signType, v, a.cred.SecretKey())
	if err != nil {
		return nil, err
	}

	v.Set("sign", sign)

	return a.newRequest(legacyRefundPath, v, true), nil
}

// ParseRefundResponse 解析退款结果
func (a *LegacyAdapter) ParseRefundResponse(resp *Response) (*RefundResult, error) {
	v, err := a.parseResponse(resp, a.signType)
	if err != nil {
		return nil, err
	}

	ret := mapLegacyRefund(v)
	ret.Raw = resp.Body

	return ret, nil
}

// DecodeNotify 解析支付/退款通知；return_code=FAIL 时直接返回 ProtocolError
func (a *LegacyAdapter) DecodeNotify(_ http.Header, body []byte) (*Notification, error) {
	v, err := ParseXML(body)
	if err != nil {
		return nil, err
	}

	if v.Get("return_code") != CodeSuccess {
		return nil, &ProtocolError{Code: v.Get("return_code"), Msg: v.Get("return_msg"), Raw: body}
	}

	// 退款通知：req_info 为加密数据
	if reqInfo := v.Get("req_info"); len(reqInfo) != 0 {
		if v.Has("sign") {
			if err = verifyLegacySign(v, a.notifySignType, a.cred.SecretKey()); err != nil {
				return nil, err
			}
		}

		inner, err := decryptReqInfo(reqInfo, a.cred.SecretKey())
		if err != nil {
			return nil, err
		}

		for _, k := range []string{"appid", "mch_id"} {
			if !inner.Has(k) {
				inner.Set(k, v.Get(k))
			}
		}

		return &Notification{
			Version:  VersionLegacy,
			Kind:     NotifyRefunded,
			Success:  inner.Get("refund_status") == CodeSuccess,
			Resource: FormatXML(inner),
			Refunded: mapLegacyRefunded(inner),
		}, nil
	}

	if err = verifyLegacySign(v, a.notifySignType, a.cred.SecretKey()); err != nil {
		return nil, err
	}

	return &Notification{
		Version:  VersionLegacy,
		Kind:     NotifyPaid,
		Success:  v.Get("result_code") == CodeSuccess,
		Resource: body,
		Paid:     mapLegacyPaid(v),
	}, nil
}

// AckResponse 通知应答
func (a *LegacyAdapter) AckResponse() *AckResponse {
	body := make([]byte, len(legacyAck))
	copy(body, legacyAck)

	return &AckResponse{
		StatusCode:  http.StatusOK,
		ContentType: "application/xml",
		Body:        body,
	}
}

func (a *LegacyAdapter) newRequest(path string, v V, mutualTLS bool) *Request {
	return &Request{
		Method:      http.MethodPost,
		Path:        path,
		Header:      http.Header{},
		Body:        FormatXML(v),
		ContentType: "application/xml; charset=utf-8",
		MutualTLS:   mutualTLS,
	}
}

// parseResponse 解析应答：return_code -> sign -> result_code
func (a *LegacyAdapter) parseResponse(resp *Response, typ SignType) (V, error) {
	if !isSuccessStatus(resp.StatusCode) {
		return nil, &TransportError{StatusCode: resp.StatusCode, Body: string(resp.Body)}
	}

	v, err := ParseXML(resp.Body)
	if err != nil {
		return nil, err
	}

	if v.Get("return_code") != CodeSuccess {
		return nil, &ProtocolError{Code: v.Get("return_code"), Msg: v.Get("return_msg"), Raw: resp.Body}
	}

	if v.Has("sign") {
		if err = verifyLegacySign(v, typ, a.cred.SecretKey()); err != nil {
			return nil, err
		}
	}

	if v.Get("result_code") != CodeSuccess {
		return nil, &BusinessError{Code: v.Get("err_code"), Msg: v.Get("err_code_des"), Raw: resp.Body}
	}

	return v, nil
}

// NewLegacyAdapter 生成APIv2适配器
func NewLegacyAdapter(cfg *Config, cred *Credentials, now func() time.Time) (*LegacyAdapter, error) {
	if err := cred.Check(VersionLegacy); err != nil {
		return nil, err
	}

	signType, err := ParseSignType(cfg.SignType, SignHMacSHA256)
	if err != nil {
		return nil, err
	}

	if signType == SignRSA {
		return nil, configErr("sign_type %s is not supported for APIv2 requests", signType)
	}

	notifySignType, err := ParseSignType(cfg.NotifySignType, SignMD5)
	if err != nil {
		return nil, err
	}

	if notifySignType == SignRSA {
		return nil, configErr("notify_sign_type %s is not supported for APIv2 notifications", notifySignType)
	}

	clientSignType, err := ParseSignType(cfg.ClientSignType, SignHMacSHA256)
	if err != nil {
		return nil, err
	}

	signer, err := NewSigner(clientSignType, cred)
	if err != nil {
		return nil, err
	}

	if now == nil {
		now = time.Now
	}

	return &LegacyAdapter{
		cfg:            cfg,
		cred:           cred,
		signType:       signType,
		notifySignType: notifySignType,
		signer:         signer,
		now:            now,
	}, nil
}

func setNotEmpty(v V, key, value string) {
	if len(value) != 0 {
		v.Set(key, value)
	}
}

// legacyTime APIv3格式（RFC3339）的时间转换为 yyyyMMddHHmmss
func legacyTime(s string) string {
	if len(s) == 0 {
		return ""
	}

	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return s
	}

	return t.In(timezoneCST).Format("20060102150405")
}

// legacyRefundAccount APIv3 funds_account 对应的APIv2 refund_account
func legacyRefundAccount(s string) string {
	switch s {
	case "":
		return ""
	case "AVAILABLE":
		return "REFUND_SOURCE_RECHARGE_FUNDS"
	case "UNSETTLED":
		return "REFUND_SOURCE_UNSETTLED_FUNDS"
	}

	return s
}
