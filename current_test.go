package wxpay

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type currentSuite struct {
	cfg     *Config
	mchKey  *PrivateKey
	platKey *PrivateKey
	cred    *Credentials
	adapter *CurrentAdapter
}

func newCurrentSuite(t *testing.T) *currentSuite {
	t.Helper()

	s := &currentSuite{
		cfg: &Config{
			Version:         "current",
			AppID:           "wxd678efh567hg6787",
			MchID:           "1900000109",
			SecretKey:       testSecretV3,
			SerialNO:        testMchSerial,
			PayNotifyURL:    "https://example.com/wxpay/notify",
			RefundNotifyURL: "https://example.com/wxpay/refund",
			NotifyTolerance: DefaultNotifyTolerance,
		},
		mchKey:  NewPrivateKey(newTestRSAKey(t)),
		platKey: NewPrivateKey(newTestRSAKey(t)),
	}

	s.cred = NewCredentials(s.cfg.MchID, s.cfg.SecretKey, s.cfg.SerialNO,
		WithPrivateKey(s.mchKey),
		WithPlatformKey(testPlatSNHex, s.platKey.Public()),
	)

	adapter, err := NewCurrentAdapter(s.cfg, s.cred, testClock)
	require.NoError(t, err)

	s.adapter = adapter

	return s
}

// notifyBody 生成加密后的APIv3通知报文及签名头
func (s *currentSuite) notifyBody(t *testing.T, eventType, resource string) ([]byte, http.Header) {
	t.Helper()

	body, err := json.Marshal(map[string]any{
		"id":            "EV-2018022511223320873",
		"create_time":   "2015-05-20T13:29:35+08:00",
		"resource_type": "encrypt-resource",
		"event_type":    eventType,
		"summary":       "支付成功",
		"resource":      encryptResource(t, testSecretV3, resource),
	})
	require.NoError(t, err)

	return body, signHeader(t, s.platKey.key, testPlatSNHex, testNow, body)
}

var authRegexp = regexp.MustCompile(`^WECHATPAY2-SHA256-RSA2048 mchid="([^"]*)",nonce_str="([^"]*)",signature="([^"]*)",timestamp="([^"]*)",serial_no="([^"]*)"$`)

func TestCurrentBuildPrepayRequest(t *testing.T) {
	s := newCurrentSuite(t)

	req, err := s.adapter.BuildPrepayRequest(Params{
		"description":  "test",
		"out_trade_no": "ORDER123",
		"amount":       map[string]any{"total": 101, "currency": "CNY"},
		"payer":        map[string]any{"openid": "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o"},
	})
	require.NoError(t, err)

	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/v3/pay/transactions/jsapi", req.Path)
	assert.Equal(t, "application/json", req.ContentType)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, int64(101), body.Get("amount.total").Int())
	assert.Equal(t, "1900000109", body.Get("mchid").String())
	assert.Equal(t, "wxd678efh567hg6787", body.Get("appid").String())
	assert.Equal(t, "https://example.com/wxpay/notify", body.Get("notify_url").String())
	assert.Equal(t, "ORDER123", body.Get("out_trade_no").String())
	assert.Equal(t, "test", body.Get("description").String())
	assert.Equal(t, "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o", body.Get("payer.openid").String())

	m := authRegexp.FindStringSubmatch(req.Header.Get("Authorization"))
	require.Len(t, m, 6)
	assert.Equal(t, "1900000109", m[1])
	assert.Equal(t, "1700000000", m[4])
	assert.Equal(t, testMchSerial, m[5])

	assert.NoError(t, VerifyWithRSA(s.mchKey.Public(), m[3], http.MethodPost, "/v3/pay/transactions/jsapi", m[4], m[2], string(req.Body)))
}

func TestCurrentBuildPrepayRequestKeepsParams(t *testing.T) {
	s := newCurrentSuite(t)

	params := Params{
		"appid":      "wx8888888888888888",
		"notify_url": "https://example.com/other",
		"amount":     map[string]any{"total": 1},
	}

	req, err := s.adapter.BuildPrepayRequest(params)
	require.NoError(t, err)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "wx8888888888888888", body.Get("appid").String())
	assert.Equal(t, "https://example.com/other", body.Get("notify_url").String())

	// 入参不被修改
	_, ok := params.Get("mchid")
	assert.False(t, ok)
}

func TestCurrentParsePrepayResponse(t *testing.T) {
	s := newCurrentSuite(t)

	ps, err := s.adapter.ParsePrepayResponse(Params{}, &Response{StatusCode: http.StatusOK, Body: []byte(`{"prepay_id":"wx1234"}`)})
	require.NoError(t, err)

	assert.Equal(t, "wxd678efh567hg6787", ps.AppID)
	assert.Equal(t, "1700000000", ps.TimeStamp)
	assert.Equal(t, "prepay_id=wx1234", ps.Package)
	assert.Equal(t, "RSA", ps.SignType)
	assert.Equal(t, `{"prepay_id":"wx1234"}`, string(ps.Raw))
	assert.NotEmpty(t, ps.PaySign)
	assert.NoError(t, VerifyWithRSA(s.mchKey.Public(), ps.PaySign, ps.AppID, ps.TimeStamp, ps.NonceStr, ps.Package))

	b, err := json.Marshal(ps)
	require.NoError(t, err)
	assert.Equal(t, "RSA", gjson.GetBytes(b, "signType").String())
	assert.Equal(t, ps.PaySign, gjson.GetBytes(b, "paySign").String())
	assert.False(t, gjson.GetBytes(b, "PrepayID").Exists())
}

func TestCurrentResponseErrors(t *testing.T) {
	s := newCurrentSuite(t)

	t.Run("business", func(t *testing.T) {
		_, err := s.adapter.ParsePrepayResponse(Params{}, &Response{
			StatusCode: http.StatusBadRequest,
			Body:       []byte(`{"code":"PARAM_ERROR","message":"参数错误"}`),
		})

		var be *BusinessError
		require.True(t, errors.As(err, &be))
		assert.Equal(t, http.StatusBadRequest, be.StatusCode)
		assert.Equal(t, "PARAM_ERROR", be.Code)
		assert.Equal(t, "参数错误", be.Msg)
		assert.JSONEq(t, `{"code":"PARAM_ERROR","message":"参数错误"}`, string(be.Raw))
		assert.ErrorIs(t, err, ErrGatewayBusiness)
	})

	t.Run("transport", func(t *testing.T) {
		_, err := s.adapter.ParseRefundResponse(&Response{StatusCode: http.StatusBadGateway, Body: []byte("<html>bad gateway</html>")})
		assert.ErrorIs(t, err, ErrTransport)
		assert.NotErrorIs(t, err, ErrGatewayBusiness)
	})

	t.Run("malformed", func(t *testing.T) {
		_, err := s.adapter.ParseRefundResponse(&Response{StatusCode: http.StatusOK, Body: []byte("{")})
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("prepay_id", func(t *testing.T) {
		_, err := s.adapter.ParsePrepayResponse(Params{}, &Response{StatusCode: http.StatusOK, Body: []byte(`{}`)})
		assert.ErrorIs(t, err, ErrParse)
	})

	t.Run("signature", func(t *testing.T) {
		body := []byte(`{"prepay_id":"wx1234"}`)
		header := signHeader(t, s.platKey.key, testPlatSNHex, testNow, body)

		_, err := s.adapter.ParsePrepayResponse(Params{}, &Response{StatusCode: http.StatusOK, Header: header, Body: body})
		require.NoError(t, err)

		_, err = s.adapter.ParsePrepayResponse(Params{}, &Response{StatusCode: http.StatusOK, Header: header, Body: []byte(`{"prepay_id":"wx5678"}`)})
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})
}

func TestCurrentBuildRefundRequest(t *testing.T) {
	s := newCurrentSuite(t)

	req, err := s.adapter.BuildRefundRequest(Params{
		"transaction_id": "1217752501201407033233368018",
		"out_refund_no":  "1217752501201407033233368018",
		"reason":         "商品已售完",
		"amount":         map[string]any{"refund": 888, "total": 888, "currency": "CNY"},
	})
	require.NoError(t, err)

	assert.Equal(t, "/v3/refund/domestic/refunds", req.Path)
	assert.False(t, req.MutualTLS)

	body := gjson.ParseBytes(req.Body)
	assert.Equal(t, "https://example.com/wxpay/refund", body.Get("notify_url").String())
	assert.Equal(t, int64(888), body.Get("amount.refund").Int())
	assert.False(t, body.Get("mchid").Exists())

	assert.True(t, strings.HasPrefix(req.Header.Get("Authorization"), AuthScheme+" "))
}

func TestCurrentParseRefundResponse(t *testing.T) {
	s := newCurrentSuite(t)

	body := `{
		"refund_id": "50000000382019052709732678859",
		"out_refund_no": "1217752501201407033233368018",
		"transaction_id": "1217752501201407033233368018",
		"out_trade_no": "1217752501201407033233368018",
		"channel": "ORIGINAL",
		"user_received_account": "招商银行信用卡0403",
		"success_time": "2020-12-01T16:18:12+08:00",
		"create_time": "2020-12-01T16:18:12+08:00",
		"status": "SUCCESS",
		"funds_account": "UNSETTLED",
		"amount": {
			"total": 100,
			"refund": 100,
			"from": [{"account": "AVAILABLE", "amount": 444}],
			"payer_total": 90,
			"payer_refund": 90,
			"settlement_refund": 100,
			"settlement_total": 100,
			"discount_refund": 10,
			"currency": "CNY",
			"refund_fee": 1
		},
		"promotion_detail": [{
			"promotion_id": "109519",
			"scope": "SINGLE",
			"type": "DISCOUNT",
			"amount": 5,
			"refund_amount": 10,
			"goods_detail": [{
				"merchant_goods_id": "1217752501201407033233368018",
				"wechatpay_goods_id": "1001",
				"goods_name": "iPhone6s 16G",
				"unit_price": 528800,
				"refund_amount": 528800,
				"refund_quantity": 1
			}]
		}]
	}`

	ret, err := s.adapter.ParseRefundResponse(&Response{StatusCode: http.StatusOK, Body: []byte(body)})
	require.NoError(t, err)

	assert.Equal(t, "50000000382019052709732678859", ret.RefundID)
	assert.Equal(t, "ORIGINAL", ret.Channel)
	assert.Equal(t, []byte(body), ret.Raw)
	assert.Equal(t, "招商银行信用卡0403", ret.UserReceivedAccount)
	assert.Equal(t, "UNSETTLED", ret.FundsAccount)
	assert.Equal(t, "SUCCESS", ret.Status)
	assert.Equal(t, int64(1606810692), ret.SuccessTime.Unix())

	assert.Equal(t, Amount{
		Total:            100,
		Refund:           100,
		PayerTotal:       90,
		PayerRefund:      90,
		SettlementTotal:  100,
		SettlementRefund: 100,
		DiscountRefund:   10,
		RefundFee:        1,
		Currency:         "CNY",
		PayerCurrency:    "CNY",
	}, ret.Amount)

	assert.Equal(t, []FundingSource{{Account: "AVAILABLE", Amount: 444}}, ret.FundingSources)

	require.Len(t, ret.PromotionDetails, 1)
	assert.Equal(t, "109519", ret.PromotionDetails[0].PromotionID)
	assert.Equal(t, int64(10), ret.PromotionDetails[0].RefundAmount)
	assert.Equal(t, []GoodsDetail{{
		MerchantGoodsID:  "1217752501201407033233368018",
		WechatpayGoodsID: "1001",
		GoodsName:        "iPhone6s 16G",
		Quantity:         1,
		UnitPrice:        528800,
		RefundAmount:     528800,
	}}, ret.PromotionDetails[0].Goods)
}

func TestCurrentDecodePaidNotify(t *testing.T) {
	s := newCurrentSuite(t)

	resource := `{
		"transaction_id": "1217752501201407033233368018",
		"amount": {"payer_total": 90, "total": 100, "currency": "CNY", "payer_currency": "CNY"},
		"mchid": "1900000109",
		"trade_state": "SUCCESS",
		"bank_type": "CMC",
		"promotion_detail": [{
			"amount": 10,
			"wechatpay_contribute": 0,
			"coupon_id": "109519",
			"scope": "GLOBAL",
			"merchant_contribute": 0,
			"name": "单品惠-6",
			"other_contribute": 0,
			"currency": "CNY",
			"stock_id": "931386",
			"goods_detail": [{"goods_remark": "商品备注信息", "quantity": 1, "discount_amount": 1, "goods_id": "M1006", "unit_price": 100}]
		}],
		"success_time": "2018-06-08T10:34:56+08:00",
		"payer": {"openid": "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o"},
		"out_trade_no": "1217752501201407033233368018",
		"appid": "wxd678efh567hg6787",
		"trade_state_desc": "支付成功",
		"trade_type": "JSAPI",
		"attach": "自定义数据",
		"scene_info": {"device_id": "013467007045764"}
	}`

	body, header := s.notifyBody(t, "TRANSACTION.SUCCESS", resource)

	n, err := s.adapter.DecodeNotify(header, body)
	require.NoError(t, err)

	assert.Equal(t, VersionCurrent, n.Version)
	assert.Equal(t, NotifyPaid, n.Kind)
	assert.True(t, n.Success)
	assert.Equal(t, "EV-2018022511223320873", n.ID)
	assert.Equal(t, "TRANSACTION.SUCCESS", n.EventType)
	assert.Equal(t, "encrypt-resource", n.ResourceType)
	assert.Equal(t, "支付成功", n.Summary)
	assert.Equal(t, int64(1432099775), n.CreateTime.Unix())
	assert.JSONEq(t, resource, string(n.Resource))
	assert.Nil(t, n.Refunded)
	require.NotNil(t, n.Paid)

	p := n.Paid
	assert.Equal(t, "wxd678efh567hg6787", p.AppID)
	assert.Equal(t, "1900000109", p.MchID)
	assert.Equal(t, "1217752501201407033233368018", p.OutTradeNO)
	assert.Equal(t, "JSAPI", p.TradeType)
	assert.Equal(t, "SUCCESS", p.TradeState)
	assert.Equal(t, "支付成功", p.TradeStateDesc)
	assert.Equal(t, "CMC", p.BankType)
	assert.Equal(t, "自定义数据", p.Attach)
	assert.Equal(t, "oUpF8uMuAJO_M2pxb1Q9zNjWeS6o", p.PayerID)
	assert.Equal(t, "013467007045764", p.DeviceID)
	assert.Equal(t, int64(100), p.Amount.Total)
	assert.Equal(t, int64(90), p.Amount.PayerTotal)
	assert.Equal(t, int64(1528425296), p.SuccessTime.Unix())

	require.Len(t, p.PromotionDetails, 1)
	assert.Equal(t, "109519", p.PromotionDetails[0].PromotionID)
	assert.Equal(t, "单品惠-6", p.PromotionDetails[0].Name)
	assert.Equal(t, "931386", p.PromotionDetails[0].StockID)
	assert.Equal(t, int64(10), p.PromotionDetails[0].Amount)
	assert.Equal(t, []GoodsDetail{{
		MerchantGoodsID: "M1006",
		GoodsRemark:     "商品备注信息",
		Quantity:        1,
		UnitPrice:       100,
		DiscountAmount:  1,
	}}, p.PromotionDetails[0].Goods)
}

func TestCurrentDecodeRefundedNotify(t *testing.T) {
	s := newCurrentSuite(t)

	resource := `{
		"mchid": "1900000100",
		"transaction_id": "1008450740201411110005820873",
		"out_trade_no": "20150806125346",
		"refund_id": "50200207182018070300011301001",
		"out_refund_no": "7752501201407033233368018",
		"refund_status": "SUCCESS",
		"success_time": "2018-06-08T10:34:56+08:00",
		"user_received_account": "招商银行信用卡0403",
		"amount": {"total": 999, "refund": 999, "payer_total": 999, "payer_refund": 999}
	}`

	body, header := s.notifyBody(t, "REFUND.SUCCESS", resource)

	n, err := s.adapter.DecodeNotify(header, body)
	require.NoError(t, err)

	assert.Equal(t, NotifyRefunded, n.Kind)
	assert.True(t, n.Success)
	require.NotNil(t, n.Refunded)

	r := n.Refunded
	assert.Equal(t, "1900000100", r.MchID)
	assert.Equal(t, "7752501201407033233368018", r.OutRefundNO)
	assert.Equal(t, "50200207182018070300011301001", r.RefundID)
	assert.Equal(t, "SUCCESS", r.RefundStatus)
	assert.Equal(t, "招商银行信用卡0403", r.UserReceivedAccount)
	assert.Equal(t, int64(999), r.Amount.PayerRefund)
	assert.Equal(t, "CNY", r.Amount.Currency)

	body, header = s.notifyBody(t, "REFUND.ABNORMAL", strings.Replace(resource, `"refund_status": "SUCCESS"`, `"refund_status": "ABNORMAL"`, 1))

	n, err = s.adapter.DecodeNotify(header, body)
	require.NoError(t, err)
	assert.False(t, n.Success)
	assert.Equal(t, "ABNORMAL", n.Refunded.RefundStatus)
}

func TestCurrentDecodeNotifyFailures(t *testing.T) {
	s := newCurrentSuite(t)

	body, header := s.notifyBody(t, "TRANSACTION.SUCCESS", `{"out_trade_no":"ORDER123"}`)

	t.Run("tampered", func(t *testing.T) {
		tampered := []byte(strings.Replace(string(body), "EV-2018022511223320873", "EV-2018022511223320874", 1))

		n, err := s.adapter.DecodeNotify(header, tampered)
		assert.Nil(t, n)
		assert.ErrorIs(t, err, ErrSignatureInvalid)
	})

	t.Run("expired", func(t *testing.T) {
		expired := signHeader(t, s.platKey.key, testPlatSNHex, testNow.Add(-DefaultNotifyTolerance-1e9), body)

		n, err := s.adapter.DecodeNotify(expired, body)
		assert.Nil(t, n)
		assert.ErrorIs(t, err, ErrTimestampExpired)
	})

	t.Run("decryption", func(t *testing.T) {
		// 签名有效但密文无法解密
		var m map[string]any
		require.NoError(t, json.Unmarshal(body, &m))

		m["resource"].(map[string]any)["associated_data"] = "refund"

		b, err := json.Marshal(m)
		require.NoError(t, err)

		n, err := s.adapter.DecodeNotify(signHeader(t, s.platKey.key, testPlatSNHex, testNow, b), b)
		assert.Nil(t, n)
		assert.ErrorIs(t, err, ErrDecryption)
	})

	t.Run("malformed", func(t *testing.T) {
		b := []byte("not json")

		_, err := s.adapter.DecodeNotify(signHeader(t, s.platKey.key, testPlatSNHex, testNow, b), b)
		assert.ErrorIs(t, err, ErrParse)
	})
}

func TestCurrentAckResponse(t *testing.T) {
	s := newCurrentSuite(t)

	ack1 := s.adapter.AckResponse()
	ack2 := s.adapter.AckResponse()

	assert.Equal(t, ack1, ack2)
	assert.Equal(t, http.StatusOK, ack1.StatusCode)
	assert.Equal(t, "application/json", ack1.ContentType)
	assert.JSONEq(t, `{"code":"SUCCESS","message":""}`, string(ack1.Body))
}

func TestNewCurrentAdapterConfig(t *testing.T) {
	s := newCurrentSuite(t)

	cases := map[string]*Credentials{
		"secret length": NewCredentials("1900000109", "short", testMchSerial, WithPrivateKey(s.mchKey), WithPlatformKey(testPlatSNHex, s.platKey.Public())),
		"serial":        NewCredentials("1900000109", testSecretV3, "", WithPrivateKey(s.mchKey), WithPlatformKey(testPlatSNHex, s.platKey.Public())),
		"private key":   NewCredentials("1900000109", testSecretV3, testMchSerial, WithPlatformKey(testPlatSNHex, s.platKey.Public())),
		"platform":      NewCredentials("1900000109", testSecretV3, testMchSerial, WithPrivateKey(s.mchKey)),
		"merchant":      NewCredentials("", testSecretV3, testMchSerial, WithPrivateKey(s.mchKey), WithPlatformKey(testPlatSNHex, s.platKey.Public())),
	}

	for name, cred := range cases {
		_, err := NewCurrentAdapter(s.cfg, cred, testClock)
		assert.ErrorIs(t, err, ErrConfiguration, name)
	}
}
