package wxpay

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tidwall/gjson"
)

// DefaultCurrency 网关未返回币种时使用
const DefaultCurrency = "CNY"

// RefundStatusProcessing APIv2退款申请受理成功后的状态
const RefundStatusProcessing = "PROCESSING"

// PrepaySign 客户端（JSAPI）调起支付所需参数
type PrepaySign struct {
	AppID     string `json:"appId"`
	TimeStamp string `json:"timeStamp"`
	NonceStr  string `json:"nonceStr"`
	Package   string `json:"package"`
	SignType  string `json:"signType"`
	PaySign   string `json:"paySign"`
	PrepayID  string `json:"-"`
	Raw       []byte `json:"-"` // 下单原始应答
}

// Amount 金额信息，单位：分
type Amount struct {
	Total            int64
	Refund           int64
	PayerTotal       int64
	PayerRefund      int64
	SettlementTotal  int64
	SettlementRefund int64
	DiscountRefund   int64
	RefundFee        int64 // 手续费退款金额
	Currency         string
	PayerCurrency    string
}

// Yuan 分转元
func Yuan(fen int64) decimal.Decimal {
	return decimal.New(fen, -2)
}

// Fen 元转分（四舍五入）
func Fen(yuan decimal.Decimal) int64 {
	return yuan.Shift(2).Round(0).IntPart()
}

// TotalYuan 订单金额（元）
func (a Amount) TotalYuan() decimal.Decimal {
	return Yuan(a.Total)
}

// RefundYuan 退款金额（元）
func (a Amount) RefundYuan() decimal.Decimal {
	return Yuan(a.Refund)
}

// PayerTotalYuan 用户实际支付金额（元）
func (a Amount) PayerTotalYuan() decimal.Decimal {
	return Yuan(a.PayerTotal)
}

// FundingSource 退款出资账户
type FundingSource struct {
	Account string
	Amount  int64
}

// GoodsDetail 单品信息
type GoodsDetail struct {
	MerchantGoodsID  string
	WechatpayGoodsID string
	GoodsName        string
	GoodsRemark      string
	Quantity         int64
	UnitPrice        int64
	DiscountAmount   int64
	RefundAmount     int64
}

// PromotionDetail 优惠（代金券）信息
type PromotionDetail struct {
	PromotionID  string
	Name         string
	Scope        string
	Type         string
	StockID      string
	Currency     string
	Amount       int64
	RefundAmount int64
	Goods        []GoodsDetail
}

// RefundResult 退款申请结果
type RefundResult struct {
	RefundID            string
	OutRefundNO         string
	TransactionID       string
	OutTradeNO          string
	Channel             string
	UserReceivedAccount string
	FundsAccount        string
	Status              string
	SuccessTime         time.Time
	CreateTime          time.Time
	Amount              Amount
	FundingSources      []FundingSource
	PromotionDetails    []PromotionDetail
	Raw                 []byte // 原始应答
}

// PaidNotifyResult 支付成功通知
type PaidNotifyResult struct {
	AppID            string
	MchID            string
	OutTradeNO       string
	TransactionID    string
	TradeType        string
	TradeState       string
	TradeStateDesc   string
	BankType         string
	Attach           string
	SuccessTime      time.Time
	PayerID          string
	DeviceID         string
	Amount           Amount
	PromotionDetails []PromotionDetail
}

// RefundedNotifyResult 退款结果通知
type RefundedNotifyResult struct {
	MchID               string
	OutTradeNO          string
	TransactionID       string
	OutRefundNO         string
	RefundID            string
	RefundStatus        string
	SuccessTime         time.Time
	UserReceivedAccount string
	Amount              Amount
}

func currency(s string) string {
	if len(s) == 0 {
		return DefaultCurrency
	}

	return s
}

// ------------------------------------ APIv2 ------------------------------------

type legacyCouponKeys struct {
	count string
	id    string
	typ   string
	fee   string
}

var (
	legacyRefundCoupons = legacyCouponKeys{count: "coupon_refund_count", id: "coupon_refund_id_", typ: "coupon_type_", fee: "coupon_refund_fee_"}
	legacyPaidCoupons   = legacyCouponKeys{count: "coupon_count", id: "coupon_id_", typ: "coupon_type_", fee: "coupon_fee_"}
)

// legacyCoupons 将 `coupon_xxx_$n` 形式的字段转换为列表；按序号读取直至 count 或字段不存在
func legacyCoupons(v V, keys legacyCouponKeys, refund bool) []PromotionDetail {
	count := -1

	if v.Has(keys.count) {
		count = int(parseInt(v.Get(keys.count)))
	}

	var details []PromotionDetail

	for i := 0; count < 0 || i < count; i++ {
		n := strconv.Itoa(i)

		if !v.Has(keys.id + n) {
			break
		}

		d := PromotionDetail{
			PromotionID: v.Get(keys.id + n),
			Type:        v.Get(keys.typ + n),
			Currency:    DefaultCurrency,
		}

		if refund {
			d.RefundAmount = parseInt(v.Get(keys.fee + n))
		} else {
			d.Amount = parseInt(v.Get(keys.fee + n))
		}

		details = append(details, d)
	}

	return details
}

func mapLegacyRefund(v V) *RefundResult {
	total := parseInt(v.Get("total_fee"))
	refund := parseInt(v.Get("refund_fee"))
	couponRefund := parseInt(v.Get("coupon_refund_fee"))

	amount := Amount{
		Total:            total,
		Refund:           refund,
		PayerTotal:       total,
		PayerRefund:      refund - couponRefund,
		SettlementTotal:  total,
		SettlementRefund: refund,
		DiscountRefund:   couponRefund,
		Currency:         currency(v.Get("fee_type")),
		PayerCurrency:    currency(v.Get("cash_fee_type")),
	}

	if v.Has("cash_fee") {
		amount.PayerTotal = parseInt(v.Get("cash_fee"))
	}

	if v.Has("settlement_total_fee") {
		amount.SettlementTotal = parseInt(v.Get("settlement_total_fee"))
	}

	if v.Has("settlement_refund_fee") {
		amount.SettlementRefund = parseInt(v.Get("settlement_refund_fee"))
	}

	return &RefundResult{
		RefundID:         v.Get("refund_id"),
		OutRefundNO:      v.Get("out_refund_no"),
		TransactionID:    v.Get("transaction_id"),
		OutTradeNO:       v.Get("out_trade_no"),
		Status:           RefundStatusProcessing,
		Amount:           amount,
		PromotionDetails: legacyCoupons(v, legacyRefundCoupons, true),
	}
}

func mapLegacyPaid(v V) *PaidNotifyResult {
	state := CodeSuccess
	if v.Get("result_code") != CodeSuccess {
		state = "PAYERROR"
	}

	total := parseInt(v.Get("total_fee"))

	amount := Amount{
		Total:         total,
		PayerTotal:    total,
		Currency:      currency(v.Get("fee_type")),
		PayerCurrency: currency(v.Get("cash_fee_type")),
	}

	if v.Has("cash_fee") {
		amount.PayerTotal = parseInt(v.Get("cash_fee"))
	}

	return &PaidNotifyResult{
		AppID:            v.Get("appid"),
		MchID:            v.Get("mch_id"),
		OutTradeNO:       v.Get("out_trade_no"),
		TransactionID:    v.Get("transaction_id"),
		TradeType:        v.Get("trade_type"),
		TradeState:       state,
		TradeStateDesc:   v.Get("err_code_des"),
		BankType:         v.Get("bank_type"),
		Attach:           v.Get("attach"),
		SuccessTime:      parseTime(v.Get("time_end")),
		PayerID:          v.Get("openid"),
		DeviceID:         v.Get("device_info"),
		Amount:           amount,
		PromotionDetails: legacyCoupons(v, legacyPaidCoupons, false),
	}
}

func mapLegacyRefunded(v V) *RefundedNotifyResult {
	total := parseInt(v.Get("total_fee"))
	refund := parseInt(v.Get("refund_fee"))

	amount := Amount{
		Total:            total,
		Refund:           refund,
		PayerTotal:       total,
		PayerRefund:      refund - parseInt(v.Get("coupon_refund_fee")),
		SettlementTotal:  total,
		SettlementRefund: refund,
		Currency:         DefaultCurrency,
		PayerCurrency:    DefaultCurrency,
	}

	if v.Has("settlement_total_fee") {
		amount.SettlementTotal = parseInt(v.Get("settlement_total_fee"))
		amount.PayerTotal = amount.SettlementTotal
	}

	if v.Has("settlement_refund_fee") {
		amount.SettlementRefund = parseInt(v.Get("settlement_refund_fee"))
	}

	return &RefundedNotifyResult{
		MchID:               v.Get("mch_id"),
		OutTradeNO:          v.Get("out_trade_no"),
		TransactionID:       v.Get("transaction_id"),
		OutRefundNO:         v.Get("out_refund_no"),
		RefundID:            v.Get("refund_id"),
		RefundStatus:        v.Get("refund_status"),
		SuccessTime:         parseTime(v.Get("success_time")),
		UserReceivedAccount: v.Get("refund_recv_accout"),
		Amount:              amount,
	}
}

// ------------------------------------ APIv3 ------------------------------------

func currentGoods(r gjson.Result) []GoodsDetail {
	var goods []GoodsDetail

	r.ForEach(func(_, g gjson.Result) bool {
		goods = append(goods, GoodsDetail{
			MerchantGoodsID:  g.Get("merchant_goods_id").String(),
			WechatpayGoodsID: g.Get("wechatpay_goods_id").String(),
			GoodsName:        g.Get("goods_name").String(),
			GoodsRemark:      g.Get("goods_remark").String(),
			Quantity:         g.Get("quantity").Int() + g.Get("refund_quantity").Int(),
			UnitPrice:        g.Get("unit_price").Int(),
			DiscountAmount:   g.Get("discount_amount").Int(),
			RefundAmount:     g.Get("refund_amount").Int(),
		})

		// 支付通知中商品编码为 goods_id
		if id := g.Get("goods_id"); id.Exists() {
			goods[len(goods)-1].MerchantGoodsID = id.String()
		}

		return true
	})

	return goods
}

func currentPromotions(r gjson.Result) []PromotionDetail {
	var details []PromotionDetail

	r.ForEach(func(_, p gjson.Result) bool {
		id := p.Get("promotion_id").String()
		if len(id) == 0 {
			id = p.Get("coupon_id").String()
		}

		details = append(details, PromotionDetail{
			PromotionID:  id,
			Name:         p.Get("name").String(),
			Scope:        p.Get("scope").String(),
			Type:         p.Get("type").String(),
			StockID:      p.Get("stock_id").String(),
			Currency:     currency(p.Get("currency").String()),
			Amount:       p.Get("amount").Int(),
			RefundAmount: p.Get("refund_amount").Int(),
			Goods:        currentGoods(p.Get("goods_detail")),
		})

		return true
	})

	return details
}

func currentAmount(r gjson.Result) Amount {
	return Amount{
		Total:            r.Get("total").Int(),
		Refund:           r.Get("refund").Int(),
		PayerTotal:       r.Get("payer_total").Int(),
		PayerRefund:      r.Get("payer_refund").Int(),
		SettlementTotal:  r.Get("settlement_total").Int(),
		SettlementRefund: r.Get("settlement_refund").Int(),
		DiscountRefund:   r.Get("discount_refund").Int(),
		RefundFee:        r.Get("refund_fee").Int(),
		Currency:         currency(r.Get("currency").String()),
		PayerCurrency:    currency(r.Get("payer_currency").String()),
	}
}

func mapCurrentRefund(r gjson.Result) *RefundResult {
	ret := &RefundResult{
		RefundID:            r.Get("refund_id").String(),
		OutRefundNO:         r.Get("out_refund_no").String(),
		TransactionID:       r.Get("transaction_id").String(),
		OutTradeNO:          r.Get("out_trade_no").String(),
		Channel:             r.Get("channel").String(),
		UserReceivedAccount: r.Get("user_received_account").String(),
		FundsAccount:        r.Get("funds_account").String(),
		Status:              r.Get("status").String(),
		SuccessTime:         parseTime(r.Get("success_time").String()),
		CreateTime:          parseTime(r.Get("create_time").String()),
		Amount:              currentAmount(r.Get("amount")),
		PromotionDetails:    currentPromotions(r.Get("promotion_detail")),
	}

	r.Get("amount.from").ForEach(func(_, f gjson.Result) bool {
		ret.FundingSources = append(ret.FundingSources, FundingSource{
			Account: f.Get("account").String(),
			Amount:  f.Get("amount").Int(),
		})

		return true
	})

	return ret
}

func mapCurrentPaid(r gjson.Result) *PaidNotifyResult {
	return &PaidNotifyResult{
		AppID:            r.Get("appid").String(),
		MchID:            r.Get("mchid").String(),
		OutTradeNO:       r.Get("out_trade_no").String(),
		TransactionID:    r.Get("transaction_id").String(),
		TradeType:        r.Get("trade_type").String(),
		TradeState:       r.Get("trade_state").String(),
		TradeStateDesc:   r.Get("trade_state_desc").String(),
		BankType:         r.Get("bank_type").String(),
		Attach:           r.Get("attach").String(),
		SuccessTime:      parseTime(r.Get("success_time").String()),
		PayerID:          r.Get("payer.openid").String(),
		DeviceID:         r.Get("scene_info.device_id").String(),
		Amount:           currentAmount(r.Get("amount")),
		PromotionDetails: currentPromotions(r.Get("promotion_detail")),
	}
}

func mapCurrentRefunded(r gjson.Result) *RefundedNotifyResult {
	return &RefundedNotifyResult{
		MchID:               r.Get("mchid").String(),
		OutTradeNO:          r.Get("out_trade_no").String(),
		TransactionID:       r.Get("transaction_id").String(),
		OutRefundNO:         r.Get("out_refund_no").String(),
		RefundID:            r.Get("refund_id").String(),
		RefundStatus:        r.Get("refund_status").String(),
		SuccessTime:         parseTime(r.Get("success_time").String()),
		UserReceivedAccount: r.Get("user_received_account").String(),
		Amount:              currentAmount(r.Get("amount")),
	}
}
