package wxpay

import (
	"context"
	"crypto/x509"
	"io"
	"net/http"
	"strconv"
	"time"
)

// Client 微信支付Client，构造后只读，可并发使用
type Client struct {
	cfg     *Config
	cred    *Credentials
	adapter ProtocolAdapter
	client  HTTPClient
	tlsCli  HTTPClient // 双向证书（APIv2退款）
	logger  LogFunc
}

// Option Client选项
type Option func(o *options)

type options struct {
	client HTTPClient
	tlsCli HTTPClient
	logger LogFunc
	loader PEMLoader
	cred   *Credentials
	now    func() time.Time
}

// WithHTTPClient 设置HTTP客户端
func WithHTTPClient(cli HTTPClient) Option {
	return func(o *options) {
		o.client = cli
	}
}

// WithTLSHTTPClient 设置携带商户API证书的HTTP客户端（APIv2退款）
func WithTLSHTTPClient(cli HTTPClient) Option {
	return func(o *options) {
		o.tlsCli = cli
	}
}

// WithLogger 设置请求日志记录函数
func WithLogger(fn LogFunc) Option {
	return func(o *options) {
		o.logger = fn
	}
}

// WithPEMLoader 设置证书文件加载函数
func WithPEMLoader(fn PEMLoader) Option {
	return func(o *options) {
		o.loader = fn
	}
}

// WithCredentials 直接指定商户凭证，不再从配置的证书路径加载
func WithCredentials(cred *Credentials) Option {
	return func(o *options) {
		o.cred = cred
	}
}

// WithClock 设置时钟（签名时间戳、通知时间窗口校验）
func WithClock(fn func() time.Time) Option {
	return func(o *options) {
		o.now = fn
	}
}

// Version 当前协议版本
func (c *Client) Version() Version {
	return c.adapter.Version()
}

// Adapter 当前协议适配器
func (c *Client) Adapter() ProtocolAdapter {
	return c.adapter
}

// Credentials 商户凭证
func (c *Client) Credentials() *Credentials {
	return c.cred
}

// Prepay JSAPI下单，返回客户端调起支付参数
func (c *Client) Prepay(ctx context.Context, params Params) (*PrepaySign, error) {
	req, err := c.adapter.BuildPrepayRequest(params)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	return c.adapter.ParsePrepayResponse(params, resp)
}

// Refund 申请退款
func (c *Client) Refund(ctx context.Context, params Params) (*RefundResult, error) {
	req, err := c.adapter.BuildRefundRequest(params)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	return c.adapter.ParseRefundResponse(resp)
}

// DecodeNotify 验签并解析异步通知
func (c *Client) DecodeNotify(header http.Header, body []byte) (*Notification, error) {
	return c.adapter.DecodeNotify(header, body)
}

// DecodeNotifyRequest 从HTTP请求中读取并解析异步通知
func (c *Client) DecodeNotifyRequest(r *http.Request) (*Notification, error) {
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	return c.adapter.DecodeNotify(r.Header, body)
}

// AckResponse 通知应答
func (c *Client) AckResponse() *AckResponse {
	return c.adapter.AckResponse()
}

// WriteAck 向通知方写入应答
func (c *Client) WriteAck(w http.ResponseWriter) error {
	ack := c.adapter.AckResponse()

	w.Header().Set("Content-Type", ack.ContentType)
	w.WriteHeader(ack.StatusCode)

	_, err := w.Write(ack.Body)

	return err
}

func (c *Client) do(ctx context.Context, req *Request) (*Response, error) {
	cli := c.client

	if req.MutualTLS {
		if c.tlsCli == nil {
			return nil, configErr("merchant_certificate_path is required for %s", req.Path)
		}

		cli = c.tlsCli
	}

	reqURL := c.cfg.BaseURL + req.Path

	log := NewReqLog(req.Method, reqURL)
	defer log.Do(ctx, c.logger)

	log.Set("version", string(c.adapter.Version()))
	log.Set("mutual_tls", strconv.FormatBool(req.MutualTLS))
	log.SetReqBody(string(req.Body))

	options := []HTTPOption{WithHTTPHeader("Content-Type", req.ContentType)}

	for k, vals := range req.Header {
		options = append(options, WithHTTPHeader(k, vals...))
	}

	resp, err := cli.Do(ctx, req.Method, reqURL, req.Body, options...)
	if err != nil {
		log.Set("error", err.Error())

		return nil, &TransportError{Err: err}
	}

	defer resp.Body.Close()

	log.SetStatusCode(resp.StatusCode)

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}

	log.SetRespBody(string(b))

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       b,
	}, nil
}

// NewClient 根据配置生成Client；协议版本仅支持 legacy/current（APIv2/APIv3），其余值返回 ErrConfiguration
func NewClient(cfg *Config, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, configErr("nil config")
	}

	conf := cfg.withDefaults()

	ver, err := ParseVersion(conf.Version)
	if err != nil {
		return nil, err
	}

	o := &options{
		loader: ReadFile,
		now:    time.Now,
	}

	for _, f := range opts {
		f(o)
	}

	cred := o.cred
	if cred == nil {
		if cred, err = LoadCredentials(conf, o.loader); err != nil {
			return nil, err
		}
	}

	var adapter ProtocolAdapter

	switch ver {
	case VersionLegacy:
		adapter, err = NewLegacyAdapter(conf, cred, o.now)
	case VersionCurrent:
		adapter, err = NewCurrentAdapter(conf, cred, o.now)
	}

	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:     conf,
		cred:    cred,
		adapter: adapter,
		client:  o.client,
		tlsCli:  o.tlsCli,
		logger:  o.logger,
	}

	if c.client != nil && (c.tlsCli != nil || cred.MchCert() == nil) {
		return c, nil
	}

	setting := &TransportSetting{
		HTTPProxy:      conf.HTTPProxy,
		HTTPSProxy:     conf.HTTPSProxy,
		ConnectTimeout: conf.ConnectTimeout,
		ReadTimeout:    conf.ReadTimeout,
	}

	if len(conf.TLSVerifyPath) != 0 {
		if setting.RootCAs, err = loadRootCAs(conf.TLSVerifyPath, o.loader); err != nil {
			return nil, err
		}
	}

	if c.client == nil {
		if c.client, err = NewDefaultHTTPClient(setting); err != nil {
			return nil, err
		}
	}

	if c.tlsCli == nil && cred.MchCert() != nil {
		tlsSetting := *setting
		tlsSetting.Certificate = cred.MchCert()

		if c.tlsCli, err = NewDefaultHTTPClient(&tlsSetting); err != nil {
			return nil, err
		}
	}

	return c, nil
}

func loadRootCAs(path string, loader PEMLoader) (*x509.CertPool, error) {
	b, err := loader(path)
	if err != nil {
		return nil, configErr("read tls_verify_path: %v", err)
	}

	pool := x509.NewCertPool()

	if !pool.AppendCertsFromPEM(b) {
		return nil, configErr("no certificates found in %s", path)
	}

	return pool, nil
}
