package wxpay

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"net/url"
	"time"
)

type httpSetting struct {
	header http.Header
	cookie []*http.Cookie
	close  bool
}

// HTTPOption HTTP请求选项
type HTTPOption func(s *httpSetting)

// WithHTTPHeader 设置HTTP请求头
func WithHTTPHeader(key string, vals ...string) HTTPOption {
	return func(s *httpSetting) {
		if len(vals) == 1 {
			s.header.Set(key, vals[0])

			return
		}

		for _, v := range vals {
			s.header.Add(key, v)
		}
	}
}

// WithHTTPCookies 设置HTTP请求Cookie
func WithHTTPCookies(cookies ...*http.Cookie) HTTPOption {
	return func(s *httpSetting) {
		s.cookie = cookies
	}
}

// WithHTTPClose 请求结束后关闭请求
func WithHTTPClose() HTTPOption {
	return func(s *httpSetting) {
		s.close = true
	}
}

// HTTPClient HTTP客户端
type HTTPClient interface {
	// Do 发送HTTP请求
	// 注意：应该使用Context设置请求超时时间
	Do(ctx context.Context, method, reqURL string, body []byte, options ...HTTPOption) (*http.Response, error)
}

type httpCli struct {
	client *http.Client
}

func (c *httpCli) Do(ctx context.Context, method, reqURL string, body []byte, options ...HTTPOption) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	setting := &httpSetting{header: http.Header{}}

	for _, f := range options {
		f(setting)
	}

	// header
	if len(setting.header) != 0 {
		req.Header = setting.header
	}

	// cookie
	if len(setting.cookie) != 0 {
		for _, v := range setting.cookie {
			req.AddCookie(v)
		}
	}

	if setting.close {
		req.Close = true
	}

	resp, err := c.client.Do(req)
	if err != nil {
		// If the context has been canceled, the context's error is probably more useful.
		select {
		case <-ctx.Done():
			err = ctx.Err()
		default:
		}

		return nil, err
	}

	return resp, nil
}

// NewHTTPClient 通过官方 `http.Client` 生成一个HTTP客户端，cli 为空时使用 `http.DefaultClient`
func NewHTTPClient(cli *http.Client) HTTPClient {
	if cli == nil {
		cli = http.DefaultClient
	}

	return &httpCli{client: cli}
}

// TransportSetting 默认HTTP客户端的连接配置
type TransportSetting struct {
	HTTPProxy      string
	HTTPSProxy     string
	RootCAs        *x509.CertPool   // 为空时使用系统根证书
	Certificate    *tls.Certificate // 双向证书
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// NewDefaultHTTPClient 生成一个默认的HTTP客户端
func NewDefaultHTTPClient(s *TransportSetting) (HTTPClient, error) {
	proxy, err := proxyFunc(s.HTTPProxy, s.HTTPSProxy)
	if err != nil {
		return nil, err
	}

	tlsCfg := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    s.RootCAs,
	}

	if s.Certificate != nil {
		tlsCfg.Certificates = []tls.Certificate{*s.Certificate}
	}

	return &httpCli{
		client: &http.Client{
			Transport: &http.Transport{
				Proxy: proxy,
				DialContext: (&net.Dialer{
					Timeout:   s.ConnectTimeout,
					KeepAlive: 60 * time.Second,
				}).DialContext,
				TLSClientConfig:       tlsCfg,
				MaxIdleConns:          0,
				MaxIdleConnsPerHost:   1000,
				MaxConnsPerHost:       1000,
				IdleConnTimeout:       60 * time.Second,
				TLSHandshakeTimeout:   s.ConnectTimeout,
				ResponseHeaderTimeout: s.ReadTimeout,
				ExpectContinueTimeout: time.Second,
			},
		},
	}, nil
}

// proxyFunc http请求使用 httpProxy，https请求使用 httpsProxy；均未配置时读取环境变量
func proxyFunc(httpProxy, httpsProxy string) (func(*http.Request) (*url.URL, error), error) {
	if len(httpProxy) == 0 && len(httpsProxy) == 0 {
		return http.ProxyFromEnvironment, nil
	}

	var (
		httpURL  *url.URL
		httpsURL *url.URL
		err      error
	)

	if len(httpProxy) != 0 {
		if httpURL, err = url.Parse(httpProxy); err != nil {
			return nil, configErr("invalid http_proxy: %v", err)
		}
	}

	if len(httpsProxy) != 0 {
		if httpsURL, err = url.Parse(httpsProxy); err != nil {
			return nil, configErr("invalid https_proxy: %v", err)
		}
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" {
			return httpsURL, nil
		}

		return httpURL, nil
	}, nil
}
