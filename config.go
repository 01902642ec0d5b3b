package wxpay

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultBaseURL         = "https://api.mch.weixin.qq.com"
	DefaultNotifyTolerance = 300 * time.Second
	DefaultConnectTimeout  = 30 * time.Second
	DefaultReadTimeout     = 30 * time.Second
)

// Config 微信支付配置
type Config struct {
	Version           string        `mapstructure:"protocol_version"`          // legacy(APIv2) 或 current(APIv3)
	AppID             string        `mapstructure:"app_id"`                    // 默认AppID，参数中未指定时使用
	MchID             string        `mapstructure:"merchant_id"`               // 商户号
	SecretKey         string        `mapstructure:"secret_key"`                // APIv2密钥 或 APIv3密钥
	SerialNO          string        `mapstructure:"certificate_serial"`        // 商户API证书序列号（APIv3）
	MchCertPath       string        `mapstructure:"merchant_certificate_path"` // 商户API证书（PEM 或 p12）
	MchPrivateKeyPath string        `mapstructure:"merchant_private_key_path"` // 商户API私钥
	PlatformCertPaths []string      `mapstructure:"platform_certificate_path"` // 平台证书（APIv3），可配置多个
	PayNotifyURL      string        `mapstructure:"pay_notify_url"`            // 默认支付回调地址
	RefundNotifyURL   string        `mapstructure:"refund_notify_url"`         // 默认退款回调地址
	HTTPProxy         string        `mapstructure:"http_proxy"`
	HTTPSProxy        string        `mapstructure:"https_proxy"`
	TLSVerifyPath     string        `mapstructure:"tls_verify_path"` // 自定义根证书
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	NotifyTolerance   time.Duration `mapstructure:"notify_tolerance"` // 通知时间戳允许的偏移量
	SignType          string        `mapstructure:"sign_type"`        // APIv2请求签名类型：MD5 或 HMAC-SHA256
	ClientSignType    string        `mapstructure:"client_sign_type"` // APIv2客户端支付参数签名类型：MD5、HMAC-SHA256 或 RSA
	NotifySignType    string        `mapstructure:"notify_sign_type"` // APIv2通知未携带 sign_type 时使用的签名类型
	BaseURL           string        `mapstructure:"base_url"`
}

var configKeys = []string{
	"protocol_version",
	"app_id",
	"merchant_id",
	"secret_key",
	"certificate_serial",
	"merchant_certificate_path",
	"merchant_private_key_path",
	"platform_certificate_path",
	"pay_notify_url",
	"refund_notify_url",
	"http_proxy",
	"https_proxy",
	"tls_verify_path",
	"connect_timeout",
	"read_timeout",
	"notify_tolerance",
	"sign_type",
	"client_sign_type",
	"notify_sign_type",
	"base_url",
}

// LoadConfig 加载配置文件（yaml/json/toml 等），环境变量 `WXPAY_*` 优先
// path 为空时仅读取环境变量
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("notify_tolerance", DefaultNotifyTolerance)
	v.SetDefault("connect_timeout", DefaultConnectTimeout)
	v.SetDefault("read_timeout", DefaultReadTimeout)
	v.SetDefault("base_url", DefaultBaseURL)

	v.SetEnvPrefix("WXPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	for _, k := range configKeys {
		if err := v.BindEnv(k); err != nil {
			return nil, configErr("bind env %s: %v", k, err)
		}
	}

	if len(path) != 0 {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, configErr("read config: %v", err)
		}
	}

	cfg := new(Config)

	if err := v.Unmarshal(cfg); err != nil {
		return nil, configErr("decode config: %v", err)
	}

	return cfg, nil
}

// withDefaults 返回填充默认值后的副本
func (c Config) withDefaults() *Config {
	if len(c.BaseURL) == 0 {
		c.BaseURL = DefaultBaseURL
	}

	c.BaseURL = strings.TrimSuffix(c.BaseURL, "/")

	if c.NotifyTolerance <= 0 {
		c.NotifyTolerance = DefaultNotifyTolerance
	}

	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}

	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}

	return &c
}
