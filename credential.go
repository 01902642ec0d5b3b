package wxpay

import (
	"crypto/tls"
	"os"
	"path/filepath"
	"strings"
)

// PEMLoader 读取证书/私钥文件内容
type PEMLoader func(path string) ([]byte, error)

// ReadFile 默认的 PEMLoader
func ReadFile(path string) ([]byte, error) {
	p, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return nil, err
	}

	return os.ReadFile(p)
}

// Credentials 商户凭证，仅能通过 NewCredentials / LoadCredentials 构造，构造后只读
type Credentials struct {
	mchID      string
	secretKey  string           // APIv2密钥 或 APIv3密钥
	serialNO   string           // 商户API证书序列号（APIv3）
	privateKey *PrivateKey      // 商户API私钥
	mchCert    *tls.Certificate // 商户API证书（APIv2退款双向证书）

	platform map[string]*PublicKey // 平台证书，key 为证书序列号
}

// MchID 返回商户号
func (c *Credentials) MchID() string {
	return c.mchID
}

// SecretKey 返回APIv2/APIv3密钥
func (c *Credentials) SecretKey() string {
	return c.secretKey
}

// SerialNO 返回商户API证书序列号
func (c *Credentials) SerialNO() string {
	return c.serialNO
}

// PrivateKey 返回商户API私钥
func (c *Credentials) PrivateKey() *PrivateKey {
	return c.privateKey
}

// MchCert 返回商户API证书，未配置时为 nil
func (c *Credentials) MchCert() *tls.Certificate {
	return c.mchCert
}

// PlatformKey 根据证书序列号获取平台公钥
func (c *Credentials) PlatformKey(serialNO string) (*PublicKey, bool) {
	key, ok := c.platform[strings.ToUpper(serialNO)]

	return key, ok
}

// Check 校验指定协议版本所需的凭证
func (c *Credentials) Check(ver Version) error {
	if len(c.mchID) == 0 {
		return configErr("merchant_id is required")
	}

	if len(c.secretKey) == 0 {
		return configErr("secret_key is required")
	}

	if ver != VersionCurrent {
		return nil
	}

	if len(c.secretKey) != 32 {
		return configErr("secret_key must be 32 bytes for APIv3")
	}

	if len(c.serialNO) == 0 {
		return configErr("certificate_serial is required for APIv3")
	}

	if c.privateKey == nil {
		return configErr("merchant_private_key_path is required for APIv3")
	}

	if len(c.platform) == 0 {
		return configErr("platform_certificate_path is required for APIv3")
	}

	return nil
}

// CredentialOption 凭证选项
type CredentialOption func(c *Credentials)

// WithPrivateKey 设置商户API私钥
func WithPrivateKey(key *PrivateKey) CredentialOption {
	return func(c *Credentials) {
		c.privateKey = key
	}
}

// WithMchCert 设置商户API证书
func WithMchCert(cert tls.Certificate) CredentialOption {
	return func(c *Credentials) {
		c.mchCert = &cert
	}
}

// WithPlatformKey 添加平台公钥
func WithPlatformKey(serialNO string, key *PublicKey) CredentialOption {
	return func(c *Credentials) {
		c.platform[strings.ToUpper(serialNO)] = key
	}
}

// NewCredentials 生成商户凭证
func NewCredentials(mchID, secretKey, serialNO string, options ...CredentialOption) *Credentials {
	c := &Credentials{
		mchID:     mchID,
		secretKey: secretKey,
		serialNO:  serialNO,
		platform:  make(map[string]*PublicKey),
	}

	for _, f := range options {
		f(c)
	}

	return c
}

// LoadCredentials 根据配置加载证书文件并生成商户凭证
func LoadCredentials(cfg *Config, loader PEMLoader) (*Credentials, error) {
	if loader == nil {
		loader = ReadFile
	}

	var options []CredentialOption

	if len(cfg.MchPrivateKeyPath) != 0 {
		b, err := loader(cfg.MchPrivateKeyPath)
		if err != nil {
			return nil, configErr("read merchant private key: %v", err)
		}

		key, err := NewPrivateKeyFromPemBlock(b)
		if err != nil {
			return nil, configErr("parse merchant private key: %v", err)
		}

		options = append(options, WithPrivateKey(key))
	}

	if len(cfg.MchCertPath) != 0 {
		cert, err := loadMchCert(cfg, loader)
		if err != nil {
			return nil, err
		}

		options = append(options, WithMchCert(cert))
	}

	for _, path := range cfg.PlatformCertPaths {
		b, err := loader(path)
		if err != nil {
			return nil, configErr("read platform certificate: %v", err)
		}

		certs, err := ParseCertificates(b)
		if err != nil {
			return nil, configErr("parse platform certificate %s: %v", path, err)
		}

		for _, v := range certs {
			options = append(options, WithPlatformKey(v.SerialNO, v.Key))
		}
	}

	return NewCredentials(cfg.MchID, cfg.SecretKey, cfg.SerialNO, options...), nil
}

// loadMchCert 加载商户API证书：`.p12/.pfx` 使用商户号作为密码；否则为PEM证书，私钥取自 merchant_private_key_path
func loadMchCert(cfg *Config, loader PEMLoader) (tls.Certificate, error) {
	b, err := loader(cfg.MchCertPath)
	if err != nil {
		return tls.Certificate{}, configErr("read merchant certificate: %v", err)
	}

	switch strings.ToLower(filepath.Ext(cfg.MchCertPath)) {
	case ".p12", ".pfx":
		cert, err := LoadCertFromPfx(b, cfg.MchID)
		if err != nil {
			return tls.Certificate{}, configErr("parse merchant certificate: %v", err)
		}

		return cert, nil
	}

	if len(cfg.MchPrivateKeyPath) == 0 {
		return tls.Certificate{}, configErr("merchant_private_key_path is required with a PEM merchant certificate")
	}

	keyPEM, err := loader(cfg.MchPrivateKeyPath)
	if err != nil {
		return tls.Certificate{}, configErr("read merchant private key: %v", err)
	}

	cert, err := tls.X509KeyPair(b, keyPEM)
	if err != nil {
		return tls.Certificate{}, configErr("parse merchant certificate: %v", err)
	}

	return cert, nil
}
