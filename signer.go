package wxpay

import (
	"crypto"
	"crypto/hmac"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// SignType 签名类型
type SignType string

const (
	SignMD5        SignType = "MD5"
	SignHMacSHA256 SignType = "HMAC-SHA256"
	SignRSA        SignType = "RSA"
)

// ParseSignType 解析签名类型，空值返回 fallback
func ParseSignType(s string, fallback SignType) (SignType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "":
		if len(fallback) == 0 {
			return "", configErr("empty sign type")
		}

		return fallback, nil
	case string(SignMD5):
		return SignMD5, nil
	case string(SignHMacSHA256):
		return SignHMacSHA256, nil
	case string(SignRSA):
		return SignRSA, nil
	}

	return "", configErr("unknown sign type: %s", s)
}

// SignWithMD5 MD5签名：剔除空值后按 key 排序拼接，末尾追加 `&key=<secret>`，结果为大写十六进制
func SignWithMD5(v V, secret string) string {
	h := md5.New()
	h.Write([]byte(v.Encode("=", "&", true) + "&key=" + secret))

	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// SignWithHMacSHA256 HMAC-SHA256签名：按 key 排序拼接（保留空值），末尾追加 `&key=<secret>`，结果为大写十六进制
func SignWithHMacSHA256(v V, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(v.Encode("=", "&", false) + "&key=" + secret))

	return strings.ToUpper(hex.EncodeToString(h.Sum(nil)))
}

// SignWithRSA RSA签名：各字段以 `\n` 连接（含末尾 `\n`），SHA256WithRSA，结果为base64
func SignWithRSA(key *PrivateKey, fields ...string) (string, error) {
	sign, err := key.Sign(crypto.SHA256, []byte(joinLF(fields...)))
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(sign), nil
}

// VerifyWithRSA RSA验签
func VerifyWithRSA(key *PublicKey, signature string, fields ...string) error {
	sign, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return err
	}

	return key.Verify(crypto.SHA256, []byte(joinLF(fields...)), sign)
}

func joinLF(fields ...string) string {
	var builder strings.Builder

	for _, v := range fields {
		builder.WriteString(v)
		builder.WriteString("\n")
	}

	return builder.String()
}

// Signer 客户端支付参数签名器
type Signer interface {
	// Type 签名类型
	Type() SignType

	// Sign 对 appId、timeStamp、nonceStr、package 签名
	Sign(appID, timestamp, nonce, pkg string) (string, error)
}

type symmetricSigner struct {
	typ    SignType
	secret string
}

func (s *symmetricSigner) Type() SignType {
	return s.typ
}

func (s *symmetricSigner) Sign(appID, timestamp, nonce, pkg string) (string, error) {
	v := V{
		"appId":     appID,
		"timeStamp": timestamp,
		"nonceStr":  nonce,
		"package":   pkg,
		"signType":  string(s.typ),
	}

	if s.typ == SignMD5 {
		return SignWithMD5(v, s.secret), nil
	}

	return SignWithHMacSHA256(v, s.secret), nil
}

type rsaSigner struct {
	key *PrivateKey
}

func (s *rsaSigner) Type() SignType {
	return SignRSA
}

func (s *rsaSigner) Sign(appID, timestamp, nonce, pkg string) (string, error) {
	return SignWithRSA(s.key, appID, timestamp, nonce, pkg)
}

// NewSigner 根据签名类型生成签名器，缺少密钥时返回 ErrConfiguration
func NewSigner(typ SignType, cred *Credentials) (Signer, error) {
	switch typ {
	case SignMD5, SignHMacSHA256:
		if len(cred.SecretKey()) == 0 {
			return nil, configErr("secret key is required for %s", typ)
		}

		return &symmetricSigner{typ: typ, secret: cred.SecretKey()}, nil
	case SignRSA:
		if cred.PrivateKey() == nil {
			return nil, configErr("merchant private key is required for %s", typ)
		}

		return &rsaSigner{key: cred.PrivateKey()}, nil
	}

	return nil, configErr("unknown sign type: %s", typ)
}

// signV APIv2报文签名
func signV(typ SignType, v V, secret string) (string, error) {
	switch typ {
	case SignMD5:
		return SignWithMD5(v, secret), nil
	case SignHMacSHA256:
		return SignWithHMacSHA256(v, secret), nil
	}

	return "", configErr("sign type %s is not supported for xml messages", typ)
}

// verifyV APIv2报文验签（常量时间比较）
func verifyV(typ SignType, v V, secret string) error {
	sign := v.Get("sign")
	if len(sign) == 0 {
		return ErrSignatureInvalid
	}

	expected, err := signV(typ, v, secret)
	if err != nil {
		return err
	}

	if !hmac.Equal([]byte(strings.ToUpper(sign)), []byte(expected)) {
		return ErrSignatureInvalid
	}

	return nil
}
