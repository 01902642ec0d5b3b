package wxpay

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// APIv3 通知/应答签名相关的HTTP头
const (
	HeaderSignature = "Wechatpay-Signature"
	HeaderTimestamp = "Wechatpay-Timestamp"
	HeaderSerial    = "Wechatpay-Serial"
	HeaderNonce     = "Wechatpay-Nonce"
)

// AlgorithmAEADAES256GCM 通知 resource 的加密算法
const AlgorithmAEADAES256GCM = "AEAD_AES_256_GCM"

// NotifyVerifier APIv3 验签与解密：时间戳校验 + 平台证书验签 + AES-256-GCM 解密
type NotifyVerifier struct {
	cred      *Credentials
	tolerance time.Duration
	now       func() time.Time
}

// Verify 校验时间戳与签名，签名串为 `timestamp\nnonce\nbody\n`
func (v *NotifyVerifier) Verify(header http.Header, body []byte) error {
	sign := header.Get(HeaderSignature)
	timestamp := header.Get(HeaderTimestamp)
	serialNO := header.Get(HeaderSerial)
	nonce := header.Get(HeaderNonce)

	if len(sign) == 0 || len(timestamp) == 0 || len(serialNO) == 0 || len(nonce) == 0 {
		return fmt.Errorf("%w: missing wechatpay signature headers", ErrSignatureInvalid)
	}

	sec, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid timestamp %q", ErrParse, timestamp)
	}

	now := v.now().Unix()
	tol := int64(v.tolerance / time.Second)

	if sec < now-tol || sec > now+tol {
		return fmt.Errorf("%w: timestamp %d outside %s of %d", ErrTimestampExpired, sec, v.tolerance, now)
	}

	key, ok := v.cred.PlatformKey(serialNO)
	if !ok {
		return fmt.Errorf("%w: unknown platform certificate %s", ErrSignatureInvalid, serialNO)
	}

	if err = VerifyWithRSA(key, sign, timestamp, nonce, string(body)); err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}

	return nil
}

// Decrypt 解密通知中的 resource 字段
func (v *NotifyVerifier) Decrypt(resource gjson.Result) ([]byte, error) {
	if !resource.IsObject() {
		return nil, fmt.Errorf("%w: missing resource", ErrParse)
	}

	if algo := resource.Get("algorithm").String(); len(algo) != 0 && algo != AlgorithmAEADAES256GCM {
		return nil, fmt.Errorf("%w: unsupported algorithm %s", ErrDecryption, algo)
	}

	cipherText, err := base64.StdEncoding.DecodeString(resource.Get("ciphertext").String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	plainText, err := AesGcmDecrypt([]byte(v.cred.SecretKey()),
		[]byte(resource.Get("nonce").String()),
		cipherText,
		[]byte(resource.Get("associated_data").String()),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return plainText, nil
}

// NewNotifyVerifier 生成APIv3验签器，tolerance <= 0 时使用默认值
func NewNotifyVerifier(cred *Credentials, tolerance time.Duration, now func() time.Time) *NotifyVerifier {
	if tolerance <= 0 {
		tolerance = DefaultNotifyTolerance
	}

	if now == nil {
		now = time.Now
	}

	return &NotifyVerifier{
		cred:      cred,
		tolerance: tolerance,
		now:       now,
	}
}

// verifyLegacySign APIv2报文验签，未携带 sign_type 时使用 fallback
func verifyLegacySign(v V, fallback SignType, secret string) error {
	typ, err := ParseSignType(v.Get("sign_type"), fallback)
	if err != nil || typ == SignRSA {
		return fmt.Errorf("%w: unsupported sign_type %q", ErrSignatureInvalid, v.Get("sign_type"))
	}

	return verifyV(typ, v, secret)
}

// decryptReqInfo 解密APIv2退款通知的 req_info：key 为密钥MD5（小写十六进制），AES-256-ECB
func decryptReqInfo(reqInfo, secret string) (V, error) {
	cipherText, err := base64.StdEncoding.DecodeString(reqInfo)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	h := md5.Sum([]byte(secret))

	plainText, err := AesEcbDecrypt([]byte(hex.EncodeToString(h[:])), cipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	return ParseXML(plainText)
}
