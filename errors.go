package wxpay

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration 配置错误（缺少密钥、证书或未知的协议版本）
	ErrConfiguration = errors.New("wxpay: configuration error")

	// ErrSignatureInvalid 签名校验失败或平台证书不存在
	ErrSignatureInvalid = errors.New("wxpay: signature invalid")

	// ErrTimestampExpired 通知时间戳超出允许的时间窗口
	ErrTimestampExpired = errors.New("wxpay: timestamp expired")

	// ErrDecryption 通知密文解密失败
	ErrDecryption = errors.New("wxpay: decryption failed")

	// ErrParse 报文格式错误（XML/JSON）
	ErrParse = errors.New("wxpay: malformed message")

	// ErrGatewayProtocol 网关通信失败（如 return_code=FAIL）
	ErrGatewayProtocol = errors.New("wxpay: gateway protocol error")

	// ErrGatewayBusiness 网关业务失败（如 result_code=FAIL）
	ErrGatewayBusiness = errors.New("wxpay: gateway business error")

	// ErrTransport HTTP请求失败或返回非2xx状态码
	ErrTransport = errors.New("wxpay: transport error")
)

// ProtocolError 网关通信失败，对应 return_code=FAIL
type ProtocolError struct {
	Code string
	Msg  string
	Raw  []byte // 原始报文
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("wxpay: return_code=%s | %s", e.Code, e.Msg)
}

func (e *ProtocolError) Is(target error) bool {
	return target == ErrGatewayProtocol
}

// BusinessError 网关业务失败，对应 result_code=FAIL 或 APIv3 的 {code,message} 错误
type BusinessError struct {
	StatusCode int
	Code       string
	Msg        string
	Raw        []byte // 原始应答
}

func (e *BusinessError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("wxpay: %s | %s (http status: %d)", e.Code, e.Msg, e.StatusCode)
	}

	return fmt.Sprintf("wxpay: %s | %s", e.Code, e.Msg)
}

func (e *BusinessError) Is(target error) bool {
	return target == ErrGatewayBusiness
}

// TransportError HTTP请求失败
type TransportError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("wxpay: transport: %v", e.Err)
	}

	return fmt.Sprintf("wxpay: unexpected http status: %d", e.StatusCode)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
