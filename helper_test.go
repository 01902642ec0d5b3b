package wxpay

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testSecretV2  = "192006250b4c09247ec02edce69f6a2d"
	testSecretV3  = "0123456789abcdef0123456789ABCDEF"
	testMchSerial = "5157F09EFDC096DE15EBE81A47057A7232F1B8E1"
	testPlatSN    = 0x1234abcd
	testPlatSNHex = "1234ABCD"
)

var testNow = time.Unix(1700000000, 0)

func testClock() time.Time {
	return testNow
}

func newTestRSAKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	return key
}

func newTestCertPEM(t *testing.T, key *rsa.PrivateKey, serial int64) []byte {
	t.Helper()

	tpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial),
		Subject:      pkix.Name{CommonName: "Tenpay.com Root CA"},
		NotBefore:    testNow.Add(-time.Hour),
		NotAfter:     testNow.Add(24 * time.Hour),
	}

	der, err := x509.CreateCertificate(rand.Reader, tpl, tpl, &key.PublicKey, key)
	require.NoError(t, err)

	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// signHeader 以平台私钥签名，生成通知/应答的 Wechatpay-* 头
func signHeader(t *testing.T, key *rsa.PrivateKey, serial string, ts time.Time, body []byte) http.Header {
	t.Helper()

	timestamp := strconv.FormatInt(ts.Unix(), 10)
	nonce := Nonce()

	sign, err := SignWithRSA(NewPrivateKey(key), timestamp, nonce, string(body))
	require.NoError(t, err)

	header := http.Header{}
	header.Set(HeaderSignature, sign)
	header.Set(HeaderTimestamp, timestamp)
	header.Set(HeaderSerial, serial)
	header.Set(HeaderNonce, nonce)

	return header
}

// encryptResource 按APIv3通知格式加密 resource
func encryptResource(t *testing.T, secret, plain string) map[string]any {
	t.Helper()

	nonce := "fdasflkja484"
	ad := "transaction"

	cipherText, err := AesGcmEncrypt([]byte(secret), []byte(nonce), []byte(plain), []byte(ad))
	require.NoError(t, err)

	return map[string]any{
		"algorithm":       AlgorithmAEADAES256GCM,
		"ciphertext":      base64.StdEncoding.EncodeToString(cipherText),
		"nonce":           nonce,
		"associated_data": ad,
		"original_type":   "transaction",
	}
}

type stubRequest struct {
	method string
	url    string
	header http.Header
	body   []byte
}

// stubHTTPClient 记录请求并返回固定应答
type stubHTTPClient struct {
	status int
	header http.Header
	body   string
	err    error

	mutex sync.Mutex
	reqs  []stubRequest
}

func (s *stubHTTPClient) Do(ctx context.Context, method, reqURL string, body []byte, options ...HTTPOption) (*http.Response, error) {
	setting := &httpSetting{header: http.Header{}}

	for _, f := range options {
		f(setting)
	}

	s.mutex.Lock()
	s.reqs = append(s.reqs, stubRequest{
		method: method,
		url:    reqURL,
		header: setting.header,
		body:   body,
	})
	s.mutex.Unlock()

	if s.err != nil {
		return nil, s.err
	}

	header := s.header
	if header == nil {
		header = http.Header{}
	}

	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(s.body)),
	}, nil
}

func (s *stubHTTPClient) last(t *testing.T) stubRequest {
	t.Helper()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	require.NotEmpty(t, s.reqs)

	return s.reqs[len(s.reqs)-1]
}

// signedXML 生成带签名的APIv2报文
func signedXML(t *testing.T, typ SignType, v V) []byte {
	t.Helper()

	sign, err := signV(typ, v, testSecretV2)
	require.NoError(t, err)

	v.Set("sign", sign)

	return FormatXML(v)
}
