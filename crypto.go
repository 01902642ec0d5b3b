package wxpay

import (
	"bytes"
	"crypto"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pkcs12"
)

// ------------------------------------ AES ------------------------------------

// AesEcbEncrypt AES-ECB 加密（PKCS#7 填充）
func AesEcbEncrypt(key, plainText []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	plainText = PKCS7Padding(plainText, block.BlockSize())

	bm := NewECBEncrypter(block)

	cipherText := make([]byte, len(plainText))
	bm.CryptBlocks(cipherText, plainText)

	return cipherText, nil
}

// AesEcbDecrypt AES-ECB 解密（PKCS#7 填充）
func AesEcbDecrypt(key, cipherText []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	bm := NewECBDecrypter(block)
	if len(cipherText) == 0 || len(cipherText)%bm.BlockSize() != 0 {
		return nil, errors.New("input not full blocks")
	}

	plainText := make([]byte, len(cipherText))
	bm.CryptBlocks(plainText, cipherText)

	return PKCS7Unpadding(plainText, block.BlockSize())
}

// AesGcmEncrypt AES-GCM 加密，返回密文+Tag
func AesGcmEncrypt(key, nonce, plainText, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}

	return gcm.Seal(nil, nonce, plainText, additionalData), nil
}

// AesGcmDecrypt AES-GCM 解密，输入为密文+Tag
func AesGcmDecrypt(key, nonce, cipherText, additionalData []byte) ([]byte, error) {
	gcm, err := newGCM(key, len(nonce))
	if err != nil {
		return nil, err
	}

	return gcm.Open(nil, nonce, cipherText, additionalData)
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	if nonceSize == 0 {
		return nil, errors.New("empty gcm nonce")
	}

	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

// ------------------------------------ RSA ------------------------------------

// PrivateKey RSA私钥
type PrivateKey struct {
	key *rsa.PrivateKey
}

// Sign RSA私钥签名（PKCS#1 v1.5）
func (pk *PrivateKey) Sign(hash crypto.Hash, data []byte) ([]byte, error) {
	if !hash.Available() {
		return nil, fmt.Errorf("crypto: requested hash function (%s) is unavailable", hash.String())
	}

	h := hash.New()
	h.Write(data)

	return rsa.SignPKCS1v15(rand.Reader, pk.key, hash, h.Sum(nil))
}

// Public 返回对应的公钥
func (pk *PrivateKey) Public() *PublicKey {
	return &PublicKey{key: &pk.key.PublicKey}
}

// NewPrivateKey 通过 `*rsa.PrivateKey` 生成RSA私钥
func NewPrivateKey(key *rsa.PrivateKey) *PrivateKey {
	return &PrivateKey{key: key}
}

// NewPrivateKeyFromPemBlock 通过PEM字节生成RSA私钥
// 支持 PKCS#1 (`RSA PRIVATE KEY`) 和 PKCS#8 (`PRIVATE KEY`)
func NewPrivateKeyFromPemBlock(pemBlock []byte) (*PrivateKey, error) {
	block, _ := pem.Decode(pemBlock)
	if block == nil {
		return nil, errors.New("no PEM data is found")
	}

	if block.Type == "RSA PRIVATE KEY" {
		key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
		if err != nil {
			return nil, err
		}

		return &PrivateKey{key: key}, nil
	}

	pk, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, err
	}

	key, ok := pk.(*rsa.PrivateKey)
	if !ok {
		return nil, errors.New("not a RSA private key")
	}

	return &PrivateKey{key: key}, nil
}

// PublicKey RSA公钥
type PublicKey struct {
	key *rsa.PublicKey
}

// Verify RSA公钥验签（PKCS#1 v1.5）
func (pk *PublicKey) Verify(hash crypto.Hash, data, signature []byte) error {
	if !hash.Available() {
		return fmt.Errorf("crypto: requested hash function (%s) is unavailable", hash.String())
	}

	h := hash.New()
	h.Write(data)

	return rsa.VerifyPKCS1v15(pk.key, hash, h.Sum(nil), signature)
}

// NewPublicKey 通过 `*rsa.PublicKey` 生成RSA公钥
func NewPublicKey(key *rsa.PublicKey) *PublicKey {
	return &PublicKey{key: key}
}

// NewPublicKeyFromPemBlock 通过PEM字节生成RSA公钥
// 支持 `PUBLIC KEY`、`RSA PUBLIC KEY` 和 `CERTIFICATE`
func NewPublicKeyFromPemBlock(pemBlock []byte) (*PublicKey, error) {
	block, _ := pem.Decode(pemBlock)
	if block == nil {
		return nil, errors.New("no PEM data is found")
	}

	var (
		pk  any
		err error
	)

	switch block.Type {
	case "CERTIFICATE":
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}

		pk = cert.PublicKey
	case "RSA PUBLIC KEY":
		pk, err = x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		pk, err = x509.ParsePKIXPublicKey(block.Bytes)
	}

	if err != nil {
		return nil, err
	}

	key, ok := pk.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("not a RSA public key")
	}

	return &PublicKey{key: key}, nil
}

// Certificate 平台证书
type Certificate struct {
	SerialNO string
	Key      *PublicKey
}

// ParseCertificates 解析PEM中的全部证书
// 注意：证书序列号为大写十六进制，与 `Wechatpay-Serial` 头一致
func ParseCertificates(pemData []byte) ([]*Certificate, error) {
	var certs []*Certificate

	for {
		var block *pem.Block

		block, pemData = pem.Decode(pemData)
		if block == nil {
			break
		}

		if block.Type != "CERTIFICATE" {
			continue
		}

		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}

		key, ok := cert.PublicKey.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("not a RSA certificate")
		}

		certs = append(certs, &Certificate{
			SerialNO: strings.ToUpper(cert.SerialNumber.Text(16)),
			Key:      &PublicKey{key: key},
		})
	}

	if len(certs) == 0 {
		return nil, errors.New("no certificate is found")
	}

	return certs, nil
}

// LoadCertFromPfx 通过pfx(p12)证书生成TLS证书
// 注意：微信支付商户证书的密码默认为商户号
func LoadCertFromPfx(pfxdata []byte, password string) (tls.Certificate, error) {
	blocks, err := pkcs12.ToPEM(pfxdata, password)
	if err != nil {
		return tls.Certificate{}, err
	}

	pemData := make([]byte, 0)

	for _, b := range blocks {
		pemData = append(pemData, pem.EncodeToMemory(b)...)
	}

	return tls.X509KeyPair(pemData, pemData)
}

func PKCS7Padding(cipherText []byte, blockSize int) []byte {
	padding := blockSize - len(cipherText)%blockSize
	if padding == 0 {
		padding = blockSize
	}

	padText := bytes.Repeat([]byte{byte(padding)}, padding)

	return append(cipherText, padText...)
}

func PKCS7Unpadding(plainText []byte, blockSize int) ([]byte, error) {
	length := len(plainText)
	if length == 0 {
		return nil, errors.New("empty plain text")
	}

	unpadding := int(plainText[length-1])
	if unpadding < 1 || unpadding > blockSize || unpadding > length {
		return nil, errors.New("invalid padding")
	}

	for _, v := range plainText[length-unpadding:] {
		if int(v) != unpadding {
			return nil, errors.New("invalid padding")
		}
	}

	return plainText[:(length - unpadding)], nil
}

// --------------------------------- ECB BlockMode ---------------------------------

type ecb struct {
	b         cipher.Block
	blockSize int
}

func newECB(b cipher.Block) *ecb {
	return &ecb{
		b:         b,
		blockSize: b.BlockSize(),
	}
}

type ecbEncrypter ecb

// NewECBEncrypter returns a BlockMode which encrypts in electronic code book mode, using the given Block.
func NewECBEncrypter(b cipher.Block) cipher.BlockMode {
	return (*ecbEncrypter)(newECB(b))
}

func (x *ecbEncrypter) BlockSize() int { return x.blockSize }

func (x *ecbEncrypter) CryptBlocks(dst, src []byte) {
	if len(src)%x.blockSize != 0 {
		panic("crypto/cipher: input not full blocks")
	}

	if len(dst) < len(src) {
		panic("crypto/cipher: output smaller than input")
	}

	for len(src) > 0 {
		x.b.Encrypt(dst, src[:x.blockSize])

		src = src[x.blockSize:]
		dst = dst[x.blockSize:]
	}
}

type ecbDecrypter ecb

// NewECBDecrypter returns a BlockMode which decrypts in electronic code book mode, using the given Block.
func NewECBDecrypter(b cipher.Block) cipher.BlockMode {
	return (*ecbDecrypter)(newECB(b))
}

func (x *ecbDecrypter) BlockSize() int { return x.blockSize }

func (x *ecbDecrypter) CryptBlocks(dst, src []byte) {
	if len(src)%x.blockSize != 0 {
		panic("crypto/cipher: input not full blocks")
	}

	if len(dst) < len(src) {
		panic("crypto/cipher: output smaller than input")
	}

	for len(src) > 0 {
		x.b.Decrypt(dst, src[:x.blockSize])

		src = src[x.blockSize:]
		dst = dst[x.blockSize:]
	}
}
