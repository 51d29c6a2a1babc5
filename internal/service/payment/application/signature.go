// internal/service/payment/application/signature.go
package application

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignCallback 计算回调体的 HMAC-SHA256 签名（十六进制小写）。
// 网关用共享密钥对原始请求体签名，接入层验签通过后才进入协调器。
func SignCallback(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyCallbackSignature 常数时间比较签名，防止时序侧信道。
func VerifyCallbackSignature(secret string, body []byte, signature string) bool {
	expected := SignCallback(secret, body)
	return hmac.Equal([]byte(expected), []byte(signature))
}
