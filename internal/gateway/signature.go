package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignHex returns hex(HMAC-SHA256(secret, message))
func SignHex(secret string, message []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(message)
	return hex.EncodeToString(mac.Sum(nil))
}

// OrderPaymentSignature is the signature a provider returns for an order/payment pair
func OrderPaymentSignature(secret, orderID, paymentID string) string {
	return SignHex(secret, []byte(orderID+"|"+paymentID))
}

// VerifyHex compares the expected signature with the supplied one in constant time
func VerifyHex(secret string, message []byte, signature string) bool {
	if signature == "" {
		return false
	}
	expected := SignHex(secret, message)
	return hmac.Equal([]byte(expected), []byte(signature))
}
