package printify

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

// SignatureHeader несёт подпись вебхука в формате "sha256=<hex>".
const SignatureHeader = "X-Provider-Signature"

// VerifySignature проверяет HMAC-SHA256 по сырому телу запроса.
// Тело должно быть взято ДО какого-либо JSON-парсинга: повторная
// сериализация ломает побайтовое сравнение.
// Возвращает false при пустом заголовке/секрете — fail closed, без паники.
func VerifySignature(rawBody []byte, signatureHeader, secret string) bool {
	if signatureHeader == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	// hmac.Equal — сравнение за константное время
	return hmac.Equal([]byte(expected), []byte(signatureHeader))
}

// Sign считает подпись так же, как её считает провайдер. Используется
// в тестах и внутренними отправителями.
func Sign(rawBody []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(rawBody)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
