package utils

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
)

// HashAPIKey 计算API Key的SHA-256摘要, 入库只存摘要
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// SecureCompare 常量时间比较两个摘要
func SecureCompare(a, b string) bool {
	return hmac.Equal([]byte(a), []byte(b))
}

// GenerateAPIKey 生成随机API Key(hex, 32字节熵)
func GenerateAPIKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
