package utils

import (
	"crypto/rand"
	"strings"
)

// GenerateRandomString 生成指定长度的随机字符串 (用于 state)
func GenerateRandomString(length int) (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789-._~"
	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	var result strings.Builder
	for _, bVal := range b {
		result.WriteByte(charset[int(bVal)%len(charset)])
	}
	return result.String(), nil
}
