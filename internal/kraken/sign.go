package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/base64"
	"fmt"
	"os"
	"strings"
)

// signRequest 计算私有接口的 API-Sign 头：
// base64(HMAC-SHA512(base64decode(secret), path + SHA256(nonce + postData)))。
func signRequest(secret, path, nonce, postData string) (string, error) {
	keyData, err := base64.StdEncoding.DecodeString(secret)
	if err != nil {
		return "", fmt.Errorf("解码 API secret 失败: %w", err)
	}

	sum := sha256.Sum256([]byte(nonce + postData))

	mac := hmac.New(sha512.New, keyData)
	mac.Write([]byte(path))
	mac.Write(sum[:])

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// LoadKeyFile 读取两行格式的密钥文件：第一行 API key，第二行 API secret。
func LoadKeyFile(path string) (string, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", "", fmt.Errorf("读取密钥文件 %q 失败: %w", path, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) < 2 {
		return "", "", fmt.Errorf("密钥文件 %q 格式无效：应包含 key 与 secret 两行", path)
	}

	return lines[0], lines[1], nil
}
