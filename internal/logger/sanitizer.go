package logger

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Sanitizer 負責過濾日誌中的敏感資訊
//
//   - 敏感 key（password、token、secret_access_key 等）的 value 整段遮罩
//   - 其他 string 與 []string value 套用與訊息相同的 pattern，
//     因此引擎參數列中的 "--sftp-pass xxx" 也會被遮罩
//   - 其他型別的 value 不處理
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []SanitizeRule
}

// SanitizeRule 單一過濾規則
type SanitizeRule struct {
	Pattern     *regexp.Regexp
	Replacement string
}

// NewSanitizer 建立預設 sanitizer
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		patterns: defaultSanitizeRules(),
	}
}

// defaultSanitizeRules 回傳預設過濾規則
//
// key=value 類規則停在 ',' 與 ':'，才不會吃掉 rclone
// 連線字串（":s3,access_key_id=...,secret_access_key=...:bucket"）的其餘部分
func defaultSanitizeRules() []SanitizeRule {
	return []SanitizeRule{
		// rclone 連線字串參數與命令列旗標
		{regexp.MustCompile(`(?i)((?:secret_access_key|access_key_id|client_secret|sas_url|account_key|pass)=)[^\s,:]+`), "${1}***"},
		{regexp.MustCompile(`(?i)(--[a-z0-9-]*(?:pass|password|secret|token|key)[ =])\S+`), "${1}***"},

		// 密碼相關
		{regexp.MustCompile(`(?i)password=[^\s,:]+`), "password=***"},
		{regexp.MustCompile(`(?i)passwd=[^\s,:]+`), "passwd=***"},
		{regexp.MustCompile(`(?i)pwd=[^\s,:]+`), "pwd=***"},

		// Token 相關
		{regexp.MustCompile(`(?i)token=[^\s,:]+`), "token=***"},
		{regexp.MustCompile(`(?i)bearer\s+\S+`), "bearer ***"},
		{regexp.MustCompile(`(?i)api[_-]?key=[^\s,:]+`), "api_key=***"},

		// Windows 使用者路徑 (支援所有磁碟機與 UNC，不區分大小寫)
		{regexp.MustCompile(`(?i)[A-Z]:\\Users\\[^\\]+`), "***:\\Users\\***"},
		{regexp.MustCompile(`(?i)\\\\[^\\]+\\[^\\]+\\Users\\[^\\]+`), "\\\\***\\***\\Users\\***"},

		// Unix 家目錄
		{regexp.MustCompile(`/home/[^/]+`), "/home/***"},
		{regexp.MustCompile(`/Users/[^/]+`), "/Users/***"},

		// Email 部分遮蔽
		{regexp.MustCompile(`([a-zA-Z0-9._%+-]{1,3})[a-zA-Z0-9._%+-]*@`), "$1***@"},
	}
}

// Sanitize sanitizes a string by applying all patterns
func (s *Sanitizer) Sanitize(input string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := input
	for _, rule := range s.patterns {
		result = rule.Pattern.ReplaceAllString(result, rule.Replacement)
	}
	return result
}

// SanitizeArgs sanitizes logging arguments
func (s *Sanitizer) SanitizeArgs(args []any) []any {
	if len(args) == 0 {
		return args
	}

	result := make([]any, len(args))
	copy(result, args)

	// Process key-value pairs
	for i := 0; i < len(result)-1; i += 2 {
		key, ok := result[i].(string)
		if !ok {
			continue
		}

		if s.isSensitiveKey(key) {
			switch v := result[i+1].(type) {
			case string:
				result[i+1] = s.maskValue(v)
			case error:
				result[i+1] = s.maskValue(v.Error())
			}
			continue
		}

		switch v := result[i+1].(type) {
		case string:
			result[i+1] = s.Sanitize(v)
		case []string:
			masked := make([]string, len(v))
			for j, item := range v {
				masked[j] = s.Sanitize(item)
			}
			// "--flag value" 分屬兩個元素時遮罩後者
			for j := 0; j < len(masked)-1; j++ {
				if isSecretFlag(masked[j]) {
					masked[j+1] = "***"
				}
			}
			result[i+1] = masked
		}
	}

	return result
}

// isSecretFlag 判斷是否為帶有機密值的長旗標
func isSecretFlag(arg string) bool {
	if !strings.HasPrefix(arg, "--") || strings.Contains(arg, "=") {
		return false
	}
	lower := strings.ToLower(arg)
	for _, word := range []string{"pass", "secret", "token", "key"} {
		if strings.HasSuffix(lower, word) {
			return true
		}
	}
	return false
}

// isSensitiveKey 判斷鍵名是否為敏感鍵
func (s *Sanitizer) isSensitiveKey(key string) bool {
	lowerKey := strings.ToLower(key)
	sensitiveKeys := []string{
		"password", "passwd", "pwd",
		"token", "secret", "api_key", "apikey",
		"access_key", "account_key", "sas_url",
		"credential", "auth",
	}

	for _, sk := range sensitiveKeys {
		if strings.Contains(lowerKey, sk) {
			return true
		}
	}
	return false
}

// maskValue 遮蔽值（保留前後各1字元）
func (s *Sanitizer) maskValue(value string) string {
	if len(value) <= 2 {
		return "***"
	}
	if len(value) <= 8 {
		return fmt.Sprintf("%s***", string(value[0]))
	}
	return fmt.Sprintf("%s***%s", string(value[0]), string(value[len(value)-1]))
}

// AddRule 新增自訂過濾規則
func (s *Sanitizer) AddRule(pattern string, replacement string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid pattern: %w", err)
	}

	s.patterns = append(s.patterns, SanitizeRule{
		Pattern:     re,
		Replacement: replacement,
	})
	return nil
}
