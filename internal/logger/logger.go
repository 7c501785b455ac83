package logger

import (
	"fmt"
	"sync"
)

// 診斷日誌：只寫到 stderr 或 --diag-log 檔案，永遠不碰格式化後的 stdout。
var (
	mu     sync.RWMutex
	active Logger = discard{}
	owned  bool
)

// Init 建立新的全域 logger 並取代目前的。
// 每個 cobra 指令都會重新呼叫，舊的 logger 會先被關閉以釋放 diag 檔案。
func Init(config Config) error {
	next, err := NewSlogLogger(config)
	if err != nil {
		return fmt.Errorf("failed to create slog logger: %w", err)
	}

	mu.Lock()
	prev, hadPrev := active, owned
	active, owned = next, true
	mu.Unlock()

	if hadPrev {
		if err := prev.Shutdown(); err != nil {
			return fmt.Errorf("failed to close previous logger: %w", err)
		}
	}
	return nil
}

// Get 取得全域 logger；未初始化時丟棄所有輸出
func Get() Logger {
	mu.RLock()
	defer mu.RUnlock()
	return active
}

// With 建立帶 context 的子 logger
func With(args ...any) Logger {
	return Get().With(args...)
}

// ForRun 回傳標記了單次同步的子 logger
func ForRun(shortRunID, stableID string) Logger {
	return With("run_id", shortRunID, "stable_id", stableID)
}

// Sync 強制 flush
func Sync() error {
	return Get().Sync()
}

// Shutdown 關閉全域 logger 並回到丟棄模式；可重複呼叫
func Shutdown() error {
	mu.Lock()
	prev, hadPrev := active, owned
	active, owned = discard{}, false
	mu.Unlock()

	if !hadPrev {
		return nil
	}
	return prev.Shutdown()
}

// SetLevel 動態調整日誌級別
func SetLevel(level Level) {
	if l, ok := Get().(*SlogLogger); ok {
		l.SetLevel(level)
	}
}

type discard struct{}

func (discard) Debug(string, ...any) {}
func (discard) Info(string, ...any)  {}
func (discard) Warn(string, ...any)  {}
func (discard) Error(string, ...any) {}
func (d discard) With(...any) Logger { return d }
func (discard) Sync() error          { return nil }
func (discard) Shutdown() error      { return nil }
