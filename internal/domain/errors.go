package domain

import "errors"

// Pre-flight errors - 執行前檢查錯誤
var (
	// ErrPathUnreachable indicates a source or destination could not be listed
	ErrPathUnreachable = errors.New("path unreachable")

	// ErrAlreadyLocked indicates another run holds the lock for the same pair
	ErrAlreadyLocked = errors.New("sync already in progress")
)

// Run errors - 同步執行錯誤
var (
	// ErrEngineFailed indicates the sync engine exited non-zero or could not start
	ErrEngineFailed = errors.New("sync engine failed")

	// ErrLogRotation indicates the engine log could not be rotated (never fatal)
	ErrLogRotation = errors.New("log rotation failed")

	// ErrLogLocation indicates the engine log directory could not be created
	ErrLogLocation = errors.New("log location unavailable")
)

// Config errors - 設定錯誤
var (
	// ErrConfigInvalid indicates a malformed configuration value
	ErrConfigInvalid = errors.New("invalid config")

	// ErrInvalidArgument indicates an engine argument that cannot be passed safely
	ErrInvalidArgument = errors.New("invalid engine argument")
)
