package model

import "errors"

// 类型化失败原因，调用方用 errors.Is 分支处理
var (
	ErrNotFound       = errors.New("not found")
	ErrTimeout        = errors.New("timeout")
	ErrInvalidFormat  = errors.New("invalid format")
	ErrMissingID      = errors.New("missing id")
	ErrDealerInactive = errors.New("dealer inactive")
	ErrRateLimited    = errors.New("rate limited")
	ErrUpstream       = errors.New("upstream error")
)
