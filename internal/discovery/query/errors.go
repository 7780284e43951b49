package query

import "errors"

// ErrUnknownPolicy 未知的迟到响应策略
var ErrUnknownPolicy = errors.New("query: unknown late reply policy")
