package reachability

import "errors"

var (
	// ErrNoUpdater 未设置记录更新器
	ErrNoUpdater = errors.New("reachability: no record updater")
)
