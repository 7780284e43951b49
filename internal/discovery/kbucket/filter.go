package kbucket

import "github.com/Golem-Base/discv5/pkg/types"

// Filter 路由表准入谓词
type Filter interface {
	// Accept 返回记录是否允许进入路由表
	Accept(rec *types.Record) bool
}

// FilterFunc 函数适配器
type FilterFunc func(rec *types.Record) bool

// Accept 实现 Filter
func (f FilterFunc) Accept(rec *types.Record) bool {
	return f(rec)
}

// AcceptAll 默认谓词，接受所有记录
var AcceptAll Filter = FilterFunc(func(*types.Record) bool { return true })
