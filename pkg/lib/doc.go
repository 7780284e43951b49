// Package lib 包含基础设施工具库
//
// 本目录包含与发现协议无关的通用工具库：
//
//   - log: 基于 log/slog 的分子系统日志封装
//
// # 与 pkg/ 其他目录的关系
//
//   - interfaces/: 组件协作接口（身份、传输、节点数据库）
//   - types/: 公共类型定义（节点 ID、记录、事件）
//   - lib/: 基础设施工具库（本目录）
package lib
