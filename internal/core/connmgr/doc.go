// Package connmgr 实现入站滥用过滤
//
// # 核心功能
//
// 1. 名单 - 封禁名单与放行名单
//   - 封禁名单中的 IP / 节点始终丢弃，优先于放行名单
//   - 放行名单中的 IP / 节点跳过限速
//
// 2. 限速 - 三级令牌桶（golang.org/x/time/rate）
//   - 全局入站速率
//   - 单节点速率
//   - 单 IP 速率
//
// 3. 自动封禁（仅在启用过滤时）
//   - 单节点 / 单 IP 超限次数达到 ViolationsBeforeBan 即封禁
//   - 单 IP 使用的不同节点 ID 超过 MaxNodesPerIP 即封禁该 IP
//   - 单 IP 下被封禁节点数达到 MaxBansPerIP 即封禁该 IP
//   - 认证失败（解密失败、重放、签名无效）计为一次超限
//
// 4. 过期清理 - 封禁到期后在下一次 Sweep 时解除（粗粒度，默认 5 分钟）
//
// # 快速开始
//
//	f, err := connmgr.NewFilter(cfg.Filter, clock.New())
//	if d := f.Admit(ip, &id); !d.Admitted() {
//	    return // 丢弃
//	}
package connmgr
