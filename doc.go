// Package discv5 提供基于 UDP 的节点发现服务
//
// 节点以签名记录（Record）标识自己，通过加密会话交换 PING/PONG 与
// FINDNODE/NODES 消息，在 Kademlia 路由表上执行迭代查询，并根据对端
// 观察到的地址投票维护本地记录中的外部端点。
//
// # 快速开始
//
//	cfg := config.DefaultConfig()
//	cfg.ListenAddr = "0.0.0.0:9000"
//
//	d, err := discv5.New(cfg,
//	    discv5.WithBootNodes(boot...),
//	    discv5.WithMetricsRegisterer(prometheus.DefaultRegisterer),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := d.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer d.Close()
//
//	records, err := d.FindNode(ctx, target)
//
// # 组件
//
//	┌──────────────────────────────────────────────────────────┐
//	│  Discv5                      discv5.New() / Start()      │
//	├──────────────────────────────────────────────────────────┤
//	│  dht.Service    查询循环 / 事件循环 / 存活检查            │
//	├──────────────┬──────────────┬──────────────┬─────────────┤
//	│ kbucket      │ rpc.Engine   │ query.Pool   │ reachability│
//	│ 路由表        │ 请求/响应     │ 迭代查询      │ 外部地址投票  │
//	├──────────────┴──────────────┴──────────────┴─────────────┤
//	│  session.Layer  握手与加密会话      connmgr.Filter 限速封禁 │
//	├──────────────────────────────────────────────────────────┤
//	│  transport (udp / memory)   identity   nodedb   metrics  │
//	└──────────────────────────────────────────────────────────┘
//
// # 文件组织
//
//	discv5/
//	├── doc.go        # 包文档
//	├── discv5.go     # Discv5 结构、New()
//	├── lifecycle.go  # Start、Close
//	├── api.go        # 查询、PING、记录、路由表、封禁
//	├── options.go    # WithXxx 配置选项
//	├── presets.go    # 预设配置
//	├── types.go      # 公共类型
//	├── errors.go     # 错误定义
//	└── fx.go         # Fx 模块组装
package discv5
