package connmgr

import (
	"context"
	"fmt"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("core/connmgr")

// trackingWindow 空闲令牌桶、超限计数、IP->节点映射的保留时间
const trackingWindow = 10 * time.Minute

// BanHook 封禁回调（用于指标与日志），在锁外调用
type BanHook func(target string, reason BanReason)

// ============================================================================
//                              Filter 结构
// ============================================================================

// Filter 入站滥用过滤器
type Filter struct {
	cfg         config.FilterConfig
	clock       clock.Clock
	banDuration time.Duration

	mu          sync.Mutex
	total       *rate.Limiter
	nodeLimits  keyedLimiter[types.NodeID]
	ipLimits    keyedLimiter[netip.Addr]
	permitIPs   map[netip.Addr]struct{}
	permitNodes map[types.NodeID]struct{}
	bannedIPs   map[netip.Addr]Ban
	bannedNodes map[types.NodeID]Ban

	nodeViolations map[types.NodeID]*violation
	ipViolations   map[netip.Addr]*violation
	nodesByIP      map[netip.Addr]map[types.NodeID]time.Time
	bansByIP       map[netip.Addr]map[types.NodeID]struct{}

	hook BanHook
}

// NewFilter 创建过滤器
//
// 配置中的封禁名单为永久封禁，放行名单跳过限速。
func NewFilter(cfg config.FilterConfig, clk clock.Clock) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if clk == nil {
		clk = clock.New()
	}

	f := &Filter{
		cfg:            cfg,
		clock:          clk,
		total:          newLimiter(cfg.Total),
		nodeLimits:     newKeyedLimiter[types.NodeID](cfg.Node),
		ipLimits:       newKeyedLimiter[netip.Addr](cfg.IP),
		permitIPs:      make(map[netip.Addr]struct{}),
		permitNodes:    make(map[types.NodeID]struct{}),
		bannedIPs:      make(map[netip.Addr]Ban),
		bannedNodes:    make(map[types.NodeID]Ban),
		nodeViolations: make(map[types.NodeID]*violation),
		ipViolations:   make(map[netip.Addr]*violation),
		nodesByIP:      make(map[netip.Addr]map[types.NodeID]time.Time),
		bansByIP:       make(map[netip.Addr]map[types.NodeID]struct{}),
	}
	if cfg.BanDuration != nil {
		f.banDuration = cfg.BanDuration.Duration()
	}

	// Validate 已检查过格式
	permitIPs, _ := config.ParseAddrs(cfg.PermitIPs)
	permitNodes, _ := config.ParseNodeIDs(cfg.PermitNodes)
	banIPs, _ := config.ParseAddrs(cfg.BanIPs)
	banNodes, _ := config.ParseNodeIDs(cfg.BanNodes)

	now := clk.Now()
	for _, ip := range permitIPs {
		f.permitIPs[ip] = struct{}{}
	}
	for _, id := range permitNodes {
		f.permitNodes[id] = struct{}{}
	}
	for _, ip := range banIPs {
		f.bannedIPs[ip] = newBan(BanManual, now, 0)
	}
	for _, id := range banNodes {
		f.bannedNodes[id] = newBan(BanManual, now, 0)
	}

	logger.Info("滥用过滤器已创建",
		"enabled", cfg.Enabled,
		"permitted", len(f.permitIPs)+len(f.permitNodes),
		"banned", len(f.bannedIPs)+len(f.bannedNodes))
	return f, nil
}

// SetBanHook 设置封禁回调
func (f *Filter) SetBanHook(h BanHook) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hook = h
}

// Enabled 是否启用限速与自动封禁
func (f *Filter) Enabled() bool {
	return f.cfg.Enabled
}

// ============================================================================
//                              准入检查
// ============================================================================

// Admit 检查入站数据包是否放行
//
// id 为数据包声明的源节点 ID，未知时传 nil。封禁名单始终生效；
// 限速与自动封禁仅在启用过滤时生效。
func (f *Filter) Admit(ip netip.Addr, id *types.NodeID) Decision {
	ip = ip.Unmap()
	now := f.clock.Now()

	var fired []func()
	defer func() {
		for _, fn := range fired {
			fn()
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, banned := f.bannedIPs[ip]; banned {
		return DropBannedIP
	}
	if id != nil {
		if _, banned := f.bannedNodes[*id]; banned {
			return DropBannedNode
		}
	}
	if f.permittedLocked(ip, id) || !f.cfg.Enabled {
		return Admit
	}

	if id != nil {
		nodes, ok := f.nodesByIP[ip]
		if !ok {
			nodes = make(map[types.NodeID]time.Time)
			f.nodesByIP[ip] = nodes
		}
		nodes[*id] = now
		if len(nodes) > f.cfg.MaxNodesPerIP {
			fired = append(fired, f.banIPLocked(ip, BanTooManyNodes, now))
			return DropBannedIP
		}
	}

	if !f.total.AllowN(now, 1) {
		return DropTotalRate
	}
	if id != nil && !f.nodeLimits.allow(*id, now) {
		fired = append(fired, f.nodeViolationLocked(ip, *id, BanRateViolations, now)...)
		return DropNodeRate
	}
	if !f.ipLimits.allow(ip, now) {
		fired = append(fired, f.ipViolationLocked(ip, BanRateViolations, now)...)
		return DropIPRate
	}
	return Admit
}

// ReportAuthFailure 记录一次认证失败（解密失败、重放、签名或记录无效）
func (f *Filter) ReportAuthFailure(ip netip.Addr, id *types.NodeID) {
	if !f.cfg.Enabled {
		return
	}
	ip = ip.Unmap()
	now := f.clock.Now()

	var fired []func()
	f.mu.Lock()
	if !f.permittedLocked(ip, id) {
		if id != nil {
			fired = append(fired, f.nodeViolationLocked(ip, *id, BanAuthFailures, now)...)
		}
		fired = append(fired, f.ipViolationLocked(ip, BanAuthFailures, now)...)
	}
	f.mu.Unlock()

	for _, fn := range fired {
		fn()
	}
}

func (f *Filter) permittedLocked(ip netip.Addr, id *types.NodeID) bool {
	if _, ok := f.permitIPs[ip]; ok {
		return true
	}
	if id != nil {
		if _, ok := f.permitNodes[*id]; ok {
			return true
		}
	}
	return false
}

func (f *Filter) nodeViolationLocked(ip netip.Addr, id types.NodeID, reason BanReason, now time.Time) []func() {
	if _, banned := f.bannedNodes[id]; banned {
		return nil
	}
	if bump(f.nodeViolations, id, now) < f.cfg.ViolationsBeforeBan {
		return nil
	}
	fired := []func(){f.banNodeLocked(id, reason, now)}

	bans, ok := f.bansByIP[ip]
	if !ok {
		bans = make(map[types.NodeID]struct{})
		f.bansByIP[ip] = bans
	}
	bans[id] = struct{}{}
	if len(bans) >= f.cfg.MaxBansPerIP {
		if _, banned := f.bannedIPs[ip]; !banned {
			fired = append(fired, f.banIPLocked(ip, BanTooManyBannedNodes, now))
		}
	}
	return fired
}

func (f *Filter) ipViolationLocked(ip netip.Addr, reason BanReason, now time.Time) []func() {
	if _, banned := f.bannedIPs[ip]; banned {
		return nil
	}
	if bump(f.ipViolations, ip, now) < f.cfg.ViolationsBeforeBan {
		return nil
	}
	return []func(){f.banIPLocked(ip, reason, now)}
}

func (f *Filter) banNodeLocked(id types.NodeID, reason BanReason, now time.Time) func() {
	f.bannedNodes[id] = newBan(reason, now, f.banDuration)
	delete(f.nodeViolations, id)
	logger.Warn("节点已封禁", "id", id.ShortString(), "reason", reason, "duration", f.banDuration)
	hook := f.hook
	return func() {
		if hook != nil {
			hook("node", reason)
		}
	}
}

func (f *Filter) banIPLocked(ip netip.Addr, reason BanReason, now time.Time) func() {
	f.bannedIPs[ip] = newBan(reason, now, f.banDuration)
	delete(f.ipViolations, ip)
	logger.Warn("IP 已封禁", "ip", ip, "reason", reason, "duration", f.banDuration)
	hook := f.hook
	return func() {
		if hook != nil {
			hook("ip", reason)
		}
	}
}

// ============================================================================
//                              手动名单
// ============================================================================

// BanNode 手动封禁节点，d <= 0 表示永久
func (f *Filter) BanNode(id types.NodeID, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bannedNodes[id] = newBan(BanManual, f.clock.Now(), d)
}

// BanIP 手动封禁 IP，d <= 0 表示永久
func (f *Filter) BanIP(ip netip.Addr, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bannedIPs[ip.Unmap()] = newBan(BanManual, f.clock.Now(), d)
}

// UnbanNode 解除节点封禁
func (f *Filter) UnbanNode(id types.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.bannedNodes, id)
	for _, bans := range f.bansByIP {
		delete(bans, id)
	}
}

// UnbanIP 解除 IP 封禁
func (f *Filter) UnbanIP(ip netip.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ip = ip.Unmap()
	delete(f.bannedIPs, ip)
	delete(f.bansByIP, ip)
	delete(f.nodesByIP, ip)
}

// PermitNode 将节点加入放行名单
func (f *Filter) PermitNode(id types.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permitNodes[id] = struct{}{}
}

// PermitIP 将 IP 加入放行名单
func (f *Filter) PermitIP(ip netip.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permitIPs[ip.Unmap()] = struct{}{}
}

// RevokeNode 将节点移出放行名单
func (f *Filter) RevokeNode(id types.NodeID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.permitNodes, id)
}

// RevokeIP 将 IP 移出放行名单
func (f *Filter) RevokeIP(ip netip.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.permitIPs, ip.Unmap())
}

// IsBannedNode 节点是否被封禁
func (f *Filter) IsBannedNode(id types.NodeID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bannedNodes[id]
	return ok
}

// IsBannedIP IP 是否被封禁
func (f *Filter) IsBannedIP(ip netip.Addr) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.bannedIPs[ip.Unmap()]
	return ok
}

// Bans 返回封禁名单快照
func (f *Filter) Bans() BanList {
	f.mu.Lock()
	defer f.mu.Unlock()

	list := BanList{
		IPs:   make(map[netip.Addr]Ban, len(f.bannedIPs)),
		Nodes: make(map[types.NodeID]Ban, len(f.bannedNodes)),
	}
	for ip, b := range f.bannedIPs {
		list.IPs[ip] = b
	}
	for id, b := range f.bannedNodes {
		list.Nodes[id] = b
	}
	return list
}

// ============================================================================
//                              过期清理
// ============================================================================

// Sweep 解除到期封禁并清理空闲状态，返回解除的封禁数
func (f *Filter) Sweep() int {
	now := f.clock.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	lifted := 0
	for ip, b := range f.bannedIPs {
		if b.expired(now) {
			delete(f.bannedIPs, ip)
			delete(f.bansByIP, ip)
			delete(f.nodesByIP, ip)
			lifted++
		}
	}
	for id, b := range f.bannedNodes {
		if b.expired(now) {
			delete(f.bannedNodes, id)
			for _, bans := range f.bansByIP {
				delete(bans, id)
			}
			lifted++
		}
	}

	f.nodeLimits.sweep(now, trackingWindow)
	f.ipLimits.sweep(now, trackingWindow)
	for id, v := range f.nodeViolations {
		if now.Sub(v.last) > trackingWindow {
			delete(f.nodeViolations, id)
		}
	}
	for ip, v := range f.ipViolations {
		if now.Sub(v.last) > trackingWindow {
			delete(f.ipViolations, ip)
		}
	}
	for ip, nodes := range f.nodesByIP {
		for id, seen := range nodes {
			if now.Sub(seen) > trackingWindow {
				delete(nodes, id)
			}
		}
		if len(nodes) == 0 {
			delete(f.nodesByIP, ip)
		}
	}

	if lifted > 0 {
		logger.Debug("封禁已到期解除", "count", lifted)
	}
	return lifted
}

// Run 按 BanSweepInterval 周期清理，直到 ctx 取消
func (f *Filter) Run(ctx context.Context) error {
	ticker := f.clock.Ticker(f.cfg.BanSweepInterval.Duration())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			f.Sweep()
		}
	}
}
