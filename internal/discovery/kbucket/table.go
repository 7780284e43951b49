package kbucket

import (
	"net/netip"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"

	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("discovery/kbucket")

// Config 路由表配置
type Config struct {
	// IncomingBucketLimit 每桶入站节点上限（≤ MaxNodesPerBucket）
	IncomingBucketLimit int

	// IPLimit 是否启用子网多样性限制
	IPLimit bool

	// AllowedCIDR 允许记录端点与来源不一致的来源网段
	AllowedCIDR netip.Prefix

	// Filter 准入谓词，nil 表示接受所有
	Filter Filter

	// Clock 时钟，nil 使用系统时钟
	Clock clock.Clock
}

// ============================================================================
//                              路由表
// ============================================================================

// Table Kademlia 路由表
type Table struct {
	local types.NodeID
	cfg   Config
	clock clock.Clock

	mu      sync.RWMutex
	buckets [NumBuckets]*bucket
	ips     subnetSet
	size    int
}

// New 创建路由表
func New(local types.NodeID, cfg Config) *Table {
	if cfg.IncomingBucketLimit <= 0 || cfg.IncomingBucketLimit > MaxNodesPerBucket {
		cfg.IncomingBucketLimit = MaxNodesPerBucket
	}
	if cfg.Filter == nil {
		cfg.Filter = AcceptAll
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	t := &Table{
		local: local,
		cfg:   cfg,
		clock: cfg.Clock,
		ips:   newSubnetSet(TableIPLimit),
	}
	for i := range t.buckets {
		t.buckets[i] = newBucket()
	}
	return t
}

// LocalID 返回本地节点 ID
func (t *Table) LocalID() types.NodeID {
	return t.local
}

func (t *Table) bucketFor(id types.NodeID) *bucket {
	d := types.LogDistance(t.local, id)
	if d == 0 {
		return nil
	}
	return t.buckets[d-1]
}

// checkSource 入站记录端点须与来源一致
func (t *Table) checkSource(rec *types.Record, status Status, source netip.AddrPort) bool {
	if !status.IsIncoming() || !source.IsValid() {
		return true
	}
	if rec.UDPAddr() == source {
		return true
	}
	return t.cfg.AllowedCIDR.IsValid() && t.cfg.AllowedCIDR.Contains(source.Addr().Unmap())
}

// InsertOrUpdate 插入或更新节点
//
// source 为收到记录的数据包来源，非数据包来源（查询结果、手动添加）传零值。
// 桶满时拒绝新节点，不驱逐已有节点。
func (t *Table) InsertOrUpdate(rec *types.Record, status Status, source netip.AddrPort) InsertResult {
	if rec == nil || rec.ID == t.local {
		return RejectedSelf
	}
	if !rec.UDPAddr().IsValid() {
		return RejectedNoEndpoint
	}
	if !t.checkSource(rec, status, source) {
		logger.Debug("记录端点与来源不符", "id", rec.ID.ShortString(), "record", rec.UDPAddr(), "source", source)
		return RejectedSourceMismatch
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(rec.ID)
	if i := b.find(rec.ID); i >= 0 {
		return t.updateLocked(b, b.entries[i], rec, status)
	}

	if !t.cfg.Filter.Accept(rec) {
		return RejectedFilter
	}
	if len(b.entries) >= MaxNodesPerBucket {
		return RejectedBucketFull
	}
	if status.IsIncoming() && b.incoming() >= t.cfg.IncomingBucketLimit {
		return RejectedIncomingLimit
	}
	if t.cfg.IPLimit {
		if !t.ips.canAdd(rec.IP) || !b.ips.canAdd(rec.IP) {
			logger.Debug("超出子网限制", "id", rec.ID.ShortString(), "ip", rec.IP)
			return RejectedIPLimit
		}
		t.ips.add(rec.IP)
		b.ips.add(rec.IP)
	}

	b.entries = append(b.entries, &Entry{Record: rec, Status: status, LastSeen: t.clock.Now()})
	t.size++
	logger.Debug("节点已加入路由表", "id", rec.ID.ShortString(), "distance", types.LogDistance(t.local, rec.ID), "status", status.Direction)
	return Inserted
}

func (t *Table) updateLocked(b *bucket, e *Entry, rec *types.Record, status Status) InsertResult {
	if rec.Seq < e.Record.Seq {
		return RejectedStale
	}
	if status.IsIncoming() && !e.Status.IsIncoming() && b.incoming() >= t.cfg.IncomingBucketLimit {
		return RejectedIncomingLimit
	}

	result := Unchanged
	if rec.Seq > e.Record.Seq {
		if !t.cfg.Filter.Accept(rec) {
			return RejectedFilter
		}
		if t.cfg.IPLimit && rec.IP != e.Record.IP {
			t.ips.remove(e.Record.IP)
			b.ips.remove(e.Record.IP)
			if !t.ips.canAdd(rec.IP) || !b.ips.canAdd(rec.IP) {
				t.ips.add(e.Record.IP)
				b.ips.add(e.Record.IP)
				return RejectedIPLimit
			}
			t.ips.add(rec.IP)
			b.ips.add(rec.IP)
		}
		e.Record = rec
		result = Updated
	}
	if status != e.Status {
		e.Status = status
		result = Updated
	}
	e.LastSeen = t.clock.Now()
	return result
}

// UpdateStatus 更新已有节点的状态
func (t *Table) UpdateStatus(id types.NodeID, status Status) InsertResult {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(id)
	if b == nil {
		return RejectedSelf
	}
	i := b.find(id)
	if i < 0 {
		return NotFound
	}
	e := b.entries[i]
	if e.Status == status {
		return Unchanged
	}
	if status.IsIncoming() && !e.Status.IsIncoming() && b.incoming() >= t.cfg.IncomingBucketLimit {
		return RejectedIncomingLimit
	}
	e.Status = status
	if status.IsConnected() {
		e.LastSeen = t.clock.Now()
	}
	return Updated
}

// Remove 移除节点
func (t *Table) Remove(id types.NodeID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	b := t.bucketFor(id)
	if b == nil {
		return false
	}
	i := b.find(id)
	if i < 0 {
		return false
	}
	e := b.remove(i)
	if t.cfg.IPLimit {
		t.ips.remove(e.Record.IP)
		b.ips.remove(e.Record.IP)
	}
	t.size--
	logger.Debug("节点已移出路由表", "id", id.ShortString())
	return true
}

// ============================================================================
//                              查询
// ============================================================================

// Get 获取节点
func (t *Table) Get(id types.NodeID) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	b := t.bucketFor(id)
	if b == nil {
		return Entry{}, false
	}
	if i := b.find(id); i >= 0 {
		return *b.entries[i], true
	}
	return Entry{}, false
}

// Len 返回节点总数
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// Entries 返回所有节点
func (t *Table) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Entry, 0, t.size)
	for _, b := range t.buckets {
		for _, e := range b.entries {
			out = append(out, *e)
		}
	}
	return out
}

// FindClosest 返回距离 target 最近的最多 count 个节点
//
// 按 XOR 距离升序，距离相同按 LastSeen 降序。
func (t *Table) FindClosest(target types.NodeID, count int) []Entry {
	if count <= 0 {
		return nil
	}
	all := t.Entries()
	sort.Slice(all, func(i, j int) bool {
		if c := types.CompareDistance(target, all[i].ID(), all[j].ID()); c != 0 {
			return c < 0
		}
		return all[i].LastSeen.After(all[j].LastSeen)
	})
	if len(all) > count {
		all = all[:count]
	}
	return all
}

// NodesAtDistances 返回指定对数距离桶中的记录，最多 max 条
//
// 距离 0 表示本地节点，不由路由表提供。
func (t *Table) NodesAtDistances(distances []uint, max int) []*types.Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []*types.Record
	seen := make(map[uint]struct{}, len(distances))
	for _, d := range distances {
		if d == 0 || d > NumBuckets {
			continue
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		for _, e := range t.buckets[d-1].entries {
			if len(out) >= max {
				return out
			}
			out = append(out, e.Record)
		}
	}
	return out
}

// BucketStats 返回非空桶统计
func (t *Table) BucketStats() []BucketStat {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var stats []BucketStat
	for i, b := range t.buckets {
		if len(b.entries) == 0 {
			continue
		}
		stats = append(stats, BucketStat{Distance: i + 1, Size: len(b.entries), Incoming: b.incoming()})
	}
	return stats
}
