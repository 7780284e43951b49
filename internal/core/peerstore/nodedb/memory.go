package nodedb

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/lib/log"
	"github.com/Golem-Base/discv5/pkg/types"
)

var logger = log.Logger("core/nodedb")

// DefaultMaxNodes 内存数据库默认容量
const DefaultMaxNodes = 10000

type entry struct {
	rec      *types.Record
	lastSeen time.Time
}

// ============================================================================
//                              Memory NodeDB 实现
// ============================================================================

// MemoryDB 内存节点数据库
type MemoryDB struct {
	clock    clock.Clock
	maxNodes int

	mu     sync.RWMutex
	nodes  map[types.NodeID]entry
	closed bool
}

var _ interfaces.NodeDB = (*MemoryDB)(nil)

// NewMemoryDB 创建内存节点数据库
func NewMemoryDB(clk clock.Clock, maxNodes int) *MemoryDB {
	if clk == nil {
		clk = clock.New()
	}
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	return &MemoryDB{
		clock:    clk,
		maxNodes: maxNodes,
		nodes:    make(map[types.NodeID]entry),
	}
}

// Put 保存记录，序号较旧的记录被忽略
func (db *MemoryDB) Put(rec *types.Record) error {
	if !rec.Signed() || rec.ID.IsEmpty() {
		return ErrInvalidRecord
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	existing, ok := db.nodes[rec.ID]
	if ok && existing.rec.Seq > rec.Seq {
		existing.lastSeen = db.clock.Now()
		db.nodes[rec.ID] = existing
		return nil
	}
	if !ok && len(db.nodes) >= db.maxNodes {
		db.removeOldestLocked()
	}
	db.nodes[rec.ID] = entry{rec: rec.Clone(), lastSeen: db.clock.Now()}
	return nil
}

// Get 读取记录
func (db *MemoryDB) Get(id types.NodeID) (*types.Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	e, ok := db.nodes[id]
	if !ok {
		return nil, ErrNotFound
	}
	return e.rec.Clone(), nil
}

// Delete 删除记录
func (db *MemoryDB) Delete(id types.NodeID) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return ErrClosed
	}
	delete(db.nodes, id)
	return nil
}

// Seeds 返回最近活跃的最多 n 条记录
func (db *MemoryDB) Seeds(n int) ([]*types.Record, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if db.closed {
		return nil, ErrClosed
	}
	all := make([]entry, 0, len(db.nodes))
	for _, e := range db.nodes {
		all = append(all, e)
	}
	return pickSeeds(all, n), nil
}

// Len 返回记录数
func (db *MemoryDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.nodes)
}

// Close 关闭数据库
func (db *MemoryDB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.closed {
		return nil
	}
	db.closed = true
	db.nodes = nil
	logger.Info("内存节点数据库已关闭")
	return nil
}

// removeOldestLocked 删除最旧的节点（需要持有锁）
func (db *MemoryDB) removeOldestLocked() {
	var (
		oldest types.NodeID
		when   time.Time
		found  bool
	)
	for id, e := range db.nodes {
		if !found || e.lastSeen.Before(when) {
			oldest, when, found = id, e.lastSeen, true
		}
	}
	if found {
		delete(db.nodes, oldest)
		logger.Debug("删除最旧节点", "id", oldest.ShortString())
	}
}

// pickSeeds 按最后活跃时间降序取前 n 条
func pickSeeds(all []entry, n int) []*types.Record {
	if n <= 0 {
		return nil
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].lastSeen.Equal(all[j].lastSeen) {
			return all[i].lastSeen.After(all[j].lastSeen)
		}
		return types.CompareDistance(types.EmptyNodeID, all[i].rec.ID, all[j].rec.ID) < 0
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]*types.Record, len(all))
	for i, e := range all {
		out[i] = e.rec.Clone()
	}
	return out
}
