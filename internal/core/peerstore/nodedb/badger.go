package nodedb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dgraph-io/badger/v4"

	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/types"
)

// 键布局：n:<32 字节节点 ID>
// 值布局：<8 字节最后活跃时间 UnixNano> <记录编码>
var nodePrefix = []byte("n:")

// ============================================================================
//                              Badger NodeDB 实现
// ============================================================================

// BadgerDB 持久化节点数据库
type BadgerDB struct {
	db     *badger.DB
	clock  clock.Clock
	closed atomic.Bool
}

var _ interfaces.NodeDB = (*BadgerDB)(nil)

// OpenBadger 打开 path 处的数据库，path 为空时使用 BadgerDB 内存模式
func OpenBadger(path string, clk clock.Clock) (*BadgerDB, error) {
	if clk == nil {
		clk = clock.New()
	}
	opts := badger.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open node database: %w", err)
	}
	logger.Info("节点数据库已打开", "path", path)
	return &BadgerDB{db: db, clock: clk}, nil
}

func nodeKey(id types.NodeID) []byte {
	return append(append(make([]byte, 0, len(nodePrefix)+len(id)), nodePrefix...), id[:]...)
}

func encodeEntry(rec *types.Record, seen time.Time) ([]byte, error) {
	body, err := rec.Encode()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 8, 8+len(body))
	binary.BigEndian.PutUint64(out, uint64(seen.UnixNano()))
	return append(out, body...), nil
}

func decodeEntry(val []byte) (entry, error) {
	if len(val) < 8 {
		return entry{}, ErrCorrupt
	}
	rec, err := types.DecodeRecord(val[8:])
	if err != nil {
		return entry{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	seen := time.Unix(0, int64(binary.BigEndian.Uint64(val[:8])))
	return entry{rec: rec, lastSeen: seen}, nil
}

// Put 保存记录，序号较旧的记录只刷新活跃时间
func (b *BadgerDB) Put(rec *types.Record) error {
	if !rec.Signed() || rec.ID.IsEmpty() {
		return ErrInvalidRecord
	}
	if b.closed.Load() {
		return ErrClosed
	}
	now := b.clock.Now()
	key := nodeKey(rec.ID)

	return b.db.Update(func(txn *badger.Txn) error {
		toStore := rec
		item, err := txn.Get(key)
		switch {
		case err == nil:
			var existing entry
			derr := item.Value(func(val []byte) error {
				var e error
				existing, e = decodeEntry(val)
				return e
			})
			if derr == nil && existing.rec.Seq > rec.Seq {
				toStore = existing.rec
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		val, err := encodeEntry(toStore, now)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
		}
		return txn.Set(key, val)
	})
}

// Get 读取记录
func (b *BadgerDB) Get(id types.NodeID) (*types.Record, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	var e entry
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(nodeKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			e, err = decodeEntry(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return e.rec, nil
}

// Delete 删除记录
func (b *BadgerDB) Delete(id types.NodeID) error {
	if b.closed.Load() {
		return ErrClosed
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(nodeKey(id))
	})
}

// Seeds 返回最近活跃的最多 n 条记录，无法解码的条目被跳过
func (b *BadgerDB) Seeds(n int) ([]*types.Record, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}
	var all []entry
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = nodePrefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				e, err := decodeEntry(val)
				if err != nil {
					logger.Debug("跳过损坏的节点记录", "key", it.Item().Key(), "err", err)
					return nil
				}
				all = append(all, e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pickSeeds(all, n), nil
}

// Close 关闭数据库
func (b *BadgerDB) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	logger.Info("节点数据库已关闭")
	return b.db.Close()
}
