package kbucket

import "github.com/Golem-Base/discv5/pkg/types"

const (
	// MaxNodesPerBucket 每个 K-桶容量
	MaxNodesPerBucket = 16

	// NumBuckets 桶数量（对数距离 1..256）
	NumBuckets = types.NodeIDLength * 8
)

// bucket 单个 K-桶，由 Table 的锁保护
type bucket struct {
	entries []*Entry
	ips     subnetSet
}

func newBucket() *bucket {
	return &bucket{
		entries: make([]*Entry, 0, MaxNodesPerBucket),
		ips:     newSubnetSet(BucketIPLimit),
	}
}

func (b *bucket) find(id types.NodeID) int {
	for i, e := range b.entries {
		if e.Record.ID == id {
			return i
		}
	}
	return -1
}

func (b *bucket) incoming() int {
	n := 0
	for _, e := range b.entries {
		if e.Status.IsIncoming() {
			n++
		}
	}
	return n
}

func (b *bucket) remove(i int) *Entry {
	e := b.entries[i]
	b.entries = append(b.entries[:i], b.entries[i+1:]...)
	return e
}

// BucketStat 桶统计
type BucketStat struct {
	// Distance 对数距离（1..256）
	Distance int
	Size     int
	Incoming int
}
