package kbucket

import (
	"fmt"
	"math/rand"
	"net/netip"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

func randomID(r *rand.Rand) types.NodeID {
	var id types.NodeID
	r.Read(id[:])
	return id
}

// idAtDistance 生成与 local 对数距离恰为 d 的随机 ID
func idAtDistance(r *rand.Rand, local types.NodeID, d int) types.NodeID {
	id := local
	bit := d - 1
	id[types.NodeIDLength-1-bit/8] ^= 1 << (bit % 8)
	for b := 0; b < bit; b++ {
		if r.Intn(2) == 1 {
			id[types.NodeIDLength-1-b/8] ^= 1 << (b % 8)
		}
	}
	return id
}

var portCounter uint16 = 10000

func makeRecord(id types.NodeID, ip string) *types.Record {
	portCounter++
	return &types.Record{
		ID:      id,
		Seq:     1,
		IP:      netip.MustParseAddr(ip),
		UDPPort: portCounter,
	}
}

func newTestTable(t *testing.T, cfg Config) (*Table, *rand.Rand) {
	t.Helper()
	r := rand.New(rand.NewSource(42))
	if cfg.Clock == nil {
		cfg.Clock = clock.NewMock()
	}
	return New(randomID(r), cfg), r
}

func assertBucketInvariants(t *testing.T, tbl *Table, incomingLimit int) {
	t.Helper()
	total := 0
	for _, s := range tbl.BucketStats() {
		assert.LessOrEqual(t, s.Size, MaxNodesPerBucket, "桶 %d 超出容量", s.Distance)
		assert.LessOrEqual(t, s.Incoming, incomingLimit, "桶 %d 入站超限", s.Distance)
		total += s.Size
	}
	assert.Equal(t, tbl.Len(), total)
}

// ============================================================================
// 准入规则
// ============================================================================

// TestTable_BucketCapacity 测试桶满时拒绝且不驱逐
func TestTable_BucketCapacity(t *testing.T) {
	tbl, r := newTestTable(t, Config{})

	var first []types.NodeID
	for i := 0; i < MaxNodesPerBucket+4; i++ {
		id := idAtDistance(r, tbl.LocalID(), 256)
		res := tbl.InsertOrUpdate(makeRecord(id, "10.0.0.1"), ConnectedOutgoing, netip.AddrPort{})
		if i < MaxNodesPerBucket {
			require.Equal(t, Inserted, res)
			assert.True(t, res.Changed())
			first = append(first, id)
		} else {
			assert.Equal(t, RejectedBucketFull, res)
			assert.False(t, res.Changed())
			assert.True(t, res.Rejected())
		}
	}

	assert.Equal(t, MaxNodesPerBucket, tbl.Len())
	for _, id := range first {
		_, ok := tbl.Get(id)
		assert.True(t, ok, "已有节点不被驱逐")
	}
	t.Log("✅ 桶容量限制正确")
}

// TestTable_IncomingLimit 测试入站限额
func TestTable_IncomingLimit(t *testing.T) {
	tbl, r := newTestTable(t, Config{IncomingBucketLimit: 4})

	for i := 0; i < 6; i++ {
		rec := makeRecord(idAtDistance(r, tbl.LocalID(), 200), "10.0.0.2")
		res := tbl.InsertOrUpdate(rec, ConnectedIncoming, rec.UDPAddr())
		if i < 4 {
			assert.Equal(t, Inserted, res)
		} else {
			assert.Equal(t, RejectedIncomingLimit, res)
		}
	}

	// 出站节点仍可填满剩余容量
	for i := 0; i < MaxNodesPerBucket-4; i++ {
		rec := makeRecord(idAtDistance(r, tbl.LocalID(), 200), "10.0.0.2")
		assert.Equal(t, Inserted, tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{}))
	}

	// 出站节点转为入站同样受限
	out := tbl.Entries()
	var outgoing types.NodeID
	for _, e := range out {
		if !e.Status.IsIncoming() {
			outgoing = e.ID()
			break
		}
	}
	assert.Equal(t, RejectedIncomingLimit, tbl.UpdateStatus(outgoing, ConnectedIncoming))

	assertBucketInvariants(t, tbl, 4)
	t.Log("✅ 入站限额正确")
}

// TestTable_InvariantsUnderRandomInserts 随机插入下桶不变量始终成立
func TestTable_InvariantsUnderRandomInserts(t *testing.T) {
	const limit = 5
	tbl, r := newTestTable(t, Config{IncomingBucketLimit: limit})

	for i := 0; i < 2000; i++ {
		id := idAtDistance(r, tbl.LocalID(), 250+r.Intn(7))
		status := Status{Direction: Direction(r.Intn(2)), State: State(r.Intn(2))}
		rec := makeRecord(id, "10.1.1.1")
		switch r.Intn(4) {
		case 0:
			if closest := tbl.FindClosest(id, 1); len(closest) > 0 {
				tbl.UpdateStatus(closest[0].ID(), status)
			}
		case 1:
			if es := tbl.Entries(); len(es) > 0 {
				tbl.Remove(es[r.Intn(len(es))].ID())
			}
		default:
			tbl.InsertOrUpdate(rec, status, rec.UDPAddr())
		}
	}
	assertBucketInvariants(t, tbl, limit)
	t.Log("✅ 随机操作后桶不变量成立")
}

// TestTable_Rejections 测试拒绝原因
func TestTable_Rejections(t *testing.T) {
	tbl, r := newTestTable(t, Config{})

	self := makeRecord(tbl.LocalID(), "10.0.0.1")
	assert.Equal(t, RejectedSelf, tbl.InsertOrUpdate(self, ConnectedOutgoing, netip.AddrPort{}))
	assert.Equal(t, RejectedSelf, tbl.InsertOrUpdate(nil, ConnectedOutgoing, netip.AddrPort{}))

	noAddr := &types.Record{ID: randomID(r), Seq: 1}
	assert.Equal(t, RejectedNoEndpoint, tbl.InsertOrUpdate(noAddr, ConnectedOutgoing, netip.AddrPort{}))

	assert.Equal(t, 0, tbl.Len())
}

// TestTable_SeqOrdering 测试记录序号
func TestTable_SeqOrdering(t *testing.T) {
	tbl, r := newTestTable(t, Config{})
	id := randomID(r)

	rec := makeRecord(id, "10.0.0.1")
	rec.Seq = 5
	require.Equal(t, Inserted, tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{}))

	assert.Equal(t, Unchanged, tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{}))

	stale := rec.Clone()
	stale.Seq = 4
	stale.UDPPort = 1
	assert.Equal(t, RejectedStale, tbl.InsertOrUpdate(stale, ConnectedOutgoing, netip.AddrPort{}))

	newer := rec.WithEndpoint(netip.MustParseAddr("10.0.0.9"), 4000)
	assert.Equal(t, Updated, tbl.InsertOrUpdate(newer, ConnectedOutgoing, netip.AddrPort{}))

	got, ok := tbl.Get(id)
	require.True(t, ok)
	assert.Equal(t, uint64(6), got.Record.Seq)
	assert.Equal(t, netip.MustParseAddrPort("10.0.0.9:4000"), got.Record.UDPAddr())

	assert.Equal(t, Updated, tbl.InsertOrUpdate(newer, DisconnectedOutgoing, netip.AddrPort{}), "状态变化")
	t.Log("✅ 旧记录不覆盖新记录")
}

// TestTable_SourceAddress 测试来源地址规则
func TestTable_SourceAddress(t *testing.T) {
	tbl, r := newTestTable(t, Config{AllowedCIDR: netip.MustParsePrefix("192.168.0.0/16")})

	rec := makeRecord(randomID(r), "10.0.0.1")
	other := netip.MustParseAddrPort("10.0.0.2:1234")
	assert.Equal(t, RejectedSourceMismatch, tbl.InsertOrUpdate(rec, ConnectedIncoming, other))

	// 出站节点不检查来源
	assert.Equal(t, Inserted, tbl.InsertOrUpdate(rec, ConnectedOutgoing, other))

	// 允许网段内的来源放宽
	natted := makeRecord(randomID(r), "10.0.0.3")
	assert.Equal(t, Inserted, tbl.InsertOrUpdate(natted, ConnectedIncoming, netip.MustParseAddrPort("192.168.5.5:9000")))

	matching := makeRecord(randomID(r), "10.0.0.4")
	assert.Equal(t, Inserted, tbl.InsertOrUpdate(matching, ConnectedIncoming, matching.UDPAddr()))
	t.Log("✅ 来源地址规则正确")
}

// TestTable_Filter 测试准入谓词
func TestTable_Filter(t *testing.T) {
	tbl, r := newTestTable(t, Config{
		Filter: FilterFunc(func(rec *types.Record) bool { return rec.Fields["eth"] != nil }),
	})

	plain := makeRecord(randomID(r), "10.0.0.1")
	assert.Equal(t, RejectedFilter, tbl.InsertOrUpdate(plain, ConnectedOutgoing, netip.AddrPort{}))

	tagged := plain.WithField("eth", []byte{1})
	assert.Equal(t, Inserted, tbl.InsertOrUpdate(tagged, ConnectedOutgoing, netip.AddrPort{}))
}

// TestTable_IPLimit 测试子网多样性限制
func TestTable_IPLimit(t *testing.T) {
	tbl, r := newTestTable(t, Config{IPLimit: true})

	// 同一桶同一 /24 最多 2 个
	for i := 0; i < 3; i++ {
		rec := makeRecord(idAtDistance(r, tbl.LocalID(), 256), fmt.Sprintf("1.2.3.%d", i+1))
		res := tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{})
		if i < BucketIPLimit {
			assert.Equal(t, Inserted, res)
		} else {
			assert.Equal(t, RejectedIPLimit, res)
		}
	}

	// 全表同一 /24 最多 10 个
	inserted := BucketIPLimit
	for d := 255; d > 240 && inserted < TableIPLimit+3; d-- {
		rec := makeRecord(idAtDistance(r, tbl.LocalID(), d), "1.2.3.100")
		if tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{}) == Inserted {
			inserted++
		}
	}
	assert.Equal(t, TableIPLimit, inserted)

	// 内网地址不受限
	for i := 0; i < 5; i++ {
		rec := makeRecord(idAtDistance(r, tbl.LocalID(), 256), "10.9.9.9")
		if i+BucketIPLimit < MaxNodesPerBucket {
			assert.Equal(t, Inserted, tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{}))
		}
	}

	// 移除后释放名额
	var victim types.NodeID
	for _, e := range tbl.Entries() {
		if e.Record.IP == netip.MustParseAddr("1.2.3.100") {
			victim = e.ID()
			break
		}
	}
	require.True(t, tbl.Remove(victim))
	rec := makeRecord(idAtDistance(r, tbl.LocalID(), 230), "1.2.3.200")
	assert.Equal(t, Inserted, tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{}))

	t.Log("✅ IP 多样性限制正确")
}

// ============================================================================
// 查询
// ============================================================================

// TestTable_FindClosest 测试最近节点查询
func TestTable_FindClosest(t *testing.T) {
	tbl, r := newTestTable(t, Config{})

	var ids []types.NodeID
	for i := 0; i < 200; i++ {
		rec := makeRecord(randomID(r), "10.0.0.1")
		if tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{}) == Inserted {
			ids = append(ids, rec.ID)
		}
	}

	target := randomID(r)
	got := tbl.FindClosest(target, 10)
	require.Len(t, got, 10)

	sort.Slice(ids, func(i, j int) bool { return types.Closer(target, ids[i], ids[j]) })
	for i := range got {
		assert.Equal(t, ids[i], got[i].ID())
	}

	assert.Empty(t, tbl.FindClosest(target, 0))
	assert.Len(t, tbl.FindClosest(target, 10000), len(ids))
	t.Log("✅ FindClosest 与暴力排序一致")
}

// TestTable_FindClosestRoundTrip 插入后以自身为目标查询得到距离零
func TestTable_FindClosestRoundTrip(t *testing.T) {
	tbl, r := newTestTable(t, Config{})
	for i := 0; i < 50; i++ {
		tbl.InsertOrUpdate(makeRecord(idAtDistance(r, tbl.LocalID(), 240+i%16), "10.0.0.1"), ConnectedOutgoing, netip.AddrPort{})
	}
	rec := makeRecord(idAtDistance(r, tbl.LocalID(), 200), "10.0.0.7")
	require.Equal(t, Inserted, tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{}))

	got := tbl.FindClosest(rec.ID, 1)
	require.Len(t, got, 1)
	assert.Equal(t, rec, got[0].Record)
	assert.Equal(t, 0, types.LogDistance(rec.ID, got[0].ID()))
}

// TestTable_LastSeenRefresh 测试重复插入刷新最近活跃时间
func TestTable_LastSeenRefresh(t *testing.T) {
	mock := clock.NewMock()
	tbl, r := newTestTable(t, Config{Clock: mock})

	rec := makeRecord(randomID(r), "10.0.0.1")
	tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{})
	first, _ := tbl.Get(rec.ID)

	mock.Add(time.Minute)
	tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{})
	second, _ := tbl.Get(rec.ID)
	assert.True(t, second.LastSeen.After(first.LastSeen), "重复插入刷新 LastSeen")
}

// TestTable_NodesAtDistances 测试按距离取节点
func TestTable_NodesAtDistances(t *testing.T) {
	tbl, r := newTestTable(t, Config{})
	for i := 0; i < 5; i++ {
		tbl.InsertOrUpdate(makeRecord(idAtDistance(r, tbl.LocalID(), 256), "10.0.0.1"), ConnectedOutgoing, netip.AddrPort{})
		tbl.InsertOrUpdate(makeRecord(idAtDistance(r, tbl.LocalID(), 255), "10.0.0.1"), ConnectedOutgoing, netip.AddrPort{})
	}

	got := tbl.NodesAtDistances([]uint{256}, 16)
	assert.Len(t, got, 5)
	for _, rec := range got {
		assert.Equal(t, 256, types.LogDistance(tbl.LocalID(), rec.ID))
	}

	assert.Len(t, tbl.NodesAtDistances([]uint{256, 255, 256}, 16), 10, "重复距离去重")
	assert.Len(t, tbl.NodesAtDistances([]uint{256, 255}, 7), 7)
	assert.Empty(t, tbl.NodesAtDistances([]uint{0, 257}, 16))
}

// TestTable_RemoveAndStatus 测试移除与状态更新
func TestTable_RemoveAndStatus(t *testing.T) {
	tbl, r := newTestTable(t, Config{})
	rec := makeRecord(randomID(r), "10.0.0.1")
	tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{})

	assert.Equal(t, Unchanged, tbl.UpdateStatus(rec.ID, ConnectedOutgoing))
	assert.Equal(t, Updated, tbl.UpdateStatus(rec.ID, DisconnectedOutgoing))
	e, _ := tbl.Get(rec.ID)
	assert.False(t, e.Status.IsConnected())

	assert.True(t, tbl.Remove(rec.ID))
	assert.False(t, tbl.Remove(rec.ID))
	assert.Equal(t, NotFound, tbl.UpdateStatus(rec.ID, ConnectedOutgoing))
	assert.Equal(t, RejectedSelf, tbl.UpdateStatus(tbl.LocalID(), ConnectedOutgoing))
	assert.Equal(t, 0, tbl.Len())
}

// TestTable_Concurrent 并发插入与查询
func TestTable_Concurrent(t *testing.T) {
	tbl := New(types.NodeID{1}, Config{})
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for i := 0; i < 200; i++ {
				id := randomID(r)
				rec := &types.Record{ID: id, Seq: 1, IP: netip.MustParseAddr("10.0.0.1"), UDPPort: uint16(1000 + i)}
				tbl.InsertOrUpdate(rec, ConnectedOutgoing, netip.AddrPort{})
				tbl.FindClosest(id, 16)
				if i%3 == 0 {
					tbl.Remove(id)
				}
			}
		}(int64(g))
	}
	wg.Wait()
	assertBucketInvariants(t, tbl, MaxNodesPerBucket)
}

func TestInsertResult_String(t *testing.T) {
	assert.Equal(t, "bucket_full", RejectedBucketFull.String())
	assert.Equal(t, "unknown", InsertResult(99).String())
	assert.Equal(t, "incoming", Incoming.String())
	assert.Equal(t, "disconnected", Disconnected.String())
}
