package query

import (
	"encoding/binary"
	"net/netip"
	"sort"
	"testing"
	"time"

	sha256 "github.com/minio/sha256-simd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/internal/discovery/kbucket"
	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
// 测试辅助
// ============================================================================

var epoch = time.Unix(1700000000, 0)

func contact(b ...byte) types.NodeContact {
	var id types.NodeID
	copy(id[:], b)
	return types.NodeContact{ID: id, Addr: netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, b[0], 1}), 9000)}
}

func contacts(firsts ...byte) []types.NodeContact {
	out := make([]types.NodeContact, 0, len(firsts))
	for _, b := range firsts {
		out = append(out, contact(b))
	}
	return out
}

func ids(cs []types.NodeContact) []types.NodeID {
	out := make([]types.NodeID, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func kinds(events []Event) []EventKind {
	out := make([]EventKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

// ============================================================================
// FindNodeQuery
// ============================================================================

// TestFindNodeQuery_Empty 无种子节点时立即结束
func TestFindNodeQuery_Empty(t *testing.T) {
	q := NewFindNodeQuery(1, types.NodeID{}, nil, DefaultConfig(), epoch)
	action, _ := q.Next(epoch)
	assert.Equal(t, ActionFinished, action)
	assert.Empty(t, q.Result())
	assert.True(t, q.IsFinished())
}

// TestFindNodeQuery_Parallelism 最多 P 个节点同时等待，按距离顺序联系
func TestFindNodeQuery_Parallelism(t *testing.T) {
	cfg := Config{Parallelism: 3, PeerTimeout: time.Second, NumResults: 16}
	q := NewFindNodeQuery(1, types.NodeID{}, contacts(0x50, 0x10, 0x40, 0x20, 0x30), cfg, epoch)

	var contacted []byte
	for {
		action, c := q.Next(epoch)
		if action != ActionContact {
			assert.Equal(t, ActionWaiting, action)
			break
		}
		contacted = append(contacted, c.ID[0])
	}
	assert.Equal(t, []byte{0x10, 0x20, 0x30}, contacted)
	assert.Equal(t, 3, q.Stats().Waiting)

	q.OnFailure(contact(0x10).ID)
	action, c := q.Next(epoch)
	require.Equal(t, ActionContact, action)
	assert.Equal(t, byte(0x40), c.ID[0], "失败释放并发槽位")

	t.Log("✅ 并发度限制正确")
}

// TestFindNodeQuery_PeerTimeout 超时节点不占用槽位，迟到响应仍被合并
func TestFindNodeQuery_PeerTimeout(t *testing.T) {
	cfg := Config{Parallelism: 1, PeerTimeout: time.Second, NumResults: 2}
	q := NewFindNodeQuery(1, types.NodeID{}, contacts(0x10, 0x20), cfg, epoch)

	action, c := q.Next(epoch)
	require.Equal(t, ActionContact, action)
	require.Equal(t, byte(0x10), c.ID[0])

	action, _ = q.Next(epoch.Add(500 * time.Millisecond))
	assert.Equal(t, ActionWaiting, action)

	now := epoch.Add(time.Second)
	action, c = q.Next(now)
	require.Equal(t, ActionContact, action)
	assert.Equal(t, byte(0x20), c.ID[0])
	state, _ := q.PeerState(contact(0x10).ID)
	assert.Equal(t, PeerUnresponsive, state)

	q.OnSuccess(contact(0x20).ID, nil)
	q.OnSuccess(contact(0x10).ID, nil)

	action, _ = q.Next(now)
	assert.Equal(t, ActionFinished, action)
	assert.Equal(t, ids(contacts(0x10, 0x20)), ids(q.Result()))
}

// TestFindNodeQuery_CloserPeers 响应中的更近节点被优先联系
func TestFindNodeQuery_CloserPeers(t *testing.T) {
	cfg := Config{Parallelism: 1, PeerTimeout: time.Second, NumResults: 2}
	q := NewFindNodeQuery(1, types.NodeID{}, contacts(0x40), cfg, epoch)

	_, c := q.Next(epoch)
	require.Equal(t, byte(0x40), c.ID[0])
	q.OnSuccess(c.ID, contacts(0x80, 0x08, 0x40))

	_, c = q.Next(epoch)
	assert.Equal(t, byte(0x08), c.ID[0])
	q.OnSuccess(c.ID, nil)

	action, _ := q.Next(epoch)
	assert.Equal(t, ActionFinished, action, "最近的两个已知节点都已成功")
	assert.Equal(t, ids(contacts(0x08, 0x40)), ids(q.Result()))
	st, _ := q.PeerState(contact(0x80).ID)
	assert.Equal(t, PeerNotContacted, st)
}

// TestFindNodeQuery_LateReplyPolicy 两种迟到响应策略
func TestFindNodeQuery_LateReplyPolicy(t *testing.T) {
	run := func(policy LateReplyPolicy) *FindNodeQuery {
		cfg := Config{Parallelism: 2, PeerTimeout: time.Second, NumResults: 1, LateReplyPolicy: policy}
		q := NewFindNodeQuery(1, types.NodeID{}, contacts(0x10, 0x20), cfg, epoch)
		q.Next(epoch)
		q.Next(epoch)
		now := epoch.Add(time.Second)
		q.OnSuccess(contact(0x20).ID, nil)
		// 0x10 超时后 0x20 满足结果数
		action, _ := q.Next(now)
		if policy == DiscardAfterReturn {
			assert.Equal(t, ActionFinished, action)
			return q
		}
		assert.Equal(t, ActionWaiting, action, "宽限期等待迟到响应")
		q.OnSuccess(contact(0x10).ID, contacts(0x01))
		action, _ = q.Next(now.Add(100 * time.Millisecond))
		assert.Equal(t, ActionFinished, action)
		return q
	}

	discard := run(DiscardAfterReturn)
	assert.Equal(t, ids(contacts(0x20)), ids(discard.Result()))

	merge := run(MergeBeforeReturn)
	assert.Equal(t, ids(contacts(0x10)), ids(merge.Result()))
	_, known := merge.PeerState(contact(0x01).ID)
	assert.False(t, known, "宽限期不扩展候选")
}

// TestFindNodeQuery_GraceExpires 宽限期结束后无论迟到响应是否到达都结束
func TestFindNodeQuery_GraceExpires(t *testing.T) {
	cfg := Config{Parallelism: 2, PeerTimeout: time.Second, NumResults: 1, LateReplyPolicy: MergeBeforeReturn}
	q := NewFindNodeQuery(1, types.NodeID{}, contacts(0x10, 0x20), cfg, epoch)
	q.Next(epoch)
	q.Next(epoch)
	q.OnSuccess(contact(0x20).ID, nil)

	now := epoch.Add(time.Second)
	action, _ := q.Next(now)
	require.Equal(t, ActionWaiting, action)
	action, _ = q.Next(now.Add(time.Second))
	assert.Equal(t, ActionFinished, action)
	assert.Equal(t, ids(contacts(0x20)), ids(q.Result()))
}

func TestParseLateReplyPolicy(t *testing.T) {
	p, err := ParseLateReplyPolicy(config.LateReplyMerge)
	require.NoError(t, err)
	assert.Equal(t, MergeBeforeReturn, p)
	p, err = ParseLateReplyPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DiscardAfterReturn, p)
	_, err = ParseLateReplyPolicy("keep")
	assert.ErrorIs(t, err, ErrUnknownPolicy)

	cfg, err := FromConfig(config.DefaultQueryConfig())
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Parallelism)
	assert.Equal(t, 60*time.Second, cfg.Timeout)
}

// ============================================================================
// Pool
// ============================================================================

// TestPool_Lifecycle 查询在结束后移除，之后的响应被忽略
func TestPool_Lifecycle(t *testing.T) {
	pool := NewPool(Config{Parallelism: 2, PeerTimeout: time.Second, Timeout: 10 * time.Second, NumResults: 1})

	empty := pool.Add(types.NodeID{}, nil, epoch)
	id := pool.Add(types.NodeID{}, contacts(0x10, 0x20), epoch)
	assert.Equal(t, 2, pool.Len())

	events := pool.Poll(epoch)
	assert.Equal(t, []EventKind{EventFinished, EventContact, EventContact}, kinds(events))
	assert.Equal(t, empty, events[0].Query)
	assert.Empty(t, events[0].Result)
	assert.Equal(t, id, events[1].Query)

	require.True(t, pool.OnSuccess(id, contact(0x10).ID, nil))
	events = pool.Poll(epoch)
	require.Len(t, events, 1)
	assert.Equal(t, EventFinished, events[0].Kind)
	assert.Equal(t, ids(contacts(0x10)), ids(events[0].Result))

	assert.Zero(t, pool.Len())
	assert.False(t, pool.OnSuccess(id, contact(0x20).ID, nil), "结束后的响应被忽略")
	assert.False(t, pool.OnFailure(id, contact(0x20).ID))
}

// TestPool_Timeout 整体超时返回部分结果
func TestPool_Timeout(t *testing.T) {
	pool := NewPool(Config{Parallelism: 1, PeerTimeout: time.Second, Timeout: 5 * time.Second, NumResults: 4})
	id := pool.Add(types.NodeID{}, contacts(0x10), epoch)

	pool.Poll(epoch)
	pool.OnSuccess(id, contact(0x10).ID, contacts(0x20))
	events := pool.Poll(epoch)
	require.Len(t, events, 1)
	require.Equal(t, EventContact, events[0].Kind)

	events = pool.Poll(epoch.Add(5 * time.Second))
	require.Len(t, events, 1)
	assert.Equal(t, EventTimeout, events[0].Kind)
	assert.Equal(t, ids(contacts(0x10)), ids(events[0].Result))
	_, ok := pool.Get(id)
	assert.False(t, ok)
}

// TestPool_Remove 移除即取消
func TestPool_Remove(t *testing.T) {
	pool := NewPool(DefaultConfig())
	id := pool.Add(types.NodeID{}, contacts(0x10), epoch)
	assert.True(t, pool.Remove(id))
	assert.False(t, pool.Remove(id))
	assert.Empty(t, pool.Poll(epoch))
}

// ============================================================================
// 合成网络
// ============================================================================

type simNode struct {
	contact types.NodeContact
	table   *kbucket.Table
}

func syntheticID(i int) types.NodeID {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))
	return types.NodeID(sha256.Sum256(buf[:]))
}

func buildNetwork(t *testing.T, n int) []*simNode {
	t.Helper()
	nodes := make([]*simNode, n)
	for i := range nodes {
		id := syntheticID(i)
		addr := netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, byte(i >> 8), byte(i), 1}), 9000)
		nodes[i] = &simNode{
			contact: types.NodeContact{
				ID:     id,
				Addr:   addr,
				Record: &types.Record{ID: id, Seq: 1, IP: addr.Addr(), UDPPort: addr.Port()},
			},
			table: kbucket.New(id, kbucket.Config{}),
		}
	}
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.table.InsertOrUpdate(b.contact.Record, kbucket.ConnectedOutgoing, netip.AddrPort{})
			}
		}
	}
	return nodes
}

func closestContacts(table *kbucket.Table, target types.NodeID, k int) []types.NodeContact {
	var out []types.NodeContact
	for _, e := range table.FindClosest(target, k) {
		out = append(out, e.Contact())
	}
	return out
}

// TestPool_SyntheticNetwork 迭代查询返回真实的 K 个最近节点
func TestPool_SyntheticNetwork(t *testing.T) {
	const k = 16
	nodes := buildNetwork(t, 120)
	byID := make(map[types.NodeID]*simNode, len(nodes))
	for _, n := range nodes {
		byID[n.contact.ID] = n
	}
	local := nodes[0]

	for trial := 0; trial < 5; trial++ {
		target := syntheticID(10000 + trial)

		var want []types.NodeID
		for _, n := range nodes[1:] {
			want = append(want, n.contact.ID)
		}
		sort.Slice(want, func(i, j int) bool { return types.Closer(target, want[i], want[j]) })
		want = want[:k]

		pool := NewPool(Config{Parallelism: 3, PeerTimeout: time.Second, Timeout: time.Minute, NumResults: k})
		id := pool.Add(target, closestContacts(local.table, target, k), epoch)

		var result []types.NodeContact
		contacted := 0
		for done := false; !done; {
			events := pool.Poll(epoch)
			require.NotEmpty(t, events, "查询不应停滞")
			for _, ev := range events {
				switch ev.Kind {
				case EventContact:
					contacted++
					var closer []types.NodeContact
					for _, c := range closestContacts(byID[ev.Contact.ID].table, target, k) {
						if c.ID != local.contact.ID {
							closer = append(closer, c)
						}
					}
					pool.OnSuccess(id, ev.Contact.ID, closer)
				case EventFinished:
					result, done = ev.Result, true
				default:
					t.Fatalf("意外事件 %s", ev.Kind)
				}
			}
		}

		assert.Equal(t, want, ids(result), "trial %d", trial)
		assert.Less(t, contacted, len(nodes), "无需联系全部节点")
	}

	t.Log("✅ 合成网络中找到真实的 K 个最近节点")
}
