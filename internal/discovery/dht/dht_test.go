package dht

import (
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Golem-Base/discv5/config"
	"github.com/Golem-Base/discv5/internal/core/connmgr"
	"github.com/Golem-Base/discv5/internal/core/identity"
	"github.com/Golem-Base/discv5/internal/core/metrics"
	"github.com/Golem-Base/discv5/pkg/types"
)

func TestLookupDistances(t *testing.T) {
	var target types.NodeID
	assert.Equal(t, []uint{0}, lookupDistances(target, target))

	peer := target
	peer[0] = 0x80
	assert.Equal(t, []uint{256, 255, 254}, lookupDistances(target, peer))

	peer = target
	peer[types.NodeIDLength-1] = 0x01
	assert.Equal(t, []uint{1, 2, 3}, lookupDistances(target, peer))

	peer = target
	peer[types.NodeIDLength-1] = 0x08
	assert.Equal(t, []uint{4, 5, 3}, lookupDistances(target, peer))

	t.Log("✅ 查询距离以节点距离为中心")
}

func TestBootNodes_RoundTrip(t *testing.T) {
	id, err := identity.Generate()
	require.NoError(t, err)
	rec, err := id.NewRecord(netip.MustParseAddr("203.0.113.7"), 9000)
	require.NoError(t, err)

	s, err := EncodeBootNode(rec)
	require.NoError(t, err)

	out, err := ParseBootNodes([]string{s, " " + strings.TrimPrefix(s, bootNodePrefix) + " "})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, r := range out {
		assert.Equal(t, rec.ID, r.ID)
		assert.Equal(t, rec.UDPAddr(), r.UDPAddr())
		assert.NoError(t, identity.NewVerifier().VerifyRecord(r))
	}

	_, err = ParseBootNodes([]string{"zz"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, err = ParseBootNodes([]string{"0a0b"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	t.Log("✅ 引导节点编解码正确")
}

func TestConfigFromUnified(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.RPC.RequestTimeout = config.Duration(3 * time.Second)
	cfg.RPC.RequestRetries = 2
	cfg.Table.ReportDiscoveredPeers = true
	cfg.Reachability.EnrPeerUpdateMin = 4
	cfg.Storage.SeedCount = 7

	c, err := ConfigFromUnified(cfg)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, c.RequestTimeout)
	assert.Equal(t, 2, c.RequestRetries)
	assert.True(t, c.ReportDiscoveredPeers)
	assert.Equal(t, 4, c.Reachability.MinVotes)
	assert.Equal(t, 7, c.SeedCount)
	assert.NoError(t, c.Validate())

	def, err := ConfigFromUnified(nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), def)

	bad := DefaultConfig()
	bad.MaxNodesResponse = 0
	assert.ErrorIs(t, bad.Validate(), ErrInvalidConfig)

	t.Log("✅ 统一配置转换正确")
}

func TestEventHub(t *testing.T) {
	hub := newEventHub()
	a := hub.subscribe(1)
	b := hub.subscribe(0)

	ev := &types.EventNodeInserted{
		BaseEvent: types.NewBaseEvent(types.EventTypeNodeInserted, time.Now()),
		ID:        types.NodeID{1},
	}
	hub.publish(ev)
	hub.publish(ev) // a 已满，丢弃

	assert.Len(t, a.Out(), 1)
	assert.Len(t, b.Out(), 2)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, ok := <-a.Out()
	assert.True(t, ok, "buffered event still readable")
	_, ok = <-a.Out()
	assert.False(t, ok)

	hub.close()
	late := hub.subscribe(1)
	_, ok = <-late.Out()
	assert.False(t, ok, "subscribing after close yields a closed channel")

	t.Log("✅ 事件订阅与丢弃策略正确")
}

func TestEventQueue(t *testing.T) {
	q := newEventQueue()
	for i := 0; i < 100; i++ {
		q.push(&types.EventDiscovered{BaseEvent: types.NewBaseEvent(types.EventTypeDiscovered, time.Now())})
	}
	<-q.signal
	assert.Len(t, q.drain(), 100)
	assert.Empty(t, q.drain())

	t.Log("✅ 事件队列不丢失")
}

func TestFilterGate(t *testing.T) {
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	filter, err := connmgr.NewFilter(config.DefaultFilterConfig(), nil)
	require.NoError(t, err)
	gate := &filterGate{filter: filter, metrics: m}

	ip := netip.MustParseAddr("198.51.100.1")
	id := types.NodeID{9}
	assert.True(t, gate.Allow(ip, &id))

	filter.BanNode(id, 0)
	assert.False(t, gate.Allow(ip, &id))
	assert.True(t, gate.Allow(ip, nil), "packets without a source id only check the ip")

	filter.BanIP(ip, time.Minute)
	assert.False(t, gate.Allow(ip, nil))
	assert.Equal(t, uint64(2), m.Snapshot().PacketsDropped)

	t.Log("✅ 准入门按过滤器结果丢弃并计数")
}

func TestFilterGate_ReportResponder(t *testing.T) {
	cfg := config.DefaultFilterConfig()
	cfg.Enabled = true
	filter, err := connmgr.NewFilter(cfg, nil)
	require.NoError(t, err)
	gate := &filterGate{filter: filter}

	from := types.NodeAddress{ID: types.NodeID{7}, Addr: netip.MustParseAddrPort("198.51.100.2:9000")}
	for i := 0; i < cfg.ViolationsBeforeBan; i++ {
		gate.reportResponder(from)
	}
	assert.True(t, filter.IsBannedNode(from.ID), "invalid records count toward the responder's ban")

	t.Log("✅ 响应方认证失败计入封禁")
}
