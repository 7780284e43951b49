package reachability

import (
	"net/netip"
	"sync"
	"time"

	"github.com/Golem-Base/discv5/pkg/types"
)

// ============================================================================
//                              IPVote
// ============================================================================

type vote struct {
	addr netip.AddrPort
	at   time.Time
}

// IPVote 外部地址投票
//
// 每个投票者只保留最新一票。
type IPVote struct {
	minVotes int
	duration time.Duration

	mu    sync.Mutex
	votes map[types.NodeID]vote
}

// NewIPVote 创建投票箱
func NewIPVote(minVotes int, duration time.Duration) *IPVote {
	return &IPVote{
		minVotes: minVotes,
		duration: duration,
		votes:    make(map[types.NodeID]vote),
	}
}

// Insert 记录一票
func (v *IPVote) Insert(voter types.NodeID, addr netip.AddrPort, now time.Time) {
	addr = netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
	if !addr.IsValid() || addr.Port() == 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.votes[voter] = vote{addr: addr, at: now}
}

// Majority 返回 IPv4 与 IPv6 各自的多数地址
//
// 票数不足 minVotes 的一族返回零值。同时清理过期投票。
func (v *IPVote) Majority(now time.Time) (v4, v6 netip.AddrPort) {
	v.mu.Lock()
	defer v.mu.Unlock()

	counts4 := make(map[netip.AddrPort]int)
	counts6 := make(map[netip.AddrPort]int)
	for voter, vt := range v.votes {
		if now.Sub(vt.at) > v.duration {
			delete(v.votes, voter)
			continue
		}
		if vt.addr.Addr().Is4() {
			counts4[vt.addr]++
		} else {
			counts6[vt.addr]++
		}
	}
	return v.best(counts4), v.best(counts6)
}

func (v *IPVote) best(counts map[netip.AddrPort]int) netip.AddrPort {
	var (
		winner netip.AddrPort
		max    int
	)
	for addr, n := range counts {
		// 票数相同取字典序较小者，保证结果确定
		if n > max || (n == max && addr.Compare(winner) < 0) {
			winner, max = addr, n
		}
	}
	if max < v.minVotes {
		return netip.AddrPort{}
	}
	return winner
}

// Len 返回有效票数（含未清理的过期票）
func (v *IPVote) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.votes)
}
