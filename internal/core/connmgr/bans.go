package connmgr

import (
	"net/netip"
	"time"

	"github.com/Golem-Base/discv5/pkg/types"
)

// Ban 封禁记录
type Ban struct {
	Reason BanReason
	At     time.Time

	// Expires 到期时间，零值表示永久
	Expires time.Time
}

// Permanent 是否永久封禁
func (b Ban) Permanent() bool {
	return b.Expires.IsZero()
}

func (b Ban) expired(now time.Time) bool {
	return !b.Permanent() && !now.Before(b.Expires)
}

func newBan(reason BanReason, now time.Time, d time.Duration) Ban {
	b := Ban{Reason: reason, At: now}
	if d > 0 {
		b.Expires = now.Add(d)
	}
	return b
}

// BanList 封禁名单快照
type BanList struct {
	IPs   map[netip.Addr]Ban
	Nodes map[types.NodeID]Ban
}
