package kbucket

import "net/netip"

const (
	// TableIPLimit 全表同一子网最多节点数
	TableIPLimit = 10
	// BucketIPLimit 单桶同一子网最多节点数
	BucketIPLimit = 2

	ipv4SubnetBits = 24
	ipv6SubnetBits = 56
)

// subnetSet 按子网计数的集合
type subnetSet struct {
	limit   int
	members map[netip.Prefix]int
}

func newSubnetSet(limit int) subnetSet {
	return subnetSet{limit: limit, members: make(map[netip.Prefix]int)}
}

func subnetOf(ip netip.Addr) netip.Prefix {
	ip = ip.Unmap()
	bits := ipv4SubnetBits
	if ip.Is6() {
		bits = ipv6SubnetBits
	}
	p, _ := ip.Prefix(bits)
	return p
}

// exempt 本地与内网地址不受多样性限制
func exempt(ip netip.Addr) bool {
	return ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast()
}

func (s subnetSet) canAdd(ip netip.Addr) bool {
	if exempt(ip) {
		return true
	}
	return s.members[subnetOf(ip)] < s.limit
}

func (s subnetSet) add(ip netip.Addr) {
	if exempt(ip) {
		return
	}
	s.members[subnetOf(ip)]++
}

func (s subnetSet) remove(ip netip.Addr) {
	if exempt(ip) {
		return
	}
	key := subnetOf(ip)
	if s.members[key] <= 1 {
		delete(s.members, key)
		return
	}
	s.members[key]--
}
