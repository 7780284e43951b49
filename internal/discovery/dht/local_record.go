package dht

import (
	"net/netip"
	"sync"

	"github.com/Golem-Base/discv5/internal/core/reachability"
	"github.com/Golem-Base/discv5/pkg/interfaces"
	"github.com/Golem-Base/discv5/pkg/types"
)

// localRecordManager 本地记录管理
//
// 每次修改都递增序号并重新签名。实现 reachability.RecordUpdater。
type localRecordManager struct {
	signer interfaces.RecordSigner

	mu  sync.RWMutex
	rec *types.Record
}

var _ reachability.RecordUpdater = (*localRecordManager)(nil)

func newLocalRecordManager(signer interfaces.RecordSigner, rec *types.Record) *localRecordManager {
	return &localRecordManager{signer: signer, rec: rec}
}

// Record 返回当前已签名记录
func (m *localRecordManager) Record() *types.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rec
}

// Seq 返回当前序号
func (m *localRecordManager) Seq() uint64 {
	return m.Record().Seq
}

// UpdateEndpoint 更新端点，端点未变时不递增序号
func (m *localRecordManager) UpdateEndpoint(addr netip.AddrPort) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rec.UDPAddr() == addr {
		return m.rec.Seq, nil
	}
	return m.replaceLocked(m.rec.WithEndpoint(addr.Addr(), addr.Port()))
}

// RetractEndpoint 撤回端点
func (m *localRecordManager) RetractEndpoint() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.rec.UDPAddr().IsValid() {
		return nil
	}
	_, err := m.replaceLocked(m.rec.WithoutEndpoint())
	return err
}

// SetField 设置扩展字段
func (m *localRecordManager) SetField(key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replaceLocked(m.rec.WithField(key, value))
}

func (m *localRecordManager) replaceLocked(unsigned *types.Record) (uint64, error) {
	signed, err := m.signer.SignRecord(unsigned)
	if err != nil {
		return 0, err
	}
	m.rec = signed
	logger.Debug("本地记录已更新", "seq", signed.Seq, "addr", signed.UDPAddr())
	return signed.Seq, nil
}
