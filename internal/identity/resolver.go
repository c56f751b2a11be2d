package identity

import (
	"fmt"

	"github.com/linjuya-lu/device-tracker-go/internal/config"
)

// Store 是地址解析所需的设置存储子集
type Store interface {
	Get(path ...string) (any, bool)
	Set(path []string, value any) error
}

// Resolver 在设置存储中查找或生成追踪器地址。
// 存储路径为 trackers.<name>.macAddress.bytes
type Resolver struct {
	store  Store
	random func() Address
}

func NewResolver(store Store) *Resolver {
	return &Resolver{store: store, random: Random}
}

func addressPath(trackerName string) []string {
	return []string{config.KeyTrackers, trackerName, "macAddress", "bytes"}
}

// Resolve 返回 trackerName 对应的地址；stored 表示地址是否来自存储。
// 存储值格式错误时按不存在处理，返回新生成的地址。
func (r *Resolver) Resolve(trackerName string) (addr Address, stored bool) {
	if v, ok := r.store.Get(addressPath(trackerName)...); ok {
		if a, ok := FromValue(v); ok {
			return a, true
		}
	}
	return r.random(), false
}

// Save 将地址写入设置存储
func (r *Resolver) Save(trackerName string, addr Address) error {
	if err := r.store.Set(addressPath(trackerName), addr.Ints()); err != nil {
		return fmt.Errorf("保存 %s 的地址失败: %w", trackerName, err)
	}
	return nil
}
