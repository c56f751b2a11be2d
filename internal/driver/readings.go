package driver

import (
	"sync"
)

// readings 为运行时值表：设备名 -> 资源名 -> 当前值
type readings struct {
	mu     sync.RWMutex
	values map[string]map[string]any
}

func newReadings() *readings {
	return &readings{values: make(map[string]map[string]any)}
}

// seed 用默认值初始化设备，已存在的值不覆盖
func (r *readings) seed(device string, defaults map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vals, ok := r.values[device]
	if !ok {
		vals = make(map[string]any, len(defaults))
		r.values[device] = vals
	}
	for k, v := range defaults {
		if _, exists := vals[k]; !exists {
			vals[k] = v
		}
	}
}

func (r *readings) set(device, resource string, value any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	vals, ok := r.values[device]
	if !ok {
		vals = make(map[string]any)
		r.values[device] = vals
	}
	vals[resource] = value
}

func (r *readings) get(device, resource string) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.values[device][resource]
	return v, ok
}

// snapshot 返回设备全部资源值的浅拷贝
func (r *readings) snapshot(device string) (map[string]any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vals, ok := r.values[device]
	if !ok {
		return nil, false
	}
	out := make(map[string]any, len(vals))
	for k, v := range vals {
		out[k] = v
	}
	return out, true
}

func (r *readings) remove(device string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.values, device)
}
