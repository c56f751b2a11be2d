package tracker

import "time"

// ErrorCooldown 为同类错误弹窗的最小间隔
const ErrorCooldown = 500 * time.Millisecond

// Throttle 限制同类错误的弹窗频率。
// 只在协调器的事件协程中使用，不加锁。
type Throttle struct {
	cooldown  time.Duration
	lastShown map[ErrorKind]time.Time
}

func NewThrottle(cooldown time.Duration) *Throttle {
	return &Throttle{cooldown: cooldown, lastShown: make(map[ErrorKind]time.Time)}
}

// ShouldEmit 距上次显示不少于冷却时间时返回 true 并记录 now；否则状态不变
func (t *Throttle) ShouldEmit(kind ErrorKind, now time.Time) bool {
	if last, ok := t.lastShown[kind]; ok && now.Sub(last) < t.cooldown {
		return false
	}
	t.lastShown[kind] = now
	return true
}
