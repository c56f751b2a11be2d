package tracker

import "strings"

const (
	// wiredTrackerPrefix 为有线接收器聚合设备的名称前缀，其电量对所有追踪器生效
	wiredTrackerPrefix = "HaritoraXWired"
	// wirelessTrackerPrefix 为蓝牙无线追踪器的名称前缀
	wirelessTrackerPrefix = "HaritoraX"
)

// Battery 为电量报告：剩余百分比和电压（mV）
type Battery struct {
	Remaining float64
	VoltageMv float64
}

// BatteryCache 暂存没有活动会话的追踪器的电量报告。
// 部分接收器在串口打开时立即上报上次的电量，此时追踪器会话还不存在；
// 追踪器断开期间的报告和断开前的最后电量也保存在这里，重新注册时取出。
type BatteryCache struct {
	entries map[string]Battery
}

func NewBatteryCache() *BatteryCache {
	return &BatteryCache{entries: make(map[string]Battery)}
}

// Put 覆盖 trackerName 之前的值
func (c *BatteryCache) Put(trackerName string, remaining, voltageMv float64) {
	c.entries[trackerName] = Battery{Remaining: remaining, VoltageMv: voltageMv}
}

// Get 返回缓存值，不存在时返回零值
func (c *BatteryCache) Get(trackerName string) Battery {
	return c.entries[trackerName]
}

func (c *BatteryCache) Lookup(trackerName string) (Battery, bool) {
	b, ok := c.entries[trackerName]
	return b, ok
}

// Take 取出并删除缓存值
func (c *BatteryCache) Take(trackerName string) (Battery, bool) {
	b, ok := c.entries[trackerName]
	delete(c.entries, trackerName)
	return b, ok
}

func isWiredAggregate(trackerName string) bool {
	return strings.HasPrefix(trackerName, wiredTrackerPrefix)
}

// batteryVolts 把 mV 换算为 V；蓝牙无线追踪器不上报有效电压，固定为 0
func batteryVolts(trackerName string, voltageMv float64, wirelessEnabled bool) float64 {
	if wirelessEnabled && strings.HasPrefix(trackerName, wirelessTrackerPrefix) && trackerName != wiredTrackerPrefix {
		return 0
	}
	return voltageMv / 1000
}
