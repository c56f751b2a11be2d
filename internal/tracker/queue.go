package tracker

import (
	"context"
	"time"

	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
	"github.com/linjuya-lu/device-tracker-go/internal/identity"
)

// registrationTimeout 为单个虚拟追踪器初始化的超时时间
const registrationTimeout = 10 * time.Second

// registrationQueue 为等待注册的追踪器名称（先进先出）。
// draining 为 true 时已有一个注册流程在运行，新入队的名称由它依次处理。
type registrationQueue struct {
	names    []string
	draining bool
}

func (q *registrationQueue) push(name string) {
	q.names = append(q.names, name)
}

func (q *registrationQueue) pop() (string, bool) {
	if len(q.names) == 0 {
		return "", false
	}
	name := q.names[0]
	q.names = q.names[1:]
	return name, true
}

// reset 丢弃尚未开始的注册；正在进行的注册完成后由 epoch 判定作废
func (q *registrationQueue) reset() {
	q.names = nil
}

// enqueue 把追踪器加入注册队列，必要时启动注册流程
func (c *Coordinator) enqueue(name string) {
	c.queue.push(name)
	if c.queue.draining {
		return
	}
	c.queue.draining = true
	c.drainNext()
}

// drainNext 取出下一个需要注册的追踪器并在后台初始化。
// 初始化完成后通过 post 回到事件协程继续处理队列。
func (c *Coordinator) drainNext() {
	for {
		name, ok := c.queue.pop()
		if !ok {
			c.queue.draining = false
			c.lc.Infof("已连接的追踪器: %v", c.registry.ActiveNames())
			return
		}
		if c.registry.Active(name) != nil {
			continue
		}

		addr, stored := c.identities.Resolve(name)
		tr := c.transports.New(emulation.Config{
			Address:  addr,
			Version:  c.appVersion,
			Features: emulation.FeatureFlags{},
			Board:    emulation.BoardCustom,
			MCU:      emulation.MCUUnknown,
		}, trackerListener{c: c, name: name})
		go c.register(name, addr, stored, tr, c.epoch)
		return
	}
}

// register 在后台协程中执行初始化、登记传感器并保存地址
func (c *Coordinator) register(name string, addr identity.Address, stored bool, tr emulation.Transport, epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), registrationTimeout)
	defer cancel()

	err := tr.Init(ctx)
	if err == nil {
		err = tr.AddSensor(ctx, emulation.SensorUnknown, emulation.SensorOK)
	}
	if err == nil {
		err = c.identities.Save(name, addr)
	}
	if !c.post(func() { c.completeRegistration(name, addr, stored, tr, epoch, err) }) {
		_ = tr.Deinit()
	}
}

func (c *Coordinator) completeRegistration(name string, addr identity.Address, stored bool, tr emulation.Transport, epoch uint64, err error) {
	defer c.drainNext()

	if err != nil {
		c.lc.Errorf("注册追踪器 %s 失败: %v", name, err)
		_ = tr.Deinit()
		return
	}
	// 注册期间连接已停止，或同名追踪器已存在
	if epoch != c.epoch || c.registry.Active(name) != nil {
		c.lc.Debugf("丢弃追踪器 %s 的过期注册", name)
		_ = tr.Deinit()
		return
	}

	s := &Session{Name: name, Transport: tr}
	if b, ok := c.battery.Take(name); ok {
		s.Battery, s.hasBattery = b, true
		volts := batteryVolts(name, b.VoltageMv, c.settings.WirelessTrackerEnabled)
		if err := tr.ChangeBatteryLevel(volts, b.Remaining); err != nil {
			c.lc.Warnf("设置追踪器 %s 电量失败: %v", name, err)
		}
	}
	c.registry.Insert(s)

	if stored {
		c.lc.Debugf("追踪器 %s 复用地址 %s", name, addr)
	} else {
		c.lc.Infof("追踪器 %s 生成新地址 %s", name, addr)
	}
	c.lc.Infof("已连接追踪器: %s", name)
	c.notifier.TrackerConnected(name)
}

// trackerListener 记录单个虚拟追踪器的传输层事件
type trackerListener struct {
	c    *Coordinator
	name string
}

func (l trackerListener) ConnectedToServer(ip string, port int) {
	l.c.lc.Debugf("追踪器 %s 已连接到服务器 %s:%d", l.name, ip, port)
}

func (l trackerListener) SearchingForServer() {}

func (l trackerListener) Error(err error) {
	l.c.lc.Errorf("[emulation] 追踪器 %s: %v", l.name, err)
}

func (l trackerListener) UnknownPacket(packetType int32, payload []byte) {
	l.c.lc.Infof("[emulation] 追踪器 %s 收到未知报文 type=%d: %x", l.name, packetType, payload)
}
