// Package tracker 把设备解释器的事件桥接到虚拟追踪器：
// 为每个物理追踪器维护一个虚拟追踪器会话，转发姿态、电量和按键操作，
// 并向外发送显示通知。
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device-tracker-go/internal/config"
	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
	"github.com/linjuya-lu/device-tracker-go/internal/identity"
	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
)

const (
	opsBuffer = 256
	// ServerSearchWait 为主动搜索服务器后等待应答的时间
	ServerSearchWait = 2 * time.Second
	discoverySuffix  = "-heartbeat"
)

// Options 为构造协调器所需的依赖
type Options struct {
	AppVersion  string
	Interpreter interpreter.Interpreter
	Transports  emulation.Factory
	Store       config.Store
	Notifier    Notifier
	Logger      logger.LoggingClient

	// 以下可选，测试时注入
	Now       func() time.Time
	Scheduler Scheduler
}

// Coordinator 持有注册表、电量缓存、错误节流、按键去抖和连接状态。
// 这些状态只在 Run 所在的协程中访问；其他协程通过 post/runSync 投递操作。
type Coordinator struct {
	lc         logger.LoggingClient
	interp     interpreter.Interpreter
	transports emulation.Factory
	store      config.Store
	identities *identity.Resolver
	notifier   Notifier
	appVersion string
	now        func() time.Time

	registry *Registry
	battery  *BatteryCache
	throttle *Throttle
	buttons  *Debouncer
	queue    registrationQueue
	dialogs  map[ErrorKind]func(msg string)

	discovery emulation.Transport
	settings  config.Settings

	connectionActive bool
	serverFound      bool
	closed           bool
	// epoch 在每次停止连接时递增，用于作废进行中的注册
	epoch uint64

	ops      chan func()
	stopped  chan struct{}
	stopOnce sync.Once
}

func New(opts Options) (*Coordinator, error) {
	switch {
	case opts.Interpreter == nil:
		return nil, errors.New("缺少设备解释器")
	case opts.Transports == nil:
		return nil, errors.New("缺少虚拟追踪器工厂")
	case opts.Store == nil:
		return nil, errors.New("缺少设置存储")
	case opts.Notifier == nil:
		return nil, errors.New("缺少通知接收者")
	case opts.Logger == nil:
		return nil, errors.New("缺少日志客户端")
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Scheduler == nil {
		opts.Scheduler = wallClock{}
	}

	c := &Coordinator{
		lc:         opts.Logger,
		interp:     opts.Interpreter,
		transports: opts.Transports,
		store:      opts.Store,
		identities: identity.NewResolver(opts.Store),
		notifier:   opts.Notifier,
		appVersion: opts.AppVersion,
		now:        opts.Now,
		registry:   NewRegistry(),
		battery:    NewBatteryCache(),
		throttle:   NewThrottle(ErrorCooldown),
		settings:   config.LoadSettings(opts.Store),
		ops:        make(chan func(), opsBuffer),
		stopped:    make(chan struct{}),
	}
	c.buttons = NewDebouncer(ClickWindow, opts.Scheduler, func(fn func()) { c.post(fn) }, c.dispatchUserAction)
	c.dialogs = map[ErrorKind]func(string){
		KindConnectionStart: c.connectionStartFailed,
	}
	// 发现会话使用全零地址，只用于搜索服务器和发送用户操作
	c.discovery = c.transports.New(emulation.Config{
		Address:  identity.Zero,
		Version:  c.appVersion + discoverySuffix,
		Features: emulation.FeatureFlags{},
		Board:    emulation.BoardCustom,
		MCU:      emulation.MCUUnknown,
	}, discoveryListener{c: c})
	return c, nil
}

// Start 初始化发现会话，开始广播搜索服务器
func (c *Coordinator) Start(ctx context.Context) error {
	if err := c.discovery.Init(ctx); err != nil {
		return fmt.Errorf("初始化发现会话失败: %w", err)
	}
	c.lc.Info("发现会话已启动，正在搜索服务器")
	return nil
}

// Run 依次处理解释器事件和投递的操作，直到 ctx 结束。
// 退出前执行与 Close 相同的清理。
func (c *Coordinator) Run(ctx context.Context) error {
	defer c.stopOnce.Do(func() { close(c.stopped) })

	events := c.interp.Events()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			c.handleEvent(ev)
		case op := <-c.ops:
			op()
		}
	}
}

// Close 停止所有连接、注销全部会话和发现会话
func (c *Coordinator) Close(ctx context.Context) error {
	return c.runSync(ctx, func() error {
		c.shutdown()
		return nil
	})
}

// post 把 fn 投递到事件协程；协调器已退出时返回 false
func (c *Coordinator) post(fn func()) bool {
	select {
	case <-c.stopped:
		return false
	default:
	}
	select {
	case c.ops <- fn:
		return true
	case <-c.stopped:
		return false
	}
}

// postAsync 用于传输层回调，回调协程不等待事件协程
func (c *Coordinator) postAsync(fn func()) {
	go c.post(fn)
}

// runSync 在事件协程中执行 fn 并等待结果
func (c *Coordinator) runSync(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	op := func() { done <- fn() }
	select {
	case c.ops <- op:
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-c.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Coordinator) shutdown() {
	if c.closed {
		return
	}
	c.closed = true
	c.stopModes()
	c.clearSessions()
	c.connectionActive = false
	if err := c.discovery.Deinit(); err != nil {
		c.lc.Errorf("注销发现会话失败: %v", err)
	}
	c.lc.Info("追踪器协调器已停止")
}

func (c *Coordinator) handleEvent(ev interpreter.Event) {
	switch ev.Kind {
	case interpreter.EventConnect:
		c.onConnect(ev.Tracker)
	case interpreter.EventDisconnect:
		c.onDisconnect(ev.Tracker)
	case interpreter.EventIMU:
		c.onIMU(ev)
	case interpreter.EventBattery:
		c.onBattery(ev.Tracker, ev.BatteryRemaining, ev.BatteryVoltageMv)
	case interpreter.EventMag:
		if ev.Tracker != "" {
			c.notifier.TrackerMag(ev.Tracker, ev.MagStatus)
		}
	case interpreter.EventButton:
		c.buttons.Handle(ev.Tracker, ev.Button, ev.Pressed)
	case interpreter.EventLog:
		c.lc.Infof("[interpreter] %s", ev.Message)
	case interpreter.EventError:
		c.onError(ev.Message, ev.Exceptional)
	default:
		c.lc.Debugf("忽略未知事件 %v", ev.Kind)
	}
}

func (c *Coordinator) onConnect(name string) {
	if name == "" {
		return
	}
	// 连接已停止时忽略，避免停止后残留的连接事件重新注册
	if c.registry.Active(name) != nil || !c.connectionActive {
		return
	}
	c.enqueue(name)
}

func (c *Coordinator) onDisconnect(name string) {
	s := c.registry.Active(name)
	if s == nil {
		return
	}
	// 保留最后电量，断开期间的新报告会覆盖它
	if s.hasBattery {
		c.battery.Put(name, s.Battery.Remaining, s.Battery.VoltageMv)
	}
	s.Transport.DisconnectFromServer()
	if err := s.Transport.Deinit(); err != nil {
		c.lc.Errorf("注销追踪器 %s 失败: %v", name, err)
	}
	c.registry.MarkDisconnected(name)
	c.notifier.TrackerDisconnected(name)
	c.lc.Infof("追踪器 %s 已断开", name)
	c.lc.Infof("已连接的追踪器: %v", c.registry.ActiveNames())
}

func (c *Coordinator) onIMU(ev interpreter.Event) {
	if ev.Rotation == nil || ev.Gravity == nil {
		return
	}
	s := c.registry.Active(ev.Tracker)
	if s == nil {
		return
	}
	data, err := forwardSample(s, *ev.Rotation, *ev.Gravity)
	if err != nil {
		c.lc.Debugf("%v", err)
	}
	c.notifier.TrackerData(data)
}

func (c *Coordinator) onBattery(name string, remaining, voltageMv float64) {
	if name == "" {
		return
	}
	if c.registry.Active(name) == nil && !isWiredAggregate(name) {
		c.battery.Put(name, remaining, voltageMv)
	}

	b := Battery{Remaining: remaining, VoltageMv: voltageMv}
	volts := batteryVolts(name, voltageMv, c.settings.WirelessTrackerEnabled)
	apply := func(s *Session) {
		s.Battery, s.hasBattery = b, true
		if err := s.Transport.ChangeBatteryLevel(volts, remaining); err != nil {
			c.lc.Warnf("设置追踪器 %s 电量失败: %v", s.Name, err)
		}
	}
	if isWiredAggregate(name) {
		c.registry.Each(apply)
	} else if s := c.registry.Active(name); s != nil {
		apply(s)
	}

	c.notifier.TrackerBattery(name, remaining, volts)
	c.lc.Infof("追踪器 %s 电量: %.0f%% (%.2fV)", name, remaining, volts)
}

func (c *Coordinator) onError(msg string, exceptional bool) {
	kind := ClassifyError(msg)
	if exceptional {
		c.reportError(kind, msg)
		return
	}
	c.lc.Errorf("[interpreter] %s", msg)
}

// reportError 对需要提示用户的错误分类节流后弹出，其余只记录日志
func (c *Coordinator) reportError(kind ErrorKind, msg string) {
	show, ok := c.dialogs[kind]
	if !ok {
		c.lc.Errorf("[interpreter] %s: %s", kind, msg)
		return
	}
	if !c.throttle.ShouldEmit(kind, c.now()) {
		c.lc.Debugf("错误提示过于频繁，已忽略: %s", msg)
		return
	}
	show(msg)
}

func (c *Coordinator) connectionStartFailed(msg string) {
	c.lc.Errorf("启动追踪器连接失败: %s", msg)
	c.notifier.ConnectionStatus(StatusFailed)
	c.notifier.UserError(KindConnectionStart, msg)
}

func (c *Coordinator) dispatchUserAction(tracker, button string, count int, action emulation.UserAction) {
	c.lc.Infof("追踪器 %s 按键 %s 连击 %d 次，发送操作 %s", tracker, button, count, action)
	if err := c.discovery.SendUserAction(action); err != nil {
		c.lc.Errorf("发送用户操作 %s 失败: %v", action, err)
	}
}

func (c *Coordinator) stopModes() {
	for _, mode := range interpreter.Modes {
		if !c.interp.ConnectionModeActive(mode) {
			continue
		}
		if err := c.interp.StopConnection(mode); err != nil {
			c.lc.Errorf("停止 %s 连接失败: %v", mode, err)
			continue
		}
		c.lc.Infof("已停止 %s 连接", mode)
	}
}

func (c *Coordinator) clearSessions() {
	c.epoch++
	c.queue.reset()
	c.registry.Each(func(s *Session) {
		if s.hasBattery {
			c.battery.Put(s.Name, s.Battery.Remaining, s.Battery.VoltageMv)
		}
	})
	if err := c.registry.ClearAll(); err != nil {
		c.lc.Errorf("清理追踪器会话失败: %v", err)
	}
}

// StartConnection 按给定方式启动连接，并为解释器已知的追踪器排队注册
func (c *Coordinator) StartConnection(ctx context.Context, modes []interpreter.Mode, ports []string) error {
	return c.runSync(ctx, func() error {
		return c.startConnection(ctx, modes, ports)
	})
}

func (c *Coordinator) startConnection(ctx context.Context, modes []interpreter.Mode, ports []string) error {
	c.lc.Infof("启动连接: modes=%v ports=%v", modes, ports)
	if c.connectionActive {
		c.lc.Error("连接已处于活动状态")
		return ErrConnectionActive
	}
	c.settings = config.LoadSettings(c.store)
	if err := validateConnection(modes, ports, c.settings); err != nil {
		c.lc.Errorf("无效的连接配置: %v", err)
		return err
	}

	c.notifier.ConnectionStatus(StatusSearching)
	var errs []error
	started := 0
	for _, mode := range interpreter.Modes {
		if !containsMode(modes, mode) {
			continue
		}
		var err error
		if mode == interpreter.ModeCOM {
			err = c.interp.StartConnection(ctx, mode, ports, c.settings.HeartbeatInterval)
		} else {
			err = c.interp.StartConnection(ctx, mode, nil, 0)
		}
		if err != nil {
			errs = append(errs, err)
			c.reportError(KindConnectionStart, err.Error())
			continue
		}
		started++
		c.lc.Infof("已启动 %s 连接", mode)
	}
	if started == 0 {
		return errors.Join(errs...)
	}

	c.connectionActive = true
	names := c.interp.ActiveTrackers()
	sort.Strings(names)
	for _, name := range names {
		c.onConnect(name)
	}
	return errors.Join(errs...)
}

func validateConnection(modes []interpreter.Mode, ports []string, s config.Settings) error {
	if !s.WirelessTrackerEnabled && !s.WiredTrackerEnabled {
		return fmt.Errorf("%w: 无线和有线追踪器均未启用", ErrInvalidConnection)
	}
	if len(modes) == 0 {
		return fmt.Errorf("%w: 未指定连接方式", ErrInvalidConnection)
	}
	for _, m := range modes {
		if !containsMode(interpreter.Modes, m) {
			return fmt.Errorf("%w: 未知连接方式 %q", ErrInvalidConnection, m)
		}
	}
	if containsMode(modes, interpreter.ModeCOM) && len(ports) == 0 {
		return fmt.Errorf("%w: 串口连接未指定端口", ErrInvalidConnection)
	}
	return nil
}

func containsMode(modes []interpreter.Mode, m interpreter.Mode) bool {
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

// StopConnection 停止全部连接并注销所有会话
func (c *Coordinator) StopConnection(ctx context.Context) error {
	return c.runSync(ctx, func() error {
		c.lc.Info("停止连接")
		c.stopModes()
		c.clearSessions()
		c.connectionActive = false
		return nil
	})
}

// ConnectionActive 返回连接是否处于活动状态
func (c *Coordinator) ConnectionActive(ctx context.Context) (bool, error) {
	var active bool
	err := c.runSync(ctx, func() error {
		active = c.connectionActive
		return nil
	})
	return active, err
}

// SettingsRequest 为写入追踪器设置的请求；SetAllTrackerSettings 不使用 Tracker
type SettingsRequest struct {
	Tracker              string
	SensorMode           int
	FPSMode              int
	SensorAutoCorrection []string
}

func (r SettingsRequest) validate(requireTracker bool) error {
	switch {
	case requireTracker && r.Tracker == "":
		return fmt.Errorf("%w: 缺少追踪器名称", ErrInvalidSettings)
	case r.SensorMode == 0:
		return fmt.Errorf("%w: 缺少 sensorMode", ErrInvalidSettings)
	case r.FPSMode == 0:
		return fmt.Errorf("%w: 缺少 fpsMode", ErrInvalidSettings)
	case len(r.SensorAutoCorrection) == 0:
		return fmt.Errorf("%w: 缺少 sensorAutoCorrection", ErrInvalidSettings)
	}
	return nil
}

func (r SettingsRequest) settings() interpreter.Settings {
	return interpreter.Settings{
		SensorMode:           r.SensorMode,
		FPSMode:              r.FPSMode,
		SensorAutoCorrection: uniqueStrings(r.SensorAutoCorrection),
	}
}

// uniqueStrings 去除重复项，保持首次出现的顺序
func uniqueStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// SetTrackerSettings 校验后把设置写入单个追踪器
func (c *Coordinator) SetTrackerSettings(ctx context.Context, req SettingsRequest) error {
	if err := req.validate(true); err != nil {
		c.lc.Errorf("追踪器设置无效: %v", err)
		return err
	}
	s := req.settings()
	// 读取设置需要等待接收器应答，不放在事件协程中
	if old, err := c.interp.TrackerSettings(ctx, req.Tracker, true); err == nil {
		c.lc.Infof("追踪器 %s 旧设置: %+v", req.Tracker, old)
	}
	err := c.runSync(ctx, func() error {
		if err := c.interp.SetTrackerSettings(req.Tracker, s, true); err != nil {
			return fmt.Errorf("写入追踪器 %s 设置失败: %w", req.Tracker, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if cur, err := c.interp.TrackerSettings(ctx, req.Tracker, true); err == nil {
		c.lc.Infof("追踪器 %s 新设置: %+v", req.Tracker, cur)
	}
	return nil
}

// SetAllTrackerSettings 校验后把设置写入全部追踪器
func (c *Coordinator) SetAllTrackerSettings(ctx context.Context, req SettingsRequest) error {
	if err := req.validate(false); err != nil {
		c.lc.Errorf("追踪器设置无效: %v", err)
		return err
	}
	s := req.settings()
	return c.runSync(ctx, func() error {
		c.lc.Infof("写入全部追踪器设置 %+v: %v", s, c.interp.ActiveTrackers())
		if err := c.interp.SetAllTrackerSettings(s, true); err != nil {
			return fmt.Errorf("写入全部追踪器设置失败: %w", err)
		}
		return nil
	})
}

// TrackerSettings 读取追踪器设置
func (c *Coordinator) TrackerSettings(ctx context.Context, name string, forceMode bool) (interpreter.Settings, error) {
	return c.interp.TrackerSettings(ctx, name, forceMode)
}

// ActiveTrackers 返回按名称排序的活动追踪器
func (c *Coordinator) ActiveTrackers(ctx context.Context) ([]string, error) {
	var names []string
	err := c.runSync(ctx, func() error {
		names = c.registry.ActiveNames()
		return nil
	})
	return names, err
}

// Battery 返回追踪器最近的电量；未注册时返回缓存值
func (c *Coordinator) Battery(ctx context.Context, name string) (Battery, error) {
	var b Battery
	err := c.runSync(ctx, func() error {
		if s := c.registry.Active(name); s != nil {
			b = s.Battery
			return nil
		}
		b = c.battery.Get(name)
		return nil
	})
	return b, err
}

// FireTrackerBattery 重新发送缓存的电量，并请求解释器重新上报
func (c *Coordinator) FireTrackerBattery(ctx context.Context, name string) error {
	return c.runSync(ctx, func() error {
		b, ok := c.battery.Lookup(name)
		if s := c.registry.Active(name); s != nil {
			b, ok = s.Battery, true
		}
		if ok {
			c.notifier.TrackerBattery(name, b.Remaining, batteryVolts(name, b.VoltageMv, c.settings.WirelessTrackerEnabled))
		}
		return c.interp.FireTrackerBattery(name)
	})
}

// FireTrackerMag 请求解释器重新上报磁力计状态
func (c *Coordinator) FireTrackerMag(ctx context.Context, name string) error {
	return c.interp.FireTrackerMag(name)
}

// SearchForServer 在未找到服务器时触发一次搜索，等待 ServerSearchWait 后返回结果
func (c *Coordinator) SearchForServer(ctx context.Context) (bool, error) {
	found, err := c.serverStatus(ctx, true)
	if err != nil || found {
		return found, err
	}
	select {
	case <-time.After(ServerSearchWait):
	case <-ctx.Done():
	}
	// ctx 已结束时用新的 ctx 读取最终状态
	rctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	return c.serverStatus(rctx, false)
}

func (c *Coordinator) serverStatus(ctx context.Context, search bool) (bool, error) {
	var found bool
	err := c.runSync(ctx, func() error {
		found = c.serverFound
		if !found && search {
			c.lc.Info("正在搜索服务器")
			c.discovery.SearchForServer()
		}
		return nil
	})
	return found, err
}

// discoveryListener 处理发现会话的事件
type discoveryListener struct {
	c *Coordinator
}

func (l discoveryListener) ConnectedToServer(ip string, port int) {
	l.c.lc.Infof("已连接到服务器 %s:%d", ip, port)
	l.c.postAsync(func() {
		l.c.serverFound = true
		l.c.notifier.ServerConnected(ip, port)
	})
}

func (l discoveryListener) SearchingForServer() {
	l.c.lc.Debug("正在搜索服务器")
}

func (l discoveryListener) Error(err error) {
	l.c.lc.Errorf("[emulation] 发现会话: %v", err)
}

func (l discoveryListener) UnknownPacket(packetType int32, payload []byte) {
	l.c.lc.Errorf("[emulation] 发现会话收到未知报文 type=%d: %x", packetType, payload)
}
