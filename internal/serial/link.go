package serial

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
)

const (
	defaultEventBuffer = 256
	// settingsTimeout 为等待接收器回复设置的时间
	settingsTimeout = time.Second
)

// 下发给接收器的命令
const (
	cmdHeartbeat      = "heartbeat"
	cmdGetSettings    = "get-settings"
	cmdSetSettings    = "set-settings"
	cmdSetAllSettings = "set-all-settings"
	cmdBattery        = "battery"
	cmdMag            = "mag"
)

var (
	errClosed       = errors.New("串口连接已关闭")
	errNotConnected = errors.New("串口未连接")
)

type command struct {
	Cmd       string                `json:"cmd"`
	Tracker   string                `json:"tracker,omitempty"`
	Settings  *interpreter.Settings `json:"settings,omitempty"`
	Broadcast bool                  `json:"broadcast,omitempty"`
}

// Options 为串口连接的可选参数
type Options struct {
	BaudRate    int
	Open        Opener
	Decoder     Decoder
	EventBuffer int
}

type portConn struct {
	name string
	rwc  io.ReadWriteCloser
	wmu  sync.Mutex
}

func (p *portConn) send(cmd command) error {
	b, err := json.Marshal(cmd)
	if err != nil {
		return err
	}
	b = append(b, '\n')
	p.wmu.Lock()
	defer p.wmu.Unlock()
	_, err = p.rwc.Write(b)
	return err
}

// Link 通过串口与有线接收器通信，实现 interpreter.Interpreter。
// 只支持 COM 连接方式。
type Link struct {
	lc      logger.LoggingClient
	open    Opener
	baud    int
	decoder Decoder
	events  chan interpreter.Event

	mu       sync.Mutex
	ports    []*portConn
	active   bool
	closed   bool
	trackers map[string]*portConn
	settings map[string]interpreter.Settings
	waiters  map[string][]chan interpreter.Settings
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

var _ interpreter.Interpreter = (*Link)(nil)

func NewLink(lc logger.LoggingClient, opts Options) *Link {
	if opts.BaudRate <= 0 {
		opts.BaudRate = DefaultBaudRate
	}
	if opts.Open == nil {
		opts.Open = Open
	}
	if opts.Decoder == nil {
		opts.Decoder = JSONDecoder{}
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = defaultEventBuffer
	}
	return &Link{
		lc:       lc,
		open:     opts.Open,
		baud:     opts.BaudRate,
		decoder:  opts.Decoder,
		events:   make(chan interpreter.Event, opts.EventBuffer),
		trackers: make(map[string]*portConn),
		settings: make(map[string]interpreter.Settings),
		waiters:  make(map[string][]chan interpreter.Settings),
	}
}

func (l *Link) Events() <-chan interpreter.Event { return l.events }

// StartConnection 打开全部串口并开始读取；任一端口打开失败时关闭已打开的端口
func (l *Link) StartConnection(ctx context.Context, mode interpreter.Mode, ports []string, heartbeat time.Duration) error {
	if mode != interpreter.ModeCOM {
		return fmt.Errorf("%w: %s", interpreter.ErrUnsupportedMode, mode)
	}
	if len(ports) == 0 {
		return fmt.Errorf("%w: 未指定串口", interpreter.ErrConnectionStart)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return errClosed
	}
	if l.active {
		l.lc.Debug("串口连接已启动")
		return nil
	}

	opened := make([]*portConn, 0, len(ports))
	for _, name := range ports {
		if err := ctx.Err(); err != nil {
			closePorts(opened)
			return err
		}
		rwc, err := l.open(name, l.baud)
		if err != nil {
			closePorts(opened)
			return fmt.Errorf("%w: Opening COM port %s failed: %v", interpreter.ErrConnectionStart, name, err)
		}
		opened = append(opened, &portConn{name: name, rwc: rwc})
	}

	runCtx, cancel := context.WithCancel(context.Background())
	l.ports, l.cancel, l.active = opened, cancel, true
	for _, p := range opened {
		l.wg.Add(1)
		go l.readLoop(runCtx, p)
	}
	if heartbeat > 0 {
		l.wg.Add(1)
		go l.heartbeatLoop(runCtx, heartbeat)
	}
	l.lc.Infof("已打开串口 %v (波特率 %d)", ports, l.baud)
	return nil
}

// StopConnection 关闭全部串口并等待读取协程退出
func (l *Link) StopConnection(mode interpreter.Mode) error {
	if mode != interpreter.ModeCOM {
		return nil
	}
	l.mu.Lock()
	if !l.active {
		l.mu.Unlock()
		return nil
	}
	cancel, ports := l.cancel, l.ports
	l.active, l.ports, l.cancel = false, nil, nil
	l.trackers = make(map[string]*portConn)
	l.mu.Unlock()

	cancel()
	err := closePorts(ports)
	l.wg.Wait()
	l.lc.Info("串口连接已关闭")
	return err
}

func (l *Link) ConnectionModeActive(mode interpreter.Mode) bool {
	if mode != interpreter.ModeCOM {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active
}

func (l *Link) ActiveTrackers() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, 0, len(l.trackers))
	for name := range l.trackers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// TrackerSettings 返回追踪器设置。forceMode 为 false 且已有缓存时直接返回缓存，
// 否则向接收器查询；查询超时时退回缓存值。
func (l *Link) TrackerSettings(ctx context.Context, tracker string, forceMode bool) (interpreter.Settings, error) {
	l.mu.Lock()
	p, ok := l.trackers[tracker]
	cached, have := l.settings[tracker]
	if !ok || (have && !forceMode) {
		l.mu.Unlock()
		if have {
			return cached, nil
		}
		return interpreter.Settings{}, fmt.Errorf("%w: %s", interpreter.ErrUnknownTracker, tracker)
	}
	ch := make(chan interpreter.Settings, 1)
	l.waiters[tracker] = append(l.waiters[tracker], ch)
	l.mu.Unlock()

	if err := p.send(command{Cmd: cmdGetSettings, Tracker: tracker}); err != nil {
		l.removeWaiter(tracker, ch)
		return interpreter.Settings{}, fmt.Errorf("向 %s 发送设置查询失败: %w", tracker, err)
	}

	timer := time.NewTimer(settingsTimeout)
	defer timer.Stop()
	select {
	case s := <-ch:
		return s, nil
	case <-timer.C:
	case <-ctx.Done():
	}
	l.removeWaiter(tracker, ch)
	if have {
		return cached, nil
	}
	return interpreter.Settings{}, fmt.Errorf("读取追踪器 %s 设置超时", tracker)
}

func (l *Link) SetTrackerSettings(tracker string, s interpreter.Settings, broadcast bool) error {
	p, err := l.portFor(tracker)
	if err != nil {
		return err
	}
	if err := p.send(command{Cmd: cmdSetSettings, Tracker: tracker, Settings: &s, Broadcast: broadcast}); err != nil {
		return fmt.Errorf("向 %s 写入设置失败: %w", tracker, err)
	}
	l.mu.Lock()
	l.settings[tracker] = s
	l.mu.Unlock()
	return nil
}

func (l *Link) SetAllTrackerSettings(s interpreter.Settings, broadcast bool) error {
	l.mu.Lock()
	ports := append([]*portConn(nil), l.ports...)
	l.mu.Unlock()
	if len(ports) == 0 {
		return errNotConnected
	}

	var errs []error
	for _, p := range ports {
		if err := p.send(command{Cmd: cmdSetAllSettings, Settings: &s, Broadcast: broadcast}); err != nil {
			errs = append(errs, fmt.Errorf("向串口 %s 写入设置失败: %w", p.name, err))
		}
	}
	l.mu.Lock()
	for name := range l.trackers {
		l.settings[name] = s
	}
	l.mu.Unlock()
	return errors.Join(errs...)
}

func (l *Link) FireTrackerBattery(tracker string) error {
	p, err := l.portFor(tracker)
	if err != nil {
		return err
	}
	return p.send(command{Cmd: cmdBattery, Tracker: tracker})
}

func (l *Link) FireTrackerMag(tracker string) error {
	p, err := l.portFor(tracker)
	if err != nil {
		return err
	}
	return p.send(command{Cmd: cmdMag, Tracker: tracker})
}

// Close 关闭连接并关闭事件通道
func (l *Link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	err := l.StopConnection(interpreter.ModeCOM)
	close(l.events)
	return err
}

func (l *Link) portFor(tracker string) (*portConn, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.trackers[tracker]
	if !ok {
		return nil, fmt.Errorf("%w: %s", interpreter.ErrUnknownTracker, tracker)
	}
	return p, nil
}

func (l *Link) removeWaiter(tracker string, ch chan interpreter.Settings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ws := l.waiters[tracker]
	for i, w := range ws {
		if w == ch {
			l.waiters[tracker] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(l.waiters[tracker]) == 0 {
		delete(l.waiters, tracker)
	}
}

// readLoop 按行读取串口输出，解码后投递事件；端口异常关闭时上报错误并断开其追踪器
func (l *Link) readLoop(ctx context.Context, p *portConn) {
	defer l.wg.Done()
	r := NewLineReader(p.rwc)
	for {
		line, err := r.ReadLine()
		if err != nil {
			if ctx.Err() == nil {
				l.emit(ctx, interpreter.Event{
					Kind:    interpreter.EventError,
					Message: fmt.Sprintf("Error on port %s: %v", p.name, err),
				})
				l.dropPort(ctx, p)
			}
			return
		}
		l.handleLine(ctx, p, line)
	}
}

func (l *Link) handleLine(ctx context.Context, p *portConn, line []byte) {
	rec, err := l.decoder.Decode(line)
	if err != nil {
		l.emit(ctx, interpreter.Event{
			Kind:    interpreter.EventError,
			Message: fmt.Sprintf("串口 %s: %v", p.name, err),
		})
		return
	}

	switch rec.Type {
	case RecordConnect:
		if rec.Tracker == "" || ctx.Err() != nil {
			return
		}
		l.mu.Lock()
		l.trackers[rec.Tracker] = p
		l.mu.Unlock()
	case RecordDisconnect:
		l.mu.Lock()
		delete(l.trackers, rec.Tracker)
		l.mu.Unlock()
	case RecordSettings:
		if rec.Tracker != "" && rec.Settings != nil {
			l.storeSettings(rec.Tracker, *rec.Settings)
		}
		return
	}

	ev, ok := rec.Event()
	if !ok {
		l.lc.Debugf("忽略未知记录类型 %q", rec.Type)
		return
	}
	l.emit(ctx, ev)
}

func (l *Link) storeSettings(tracker string, s interpreter.Settings) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.settings[tracker] = s
	for _, ch := range l.waiters[tracker] {
		ch <- s
	}
	delete(l.waiters, tracker)
}

// dropPort 断开经由 p 连接的全部追踪器
func (l *Link) dropPort(ctx context.Context, p *portConn) {
	l.mu.Lock()
	var names []string
	for name, owner := range l.trackers {
		if owner == p {
			names = append(names, name)
			delete(l.trackers, name)
		}
	}
	l.mu.Unlock()
	sort.Strings(names)
	for _, name := range names {
		l.emit(ctx, interpreter.Event{Kind: interpreter.EventDisconnect, Tracker: name})
	}
}

func (l *Link) heartbeatLoop(ctx context.Context, interval time.Duration) {
	defer l.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.mu.Lock()
			ports := append([]*portConn(nil), l.ports...)
			l.mu.Unlock()
			for _, p := range ports {
				if err := p.send(command{Cmd: cmdHeartbeat}); err != nil {
					l.emit(ctx, interpreter.Event{
						Kind:    interpreter.EventError,
						Message: fmt.Sprintf("Error while sending heartbeat to %s: %v", p.name, err),
					})
				}
			}
		}
	}
}

func (l *Link) emit(ctx context.Context, ev interpreter.Event) {
	select {
	case l.events <- ev:
	case <-ctx.Done():
	}
}

func closePorts(ports []*portConn) error {
	var errs []error
	for _, p := range ports {
		if err := p.rwc.Close(); err != nil {
			errs = append(errs, fmt.Errorf("关闭串口 %s 失败: %w", p.name, err))
		}
	}
	return errors.Join(errs...)
}
