package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"

	"github.com/linjuya-lu/device-tracker-go/internal/config"
	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
)

type fakeInterpreter struct {
	events chan interpreter.Event

	mu           sync.Mutex
	active       map[interpreter.Mode]bool
	trackers     []string
	startErr     error
	starts       []interpreter.Mode
	heartbeat    time.Duration
	settings     map[string]interpreter.Settings
	setAll       []interpreter.Settings
	batteryFired []string
	// settingsGate 非空时 TrackerSettings 在返回前等待它关闭
	settingsGate    chan struct{}
	settingsEntered chan struct{}
}

func newFakeInterpreter() *fakeInterpreter {
	return &fakeInterpreter{
		events:   make(chan interpreter.Event),
		active:   make(map[interpreter.Mode]bool),
		settings: make(map[string]interpreter.Settings),
	}
}

func (f *fakeInterpreter) Events() <-chan interpreter.Event { return f.events }

func (f *fakeInterpreter) StartConnection(_ context.Context, mode interpreter.Mode, _ []string, heartbeat time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, mode)
	if f.startErr != nil {
		return f.startErr
	}
	f.active[mode] = true
	f.heartbeat = heartbeat
	return nil
}

func (f *fakeInterpreter) StopConnection(mode interpreter.Mode) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active[mode] = false
	return nil
}

func (f *fakeInterpreter) ConnectionModeActive(mode interpreter.Mode) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active[mode]
}

func (f *fakeInterpreter) ActiveTrackers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.trackers...)
}

func (f *fakeInterpreter) TrackerSettings(_ context.Context, tracker string, _ bool) (interpreter.Settings, error) {
	f.mu.Lock()
	gate, entered := f.settingsGate, f.settingsEntered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.settings[tracker]
	if !ok {
		return interpreter.Settings{}, interpreter.ErrUnknownTracker
	}
	return s, nil
}

func (f *fakeInterpreter) SetTrackerSettings(tracker string, s interpreter.Settings, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settings[tracker] = s
	return nil
}

func (f *fakeInterpreter) SetAllTrackerSettings(s interpreter.Settings, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setAll = append(f.setAll, s)
	return nil
}

func (f *fakeInterpreter) FireTrackerBattery(tracker string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batteryFired = append(f.batteryFired, tracker)
	return nil
}

func (f *fakeInterpreter) FireTrackerMag(string) error { return nil }

func (f *fakeInterpreter) Close() error { return nil }

type fakeTransport struct {
	cfg emulation.Config

	mu           sync.Mutex
	initialized  bool
	deinit       bool
	disconnected bool
	sensors      int
	rotations    []emulation.Quaternion
	accels       []emulation.Vector
	batteries    [][2]float64
	actions      []emulation.UserAction
	searches     int
	rotationErr  error
}

func (t *fakeTransport) Init(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = true
	return nil
}

func (t *fakeTransport) AddSensor(context.Context, emulation.SensorType, emulation.SensorStatus) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sensors++
	return nil
}

func (t *fakeTransport) SendRotation(_ uint8, _ emulation.RotationDataType, q emulation.Quaternion) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rotations = append(t.rotations, q)
	return t.rotationErr
}

func (t *fakeTransport) SendAcceleration(_ uint8, v emulation.Vector) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.accels = append(t.accels, v)
	return nil
}

func (t *fakeTransport) ChangeBatteryLevel(volts, percent float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.batteries = append(t.batteries, [2]float64{volts, percent})
	return nil
}

func (t *fakeTransport) SendUserAction(action emulation.UserAction) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.actions = append(t.actions, action)
	return nil
}

func (t *fakeTransport) SearchForServer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.searches++
}

func (t *fakeTransport) DisconnectFromServer() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnected = true
}

func (t *fakeTransport) Deinit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deinit = true
	return nil
}

type fakeFactory struct {
	mu      sync.Mutex
	created []*fakeTransport
}

func (f *fakeFactory) New(cfg emulation.Config, _ emulation.Listener) emulation.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTransport{cfg: cfg}
	f.created = append(f.created, t)
	return t
}

func (f *fakeFactory) all() []*fakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeTransport(nil), f.created...)
}

type batteryNote struct {
	name           string
	percent, volts float64
}

type fakeNotifier struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	data         []DataEvent
	batteries    []batteryNote
	mags         []string
	statuses     []Status
	userErrors   []ErrorKind
	servers      []string
}

func (n *fakeNotifier) TrackerConnected(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connected = append(n.connected, name)
}

func (n *fakeNotifier) TrackerDisconnected(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disconnected = append(n.disconnected, name)
}

func (n *fakeNotifier) TrackerData(ev DataEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.data = append(n.data, ev)
}

func (n *fakeNotifier) TrackerBattery(name string, percent, volts float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.batteries = append(n.batteries, batteryNote{name, percent, volts})
}

func (n *fakeNotifier) TrackerMag(name, status string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.mags = append(n.mags, name+":"+status)
}

func (n *fakeNotifier) ConnectionStatus(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.statuses = append(n.statuses, s)
}

func (n *fakeNotifier) ServerConnected(ip string, _ int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.servers = append(n.servers, ip)
}

func (n *fakeNotifier) UserError(kind ErrorKind, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.userErrors = append(n.userErrors, kind)
}

func (n *fakeNotifier) connectedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.connected)
}

// fakeScheduler 为手动推进的时钟，Advance 同步执行到期的回调
type fakeScheduler struct {
	mu         sync.Mutex
	now        time.Duration
	timers     []*fakeTimer
	ignoreStop bool
}

type fakeTimer struct {
	s       *fakeScheduler
	at      time.Duration
	f       func()
	stopped bool
	fired   bool
}

func (s *fakeScheduler) AfterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &fakeTimer{s: s, at: s.now + d, f: f}
	s.timers = append(s.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (s *fakeScheduler) Advance(d time.Duration) {
	s.mu.Lock()
	s.now += d
	var due []func()
	for _, t := range s.timers {
		if t.fired || t.at > s.now || (t.stopped && !s.ignoreStop) {
			continue
		}
		t.fired = true
		due = append(due, t.f)
	}
	s.mu.Unlock()
	for _, f := range due {
		f()
	}
}

type harness struct {
	c       *Coordinator
	interp  *fakeInterpreter
	factory *fakeFactory
	notes   *fakeNotifier
	sched   *fakeScheduler
	store   *config.FileStore
	now     time.Time
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := config.NewMemoryStore()
	if err := store.Set([]string{config.KeyGlobal, "trackers", "wiredTrackerEnabled"}, true); err != nil {
		t.Fatal(err)
	}
	h := &harness{
		interp:  newFakeInterpreter(),
		factory: &fakeFactory{},
		notes:   &fakeNotifier{},
		sched:   &fakeScheduler{},
		store:   store,
		now:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	c, err := New(Options{
		AppVersion:  "1.0.0",
		Interpreter: h.interp,
		Transports:  h.factory,
		Store:       store,
		Notifier:    h.notes,
		Logger:      logger.NewMockClient(),
		Now:         func() time.Time { return h.now },
		Scheduler:   h.sched,
	})
	if err != nil {
		t.Fatal(err)
	}
	h.c = c

	ctx, cancel := context.WithCancel(context.Background())
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return h
}

func (h *harness) discovery() *fakeTransport {
	return h.factory.all()[0]
}

// emit 在事件协程接收后返回；之后的 runSync 操作一定在该事件处理完后执行
func (h *harness) emit(ev interpreter.Event) {
	h.interp.events <- ev
}

func (h *harness) flush(t *testing.T) {
	t.Helper()
	if err := h.c.runSync(context.Background(), func() error { return nil }); err != nil {
		t.Fatal(err)
	}
}

func (h *harness) startCOM(t *testing.T) {
	t.Helper()
	if err := h.c.StartConnection(context.Background(), []interpreter.Mode{interpreter.ModeCOM}, []string{"COM3"}); err != nil {
		t.Fatalf("StartConnection: %v", err)
	}
}

func (h *harness) connect(t *testing.T, name string) *fakeTransport {
	t.Helper()
	before := h.notes.connectedCount()
	h.emit(interpreter.Event{Kind: interpreter.EventConnect, Tracker: name})
	eventually(t, func() bool { return h.notes.connectedCount() > before })
	all := h.factory.all()
	return all[len(all)-1]
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
