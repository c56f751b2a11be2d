package tracker

import (
	"time"

	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
)

// ClickWindow 为按键连击的判定窗口：最后一次按下后经过该时间才结算
const ClickWindow = 500 * time.Millisecond

// Timer 是可取消的单次定时器
type Timer interface {
	Stop() bool
}

// Scheduler 创建单次定时器，回调在独立协程中执行
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type wallClock struct{}

func (wallClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// ActionForClicks 把连击次数映射为用户操作
func ActionForClicks(count int) emulation.UserAction {
	switch count {
	case 1:
		return emulation.ResetYaw
	case 2:
		return emulation.ResetFull
	case 3:
		return emulation.ResetMounting
	default:
		return emulation.PauseTracking
	}
}

type buttonKey struct {
	tracker string
	button  string
}

// clickState 为单个按键的连击状态；gen 用于识别已被新按下取代的定时器
type clickState struct {
	count int
	timer Timer
	gen   uint64
}

// Debouncer 把按键事件归并为连击操作。
// Press 与结算都在协调器的事件协程中执行：定时器到期后通过 post 投递结算。
type Debouncer struct {
	window   time.Duration
	sched    Scheduler
	post     func(func())
	dispatch func(tracker, button string, count int, action emulation.UserAction)
	states   map[buttonKey]*clickState
}

func NewDebouncer(window time.Duration, sched Scheduler, post func(func()),
	dispatch func(tracker, button string, count int, action emulation.UserAction)) *Debouncer {
	return &Debouncer{
		window:   window,
		sched:    sched,
		post:     post,
		dispatch: dispatch,
		states:   make(map[buttonKey]*clickState),
	}
}

// Handle 处理一次按键事件；松开事件和缺少追踪器/按键标识的事件被忽略
func (d *Debouncer) Handle(tracker, button string, pressed bool) {
	if tracker == "" || button == "" || !pressed {
		return
	}
	key := buttonKey{tracker: tracker, button: button}
	st, ok := d.states[key]
	if !ok {
		st = &clickState{}
		d.states[key] = st
	}
	st.count++
	st.gen++
	if st.timer != nil {
		st.timer.Stop()
	}
	gen := st.gen
	st.timer = d.sched.AfterFunc(d.window, func() {
		d.post(func() { d.resolve(key, gen) })
	})
}

func (d *Debouncer) resolve(key buttonKey, gen uint64) {
	st, ok := d.states[key]
	if !ok || st.gen != gen || st.count == 0 {
		return
	}
	count := st.count
	delete(d.states, key)
	d.dispatch(key.tracker, key.button, count, ActionForClicks(count))
}

// Pending 返回仍在等待结算的按键数
func (d *Debouncer) Pending() int {
	return len(d.states)
}
