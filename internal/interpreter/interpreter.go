// Package interpreter 定义设备解释器的事件模型和命令接口。
// 解释器负责与物理追踪器（蓝牙或串口接收器）通信，
// 把设备协议解码为离散事件，并接受连接与设置命令。
package interpreter

import (
	"context"
	"errors"
	"time"
)

// Mode 为连接方式
type Mode string

const (
	ModeBluetooth Mode = "bluetooth"
	ModeCOM       Mode = "com"
)

// Modes 为全部连接方式，按停止顺序排列
var Modes = []Mode{ModeBluetooth, ModeCOM}

var (
	// ErrConnectionStart 表示连接启动失败（串口无法打开等）
	ErrConnectionStart = errors.New("opening connection failed")
	// ErrUnsupportedMode 表示解释器不支持该连接方式
	ErrUnsupportedMode = errors.New("unsupported connection mode")
	// ErrUnknownTracker 表示解释器不认识该追踪器
	ErrUnknownTracker = errors.New("unknown tracker")
)

type EventKind int

const (
	EventConnect EventKind = iota
	EventDisconnect
	EventIMU
	EventBattery
	EventMag
	EventButton
	EventLog
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnect:
		return "connect"
	case EventDisconnect:
		return "disconnect"
	case EventIMU:
		return "imu"
	case EventBattery:
		return "battery"
	case EventMag:
		return "mag"
	case EventButton:
		return "button"
	case EventLog:
		return "log"
	case EventError:
		return "error"
	}
	return "unknown"
}

// Rotation 为设备上报的原始四元数，分量顺序 x,y,z,w
type Rotation struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Gravity 为设备上报的原始重力/加速度向量
type Gravity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Event 是解释器发出的单个事件，按 Kind 使用对应字段
type Event struct {
	Kind    EventKind
	Tracker string

	// imu
	Rotation *Rotation
	Gravity  *Gravity

	// battery，电压单位 mV
	BatteryRemaining float64
	BatteryVoltageMv float64

	// mag
	MagStatus string

	// button
	Button  string
	Pressed bool

	// log / error
	Message     string
	Exceptional bool
}

// Settings 为追踪器设置
type Settings struct {
	SensorMode           int      `json:"sensorMode"`
	FPSMode              int      `json:"fpsMode"`
	SensorAutoCorrection []string `json:"sensorAutoCorrection"`
}

// Interpreter 是协调器所依赖的设备解释器。
// Events 返回的通道按设备上报顺序投递事件；其余方法需要并发安全。
type Interpreter interface {
	Events() <-chan Event

	StartConnection(ctx context.Context, mode Mode, ports []string, heartbeat time.Duration) error
	StopConnection(mode Mode) error
	ConnectionModeActive(mode Mode) bool

	ActiveTrackers() []string
	TrackerSettings(ctx context.Context, tracker string, forceMode bool) (Settings, error)
	SetTrackerSettings(tracker string, s Settings, broadcast bool) error
	SetAllTrackerSettings(s Settings, broadcast bool) error

	FireTrackerBattery(tracker string) error
	FireTrackerMag(tracker string) error

	Close() error
}
