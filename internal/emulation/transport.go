// Package emulation 提供虚拟追踪器：把每个物理追踪器模拟成一个
// 网络可见的追踪器，向下游追踪服务器发送旋转、加速度、电量和用户操作。
package emulation

import (
	"context"

	"github.com/linjuya-lu/device-tracker-go/internal/identity"
)

type BoardType int32

const (
	BoardUnknown BoardType = 0
	BoardCustom  BoardType = 4
)

type MCUType int32

const (
	MCUUnknown MCUType = 0
)

type SensorType uint8

const (
	SensorUnknown SensorType = 0
)

type SensorStatus uint8

const (
	SensorOffline SensorStatus = 0
	SensorOK      SensorStatus = 1
	SensorError   SensorStatus = 2
)

type RotationDataType uint8

const (
	RotationNormal     RotationDataType = 1
	RotationCorrection RotationDataType = 2
)

// UserAction 为下游服务器识别的用户操作
type UserAction uint8

const (
	ResetFull     UserAction = 2
	ResetYaw      UserAction = 3
	ResetMounting UserAction = 4
	PauseTracking UserAction = 5
)

func (a UserAction) String() string {
	switch a {
	case ResetFull:
		return "reset-full"
	case ResetYaw:
		return "reset-yaw"
	case ResetMounting:
		return "reset-mounting"
	case PauseTracking:
		return "pause-tracking"
	}
	return "unknown"
}

// Quaternion 为传输层使用的四元数，构造参数顺序为 w,x,y,z
type Quaternion struct {
	W, X, Y, Z float64
}

func NewQuaternion(w, x, y, z float64) Quaternion {
	return Quaternion{W: w, X: x, Y: y, Z: z}
}

type Vector struct {
	X, Y, Z float64
}

func NewVector(x, y, z float64) Vector {
	return Vector{X: x, Y: y, Z: z}
}

// FeatureFlags 为固件功能位，按位下标记录
type FeatureFlags map[uint16]bool

// Config 为构造虚拟追踪器所需的参数
type Config struct {
	Address  identity.Address
	Version  string
	Features FeatureFlags
	Board    BoardType
	MCU      MCUType
}

// Listener 接收虚拟追踪器的异步事件，回调在传输层的协程中执行
type Listener interface {
	ConnectedToServer(ip string, port int)
	SearchingForServer()
	Error(err error)
	UnknownPacket(packetType int32, payload []byte)
}

// Transport 是一个虚拟追踪器
type Transport interface {
	Init(ctx context.Context) error
	AddSensor(ctx context.Context, t SensorType, status SensorStatus) error
	SendRotation(sensorIndex uint8, t RotationDataType, q Quaternion) error
	SendAcceleration(sensorIndex uint8, v Vector) error
	ChangeBatteryLevel(volts, percent float64) error
	SendUserAction(action UserAction) error
	SearchForServer()
	DisconnectFromServer()
	Deinit() error
}

// Factory 构造虚拟追踪器
type Factory interface {
	New(cfg Config, l Listener) Transport
}

// FactoryFunc 把函数适配为 Factory
type FactoryFunc func(cfg Config, l Listener) Transport

func (f FactoryFunc) New(cfg Config, l Listener) Transport { return f(cfg, l) }
