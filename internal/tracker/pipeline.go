package tracker

import (
	"errors"
	"fmt"
	"math"

	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
)

// Euler 为按 XYZ 内旋顺序得到的欧拉角，单位为度，仅用于显示
type Euler struct {
	X, Y, Z float64
}

// DataEvent 为对外发送的显示数据，包含换算后的角度和原始值
type DataEvent struct {
	Tracker     string
	Rotation    Euler
	Gravity     emulation.Vector
	RawRotation interpreter.Rotation
	RawGravity  interpreter.Gravity
}

const radToDeg = 180 / math.Pi

// ToEuler 把四元数（x,y,z,w）换算为 XYZ 内旋欧拉角（度）
func ToEuler(q interpreter.Rotation) Euler {
	x, y, z, w := q.X, q.Y, q.Z, q.W
	if n := math.Sqrt(x*x + y*y + z*z + w*w); n > 0 && n != 1 {
		x, y, z, w = x/n, y/n, z/n, w/n
	}
	// R = Rx(a)·Ry(b)·Rz(c)
	m02 := 2 * (x*z + w*y)
	m12 := 2 * (y*z - w*x)
	m22 := 1 - 2*(x*x+y*y)
	m01 := 2 * (x*y - w*z)
	m00 := 1 - 2*(y*y+z*z)

	var a, b, c float64
	if math.Abs(m02) < 0.9999999 {
		a = math.Atan2(-m12, m22)
		b = math.Asin(m02)
		c = math.Atan2(-m01, m00)
	} else {
		// 万向节锁：c 取 0
		m10 := 2 * (x*y + w*z)
		m11 := 1 - 2*(x*x+z*z)
		a = math.Copysign(1, m02) * math.Atan2(m10, m11)
		b = math.Copysign(math.Pi/2, m02)
		c = 0
	}
	return Euler{X: a * radToDeg, Y: b * radToDeg, Z: c * radToDeg}
}

// forwardSample 把一帧 IMU 数据发送给虚拟追踪器，返回对外显示事件。
// 发送的是未经换算的原始四元数，按传输层的 w,x,y,z 顺序构造。
func forwardSample(s *Session, rot interpreter.Rotation, grav interpreter.Gravity) (DataEvent, error) {
	q := emulation.NewQuaternion(rot.W, rot.X, rot.Y, rot.Z)
	g := emulation.NewVector(grav.X, grav.Y, grav.Z)

	ev := DataEvent{
		Tracker:     s.Name,
		Rotation:    ToEuler(rot),
		Gravity:     g,
		RawRotation: rot,
		RawGravity:  grav,
	}
	var errs []error
	if err := s.Transport.SendRotation(0, emulation.RotationNormal, q); err != nil {
		errs = append(errs, fmt.Errorf("发送 %s 旋转数据失败: %w", s.Name, err))
	}
	if err := s.Transport.SendAcceleration(0, g); err != nil {
		errs = append(errs, fmt.Errorf("发送 %s 加速度数据失败: %w", s.Name, err))
	}
	return ev, errors.Join(errs...)
}
