package serial

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
)

// 接收器上报的记录类型
const (
	RecordConnect    = "connect"
	RecordDisconnect = "disconnect"
	RecordIMU        = "imu"
	RecordBattery    = "battery"
	RecordMag        = "mag"
	RecordButton     = "button"
	RecordSettings   = "settings"
	RecordLog        = "log"
	RecordError      = "error"
)

var errMissingType = errors.New("缺少 type 字段")

// Record 为接收器输出的一行记录，按 Type 使用对应字段
type Record struct {
	Type    string `json:"type"`
	Tracker string `json:"tracker,omitempty"`

	Rotation *interpreter.Rotation `json:"rotation,omitempty"`
	Gravity  *interpreter.Gravity  `json:"gravity,omitempty"`

	Remaining float64 `json:"remaining,omitempty"`
	// 电压，单位 mV
	Voltage float64 `json:"voltage,omitempty"`

	Status string `json:"status,omitempty"`

	Button  string `json:"button,omitempty"`
	Pressed bool   `json:"pressed,omitempty"`

	Settings *interpreter.Settings `json:"settings,omitempty"`

	Message     string `json:"message,omitempty"`
	Exceptional bool   `json:"exceptional,omitempty"`
}

// Decoder 把接收器输出的一行解码为记录
type Decoder interface {
	Decode(line []byte) (Record, error)
}

// JSONDecoder 解码每行一个 JSON 对象的输出
type JSONDecoder struct{}

func (JSONDecoder) Decode(line []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(line, &r); err != nil {
		return Record{}, fmt.Errorf("JSON 解析失败: %w", err)
	}
	if r.Type == "" {
		return Record{}, fmt.Errorf("JSON 记录无效: %w", errMissingType)
	}
	return r, nil
}

// Event 把记录转换为解释器事件；settings 记录和未知类型返回 false
func (r Record) Event() (interpreter.Event, bool) {
	ev := interpreter.Event{Tracker: r.Tracker}
	switch r.Type {
	case RecordConnect:
		ev.Kind = interpreter.EventConnect
	case RecordDisconnect:
		ev.Kind = interpreter.EventDisconnect
	case RecordIMU:
		ev.Kind = interpreter.EventIMU
		ev.Rotation = r.Rotation
		ev.Gravity = r.Gravity
	case RecordBattery:
		ev.Kind = interpreter.EventBattery
		ev.BatteryRemaining = r.Remaining
		ev.BatteryVoltageMv = r.Voltage
	case RecordMag:
		ev.Kind = interpreter.EventMag
		ev.MagStatus = r.Status
	case RecordButton:
		ev.Kind = interpreter.EventButton
		ev.Button = r.Button
		ev.Pressed = r.Pressed
	case RecordLog:
		ev.Kind = interpreter.EventLog
		ev.Message = r.Message
	case RecordError:
		ev.Kind = interpreter.EventError
		ev.Message = r.Message
		ev.Exceptional = r.Exceptional
	default:
		return interpreter.Event{}, false
	}
	return ev, true
}
