package tracker

import (
	"errors"
	"strings"
)

var (
	ErrInvalidSettings   = errors.New("invalid tracker settings")
	ErrConnectionActive  = errors.New("connection already active")
	ErrInvalidConnection = errors.New("invalid connection configuration")
	ErrStopped           = errors.New("coordinator stopped")
)

// ErrorKind 为设备解释器上报错误的分类
type ErrorKind int

const (
	KindUnexpected ErrorKind = iota
	KindIMUProcess
	KindMagProcess
	KindSettingsProcess
	KindButtonProcess
	KindBluetoothScan
	KindBluetoothDiscovery
	KindBluetoothClose
	KindSerialWrite
	KindSerialUnexpected
	KindJSONParse
	KindSendHeartbeat
	KindTrackerSettingsWrite
	KindConnectionStart
)

// errorMarkers 为解释器错误消息中用于识别分类的标识串
var errorMarkers = []struct {
	kind   ErrorKind
	marker string
}{
	{KindIMUProcess, "Error decoding IMU packet"},
	{KindMagProcess, "Error processing mag data"},
	{KindSettingsProcess, "Error processing settings data"},
	{KindButtonProcess, "Error processing button data"},
	{KindBluetoothScan, "Error starting bluetooth scanning"},
	{KindBluetoothDiscovery, "Error during discovery/connection process"},
	{KindBluetoothClose, "Error while closing bluetooth connection"},
	{KindSerialWrite, "Error writing data to serial port"},
	{KindSerialUnexpected, "Error on port"},
	{KindSendHeartbeat, "Error while sending heartbeat"},
	{KindTrackerSettingsWrite, "Error sending tracker settings"},
	{KindConnectionStart, "Opening COM"},
	{KindJSONParse, "JSON"},
}

func (k ErrorKind) String() string {
	for _, m := range errorMarkers {
		if m.kind == k {
			return m.marker
		}
	}
	return "An unexpected error occurred"
}

// ClassifyError 根据消息内容判断错误分类，无法识别时返回 KindUnexpected
func ClassifyError(msg string) ErrorKind {
	for _, m := range errorMarkers {
		if strings.Contains(msg, m.marker) {
			return m.kind
		}
	}
	return KindUnexpected
}
