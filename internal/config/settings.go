package config

import (
	"strconv"
	"time"

	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"
)

const (
	// DefaultHeartbeatInterval 为有线接收器的心跳周期
	DefaultHeartbeatInterval = 2000 * time.Millisecond
	// DefaultLoggingMode 1:普通 2:调试 3:调试+IMU 处理日志
	DefaultLoggingMode = 1
)

// Settings 对应设置文件 global 节点下的用户设置
type Settings struct {
	WirelessTrackerEnabled bool
	WiredTrackerEnabled    bool
	HeartbeatInterval      time.Duration
	LoggingMode            int
	CanLogToFile           bool
}

// LoadSettings 从存储中读取 global 设置，缺失的项使用默认值
func LoadSettings(s Store) Settings {
	out := Settings{
		HeartbeatInterval: DefaultHeartbeatInterval,
		LoggingMode:       DefaultLoggingMode,
	}
	if v, ok := s.Get(KeyGlobal, "trackers", "wirelessTrackerEnabled"); ok {
		out.WirelessTrackerEnabled = toBool(v)
	}
	if v, ok := s.Get(KeyGlobal, "trackers", "wiredTrackerEnabled"); ok {
		out.WiredTrackerEnabled = toBool(v)
	}
	if v, ok := s.Get(KeyGlobal, "trackers", "heartbeatInterval"); ok {
		if ms, ok := toInt(v); ok && ms > 0 {
			out.HeartbeatInterval = time.Duration(ms) * time.Millisecond
		}
	}
	if v, ok := s.Get(KeyGlobal, "debug", "loggingMode"); ok {
		if m, ok := toInt(v); ok && m >= 1 && m <= 3 {
			out.LoggingMode = m
		}
	}
	if v, ok := s.Get(KeyGlobal, "debug", "canLogToFile"); ok {
		out.CanLogToFile = toBool(v)
	}
	return out
}

// LogLevel 把日志模式映射为 EdgeX 日志级别
func LogLevel(loggingMode int) string {
	switch loggingMode {
	case 2:
		return models.DebugLog
	case 3:
		return models.TraceLog
	default:
		return models.InfoLog
	}
}

func toBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(x)
		return b
	}
	return false
}

func toInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case int64:
		return int(x), true
	case uint64:
		return int(x), true
	case float64:
		return int(x), true
	case string:
		n, err := strconv.Atoi(x)
		return n, err == nil
	}
	return 0, false
}
