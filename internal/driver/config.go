package driver

import (
	"fmt"
	"strconv"

	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
	"github.com/linjuya-lu/device-tracker-go/internal/serial"
)

// Driver 配置节中的键
const (
	cfgSettingsPath       = "SettingsPath"
	cfgAppVersion         = "AppVersion"
	cfgServerHost         = "ServerHost"
	cfgServerPort         = "ServerPort"
	cfgBaudRate           = "BaudRate"
	cfgTrackerProfilePath = "TrackerProfilePath"
	cfgBridgeProfilePath  = "BridgeProfilePath"
	cfgBridgeDeviceName   = "BridgeDeviceName"
)

const (
	defaultSettingsPath       = "./res/settings.yaml"
	defaultTrackerProfilePath = "./res/profiles/tracker.yaml"
	defaultBridgeProfilePath  = "./res/profiles/tracker-bridge.yaml"
	defaultBridgeDeviceName   = "Tracker-Bridge"
)

// driverConfig 为 configuration.yaml 中 Driver 节的内容
type driverConfig struct {
	SettingsPath       string
	AppVersion         string
	ServerHost         string
	ServerPort         int
	BaudRate           int
	TrackerProfilePath string
	BridgeProfilePath  string
	BridgeDeviceName   string
}

func loadDriverConfig(raw map[string]string) (driverConfig, error) {
	cfg := driverConfig{
		SettingsPath:       defaultSettingsPath,
		ServerPort:         emulation.ServerPort,
		BaudRate:           serial.DefaultBaudRate,
		TrackerProfilePath: defaultTrackerProfilePath,
		BridgeProfilePath:  defaultBridgeProfilePath,
		BridgeDeviceName:   defaultBridgeDeviceName,
	}
	str := map[string]*string{
		cfgSettingsPath:       &cfg.SettingsPath,
		cfgAppVersion:         &cfg.AppVersion,
		cfgServerHost:         &cfg.ServerHost,
		cfgTrackerProfilePath: &cfg.TrackerProfilePath,
		cfgBridgeProfilePath:  &cfg.BridgeProfilePath,
		cfgBridgeDeviceName:   &cfg.BridgeDeviceName,
	}
	for key, dst := range str {
		if v, ok := raw[key]; ok && v != "" {
			*dst = v
		}
	}
	num := map[string]*int{
		cfgServerPort: &cfg.ServerPort,
		cfgBaudRate:   &cfg.BaudRate,
	}
	for key, dst := range num {
		v, ok := raw[key]
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return driverConfig{}, fmt.Errorf("Driver 配置 %s 无效: %q", key, v)
		}
		*dst = n
	}
	return cfg, nil
}
