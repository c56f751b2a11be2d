package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"

	"github.com/linjuya-lu/device-tracker-go/internal/config"
	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
	"github.com/linjuya-lu/device-tracker-go/internal/tracker"
)

var errInvalidValue = errors.New("写入值无效")

// settingsWrite 收集一次写请求中的追踪器设置字段，未写入的字段为 nil
type settingsWrite struct {
	sensorMode *int
	fpsMode    *int
	correction []string
}

func (w *settingsWrite) empty() bool {
	return w.sensorMode == nil && w.fpsMode == nil && w.correction == nil
}

// collect 解析设置类资源；非设置资源返回 false
func (w *settingsWrite) collect(cv *dsModels.CommandValue) (bool, error) {
	switch cv.DeviceResourceName {
	case resSensorMode, resFPSMode:
		v, err := cv.Int32Value()
		if err != nil {
			return true, fmt.Errorf("%w: %s: %v", errInvalidValue, cv.DeviceResourceName, err)
		}
		n := int(v)
		if cv.DeviceResourceName == resSensorMode {
			w.sensorMode = &n
		} else {
			w.fpsMode = &n
		}
		return true, nil
	case resSensorAutoCorrection:
		v, err := cv.StringArrayValue()
		if err != nil {
			return true, fmt.Errorf("%w: %s: %v", errInvalidValue, cv.DeviceResourceName, err)
		}
		w.correction = v
		return true, nil
	}
	return false, nil
}

// request 用 base 补齐未写入的字段
func (w *settingsWrite) request(name string, base interpreter.Settings) tracker.SettingsRequest {
	req := tracker.SettingsRequest{
		Tracker:              name,
		SensorMode:           base.SensorMode,
		FPSMode:              base.FPSMode,
		SensorAutoCorrection: base.SensorAutoCorrection,
	}
	if w.sensorMode != nil {
		req.SensorMode = *w.sensorMode
	}
	if w.fpsMode != nil {
		req.FPSMode = *w.fpsMode
	}
	if w.correction != nil {
		req.SensorAutoCorrection = w.correction
	}
	return req
}

func (d *TrackerDriver) writeBridge(ctx context.Context, reqs []dsModels.CommandRequest, params []*dsModels.CommandValue) error {
	bridge := d.cfg.BridgeDeviceName
	var sw settingsWrite
	for i, req := range reqs {
		cv := params[i]
		resName := req.DeviceResourceName
		if ok, err := sw.collect(cv); ok {
			if err != nil {
				return err
			}
			continue
		}

		switch resName {
		case resConnectionTypes, resComPorts:
			v, err := cv.StringArrayValue()
			if err != nil {
				return fmt.Errorf("%w: %s: %v", errInvalidValue, resName, err)
			}
			d.readings.set(bridge, resName, v)

		case resStartConnection, resStopConnection, resSearchServer:
			v, err := cv.BoolValue()
			if err != nil {
				return fmt.Errorf("%w: %s: %v", errInvalidValue, resName, err)
			}
			if !v {
				continue
			}
			if err := d.runBridgeCommand(ctx, resName); err != nil {
				return err
			}

		case resWirelessTrackerEnabled, resWiredTrackerEnabled:
			v, err := cv.BoolValue()
			if err != nil {
				return fmt.Errorf("%w: %s: %v", errInvalidValue, resName, err)
			}
			key := "wirelessTrackerEnabled"
			if resName == resWiredTrackerEnabled {
				key = "wiredTrackerEnabled"
			}
			if err := d.store.Set([]string{config.KeyGlobal, "trackers", key}, v); err != nil {
				return err
			}
			d.readings.set(bridge, resName, v)

		case resHeartbeatInterval:
			v, err := cv.Int32Value()
			if err != nil || v <= 0 {
				return fmt.Errorf("%w: %s 必须为正整数", errInvalidValue, resName)
			}
			if err := d.store.Set([]string{config.KeyGlobal, "trackers", "heartbeatInterval"}, int(v)); err != nil {
				return err
			}
			d.readings.set(bridge, resName, v)

		case resLoggingMode:
			v, err := cv.Int32Value()
			if err != nil || v < 1 || v > 3 {
				return fmt.Errorf("%w: %s 取值范围为 1-3", errInvalidValue, resName)
			}
			if err := d.store.Set([]string{config.KeyGlobal, "debug", "loggingMode"}, int(v)); err != nil {
				return err
			}
			if err := d.lc.SetLogLevel(config.LogLevel(int(v))); err != nil {
				d.lc.Warnf("设置日志级别失败: %v", err)
			}
			d.readings.set(bridge, resName, v)

		default:
			return fmt.Errorf("%w: 资源 %s 不可写", errInvalidValue, resName)
		}
	}

	if sw.empty() {
		return nil
	}
	req := sw.request("", d.bridgeSettings())
	if err := d.cmd.SetAllTrackerSettings(ctx, req); err != nil {
		return err
	}
	d.readings.set(bridge, resSensorMode, int32(req.SensorMode))
	d.readings.set(bridge, resFPSMode, int32(req.FPSMode))
	d.readings.set(bridge, resSensorAutoCorrection, req.SensorAutoCorrection)
	return nil
}

func (d *TrackerDriver) runBridgeCommand(ctx context.Context, resName string) error {
	bridge := d.cfg.BridgeDeviceName
	switch resName {
	case resStartConnection:
		modes, ports := d.connectionParams()
		d.lc.Infof("开始连接: 方式=%v 串口=%v", modes, ports)
		return d.cmd.StartConnection(ctx, modes, ports)
	case resStopConnection:
		return d.cmd.StopConnection(ctx)
	default:
		found, err := d.cmd.SearchForServer(ctx)
		if err != nil {
			return err
		}
		d.readings.set(bridge, resServerConnected, found)
		return nil
	}
}

// connectionParams 从桥设备的值表读取连接方式与串口列表
func (d *TrackerDriver) connectionParams() ([]interpreter.Mode, []string) {
	bridge := d.cfg.BridgeDeviceName
	var modes []interpreter.Mode
	if v, ok := d.readings.get(bridge, resConnectionTypes); ok {
		for _, s := range stringList(v) {
			modes = append(modes, interpreter.Mode(strings.ToLower(s)))
		}
	}
	var ports []string
	if v, ok := d.readings.get(bridge, resComPorts); ok {
		ports = stringList(v)
	}
	return modes, ports
}

// bridgeSettings 返回桥设备上保存的批量设置
func (d *TrackerDriver) bridgeSettings() interpreter.Settings {
	bridge := d.cfg.BridgeDeviceName
	var s interpreter.Settings
	if v, ok := d.readings.get(bridge, resSensorMode); ok {
		s.SensorMode = intValue(v)
	}
	if v, ok := d.readings.get(bridge, resFPSMode); ok {
		s.FPSMode = intValue(v)
	}
	if v, ok := d.readings.get(bridge, resSensorAutoCorrection); ok {
		s.SensorAutoCorrection = stringList(v)
	}
	return s
}

func (d *TrackerDriver) writeTracker(ctx context.Context, name string, reqs []dsModels.CommandRequest, params []*dsModels.CommandValue) error {
	var sw settingsWrite
	for i, req := range reqs {
		cv := params[i]
		resName := req.DeviceResourceName
		if ok, err := sw.collect(cv); ok {
			if err != nil {
				return err
			}
			continue
		}

		switch resName {
		case resFireBattery, resFireMag:
			v, err := cv.BoolValue()
			if err != nil {
				return fmt.Errorf("%w: %s: %v", errInvalidValue, resName, err)
			}
			if !v {
				continue
			}
			if resName == resFireBattery {
				err = d.cmd.FireTrackerBattery(ctx, name)
			} else {
				err = d.cmd.FireTrackerMag(ctx, name)
			}
			if err != nil {
				return err
			}
		default:
			return fmt.Errorf("%w: 资源 %s 不可写", errInvalidValue, resName)
		}
	}

	if sw.empty() {
		return nil
	}
	var base interpreter.Settings
	if sw.sensorMode == nil || sw.fpsMode == nil || sw.correction == nil {
		cur, err := d.cmd.TrackerSettings(ctx, name, false)
		if err != nil {
			return err
		}
		base = cur
	}
	return d.cmd.SetTrackerSettings(ctx, sw.request(name, base))
}

func stringList(v any) []string {
	switch x := v.(type) {
	case []string:
		out := make([]string, 0, len(x))
		for _, s := range x {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if x == "" {
			return nil
		}
		return stringList(strings.Split(x, ","))
	}
	return nil
}

func intValue(v any) int {
	switch x := v.(type) {
	case int32:
		return int(x)
	case int:
		return x
	case int64:
		return int(x)
	}
	return 0
}
