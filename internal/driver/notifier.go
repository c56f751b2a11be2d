package driver

import (
	"fmt"
	"sync"

	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/common"

	"github.com/linjuya-lu/device-tracker-go/internal/tracker"
)

// 追踪器设备的资源
const (
	resConnected            = "Connected"
	resRotationX            = "RotationX"
	resRotationY            = "RotationY"
	resRotationZ            = "RotationZ"
	resQuaternionX          = "QuaternionX"
	resQuaternionY          = "QuaternionY"
	resQuaternionZ          = "QuaternionZ"
	resQuaternionW          = "QuaternionW"
	resGravityX             = "GravityX"
	resGravityY             = "GravityY"
	resGravityZ             = "GravityZ"
	resBatteryRemaining     = "BatteryRemaining"
	resBatteryVoltage       = "BatteryVoltage"
	resMagStatus            = "MagStatus"
	resSensorMode           = "SensorMode"
	resFPSMode              = "FPSMode"
	resSensorAutoCorrection = "SensorAutoCorrection"
	resFireBattery          = "FireBattery"
	resFireMag              = "FireMag"

	// 多个资源组成的设备命令
	cmdOrientation = "Orientation"
	cmdBattery     = "Battery"
)

// 接收器桥设备的资源
const (
	resConnectionStatus       = "ConnectionStatus"
	resServerConnected        = "ServerConnected"
	resServerAddress          = "ServerAddress"
	resLastError              = "LastError"
	resActiveTrackers         = "ActiveTrackers"
	resAvailablePorts         = "AvailablePorts"
	resConnectionTypes        = "ConnectionTypes"
	resComPorts               = "ComPorts"
	resStartConnection        = "StartConnection"
	resStopConnection         = "StopConnection"
	resSearchServer           = "SearchServer"
	resWirelessTrackerEnabled = "WirelessTrackerEnabled"
	resWiredTrackerEnabled    = "WiredTrackerEnabled"
	resHeartbeatInterval      = "HeartbeatInterval"
	resLoggingMode            = "LoggingMode"

	cmdServer = "Server"
)

type reading struct {
	resource  string
	valueType string
	value     any
}

// asyncNotifier 把协调器的通知写入运行时值表，并以 AsyncValues 推送给 core-data。
// 追踪器首次连接时注册对应的 EdgeX 设备，未注册的设备只更新值表。
type asyncNotifier struct {
	lc       logger.LoggingClient
	readings *readings
	asyncCh  chan<- *dsModels.AsyncValues
	bridge   string
	defaults map[string]any
	register func(name string)

	mu        sync.Mutex
	announced map[string]bool
}

var _ tracker.Notifier = (*asyncNotifier)(nil)

func newAsyncNotifier(lc logger.LoggingClient, r *readings, asyncCh chan<- *dsModels.AsyncValues,
	bridge string, trackerDefaults map[string]any, register func(name string)) *asyncNotifier {
	return &asyncNotifier{
		lc:        lc,
		readings:  r,
		asyncCh:   asyncCh,
		bridge:    bridge,
		defaults:  trackerDefaults,
		register:  register,
		announced: make(map[string]bool),
	}
}

func (n *asyncNotifier) TrackerConnected(name string) {
	n.announce(name)
	n.publish(name, resConnected, reading{resConnected, common.ValueTypeBool, true})
}

func (n *asyncNotifier) TrackerDisconnected(name string) {
	n.publish(name, resConnected, reading{resConnected, common.ValueTypeBool, false})
}

func (n *asyncNotifier) TrackerData(ev tracker.DataEvent) {
	n.publish(ev.Tracker, cmdOrientation,
		reading{resRotationX, common.ValueTypeFloat64, ev.Rotation.X},
		reading{resRotationY, common.ValueTypeFloat64, ev.Rotation.Y},
		reading{resRotationZ, common.ValueTypeFloat64, ev.Rotation.Z},
		reading{resQuaternionX, common.ValueTypeFloat64, ev.RawRotation.X},
		reading{resQuaternionY, common.ValueTypeFloat64, ev.RawRotation.Y},
		reading{resQuaternionZ, common.ValueTypeFloat64, ev.RawRotation.Z},
		reading{resQuaternionW, common.ValueTypeFloat64, ev.RawRotation.W},
		reading{resGravityX, common.ValueTypeFloat64, ev.Gravity.X},
		reading{resGravityY, common.ValueTypeFloat64, ev.Gravity.Y},
		reading{resGravityZ, common.ValueTypeFloat64, ev.Gravity.Z},
	)
}

func (n *asyncNotifier) TrackerBattery(name string, percent, volts float64) {
	n.publish(name, cmdBattery,
		reading{resBatteryRemaining, common.ValueTypeFloat64, percent},
		reading{resBatteryVoltage, common.ValueTypeFloat64, volts},
	)
}

func (n *asyncNotifier) TrackerMag(name, status string) {
	n.publish(name, resMagStatus, reading{resMagStatus, common.ValueTypeString, status})
}

func (n *asyncNotifier) ConnectionStatus(status tracker.Status) {
	n.publish(n.bridge, resConnectionStatus, reading{resConnectionStatus, common.ValueTypeString, string(status)})
}

func (n *asyncNotifier) ServerConnected(ip string, port int) {
	n.publish(n.bridge, cmdServer,
		reading{resServerConnected, common.ValueTypeBool, true},
		reading{resServerAddress, common.ValueTypeString, fmt.Sprintf("%s:%d", ip, port)},
	)
}

func (n *asyncNotifier) UserError(kind tracker.ErrorKind, msg string) {
	n.publish(n.bridge, resLastError, reading{resLastError, common.ValueTypeString, fmt.Sprintf("%s: %s", kind, msg)})
}

// announce 初始化追踪器的值表并注册 EdgeX 设备（仅首次）
func (n *asyncNotifier) announce(name string) {
	n.mu.Lock()
	if n.announced[name] {
		n.mu.Unlock()
		return
	}
	n.announced[name] = true
	n.mu.Unlock()

	n.readings.seed(name, n.defaults)
	if n.register != nil {
		go n.register(name)
	}
}

func (n *asyncNotifier) forget(name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.announced, name)
}

func (n *asyncNotifier) isAnnounced(name string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.announced[name]
}

func (n *asyncNotifier) publish(device, source string, rs ...reading) {
	for _, r := range rs {
		n.readings.set(device, r.resource, r.value)
	}
	if device != n.bridge && !n.isAnnounced(device) {
		return
	}

	cvs := make([]*dsModels.CommandValue, 0, len(rs))
	for _, r := range rs {
		cv, err := dsModels.NewCommandValue(r.resource, r.valueType, r.value)
		if err != nil {
			n.lc.Errorf("构造 %s.%s 读数失败: %v", device, r.resource, err)
			return
		}
		cvs = append(cvs, cv)
	}
	av := &dsModels.AsyncValues{
		DeviceName:    device,
		SourceName:    source,
		CommandValues: cvs,
	}
	select {
	case n.asyncCh <- av:
	default:
		n.lc.Warnf("异步通道已满，丢弃 %s 的 %s 读数", device, source)
	}
}
