// -*- Mode: Go; indent-tabs-mode: t -*-
//
// Copyright (C) 2019-2023 IOTech Ltd
//
// SPDX-License-Identifier: Apache-2.0

// Package driver provides an implementation of a ProtocolDriver interface.
package driver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/edgexfoundry/device-sdk-go/v4/pkg/interfaces"
	dsModels "github.com/edgexfoundry/device-sdk-go/v4/pkg/models"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/clients/logger"
	edgexErr "github.com/edgexfoundry/go-mod-core-contracts/v4/errors"
	"github.com/edgexfoundry/go-mod-core-contracts/v4/models"

	"github.com/linjuya-lu/device-tracker-go/internal/config"
	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
	"github.com/linjuya-lu/device-tracker-go/internal/interpreter"
	"github.com/linjuya-lu/device-tracker-go/internal/serial"
	"github.com/linjuya-lu/device-tracker-go/internal/tracker"
)

const (
	protocolName   = "tracker"
	commandTimeout = 10 * time.Second
	stopTimeout    = 5 * time.Second
)

// commander 为驱动使用的协调器命令
type commander interface {
	StartConnection(ctx context.Context, modes []interpreter.Mode, ports []string) error
	StopConnection(ctx context.Context) error
	SetTrackerSettings(ctx context.Context, req tracker.SettingsRequest) error
	SetAllTrackerSettings(ctx context.Context, req tracker.SettingsRequest) error
	TrackerSettings(ctx context.Context, name string, forceMode bool) (interpreter.Settings, error)
	ActiveTrackers(ctx context.Context) ([]string, error)
	FireTrackerBattery(ctx context.Context, name string) error
	FireTrackerMag(ctx context.Context, name string) error
	SearchForServer(ctx context.Context) (bool, error)
}

type TrackerDriver struct {
	lc      logger.LoggingClient
	asyncCh chan<- *dsModels.AsyncValues
	locker  sync.Mutex
	sdk     interfaces.DeviceServiceSDK

	cfg            driverConfig
	store          config.Store
	readings       *readings
	notifier       *asyncNotifier
	trackerProfile string
	bridgeDefaults map[string]any
	interp         interpreter.Interpreter
	coord          *tracker.Coordinator
	cmd            commander
	listPorts      func() ([]string, error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var once sync.Once
var driver *TrackerDriver

func NewTrackerDriver() interfaces.ProtocolDriver {
	once.Do(func() {
		driver = new(TrackerDriver)
	})
	return driver
}

func (d *TrackerDriver) Initialize(sdk interfaces.DeviceServiceSDK) error {
	d.sdk = sdk
	d.lc = sdk.LoggingClient()
	d.asyncCh = sdk.AsyncValuesChannel()

	cfg, err := loadDriverConfig(sdk.DriverConfigs())
	if err != nil {
		return err
	}
	d.cfg = cfg

	var server *net.UDPAddr
	if cfg.ServerHost != "" {
		server, err = net.ResolveUDPAddr("udp4", net.JoinHostPort(cfg.ServerHost, strconv.Itoa(cfg.ServerPort)))
		if err != nil {
			return fmt.Errorf("解析服务器地址失败: %w", err)
		}
	}
	link := serial.NewLink(d.lc, serial.Options{BaudRate: cfg.BaudRate})
	return d.setup(link, emulation.UDPFactory{Server: server})
}

// setup 读取设置和 Profile，构造协调器
func (d *TrackerDriver) setup(interp interpreter.Interpreter, transports emulation.Factory) error {
	store, err := config.OpenFileStore(d.cfg.SettingsPath)
	if err != nil {
		return err
	}
	settings := config.LoadSettings(store)
	if err := d.lc.SetLogLevel(config.LogLevel(settings.LoggingMode)); err != nil {
		d.lc.Warnf("设置日志级别失败: %v", err)
	}

	trackerProfile, err := config.LoadProfile(d.cfg.TrackerProfilePath)
	if err != nil {
		return err
	}
	bridgeProfile, err := config.LoadProfile(d.cfg.BridgeProfilePath)
	if err != nil {
		return err
	}

	d.store = store
	d.trackerProfile = trackerProfile.Name
	d.bridgeDefaults = bridgeProfile.DefaultValues()
	d.readings = newReadings()
	d.readings.seed(d.cfg.BridgeDeviceName, d.bridgeDefaults)
	d.readings.set(d.cfg.BridgeDeviceName, resWirelessTrackerEnabled, settings.WirelessTrackerEnabled)
	d.readings.set(d.cfg.BridgeDeviceName, resWiredTrackerEnabled, settings.WiredTrackerEnabled)
	d.readings.set(d.cfg.BridgeDeviceName, resHeartbeatInterval, int32(settings.HeartbeatInterval/time.Millisecond))
	d.readings.set(d.cfg.BridgeDeviceName, resLoggingMode, int32(settings.LoggingMode))
	d.notifier = newAsyncNotifier(d.lc, d.readings, d.asyncCh, d.cfg.BridgeDeviceName,
		trackerProfile.DefaultValues(), d.ensureDevice)
	d.listPorts = serial.ListPorts

	coord, err := tracker.New(tracker.Options{
		AppVersion:  d.cfg.AppVersion,
		Interpreter: interp,
		Transports:  transports,
		Store:       store,
		Notifier:    d.notifier,
		Logger:      d.lc,
	})
	if err != nil {
		return err
	}
	d.interp = interp
	d.coord = coord
	d.cmd = coord
	d.lc.Infof("追踪器驱动已初始化: 设置文件=%s 桥设备=%s", d.cfg.SettingsPath, d.cfg.BridgeDeviceName)
	return nil
}

func (d *TrackerDriver) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	if err := d.coord.Start(ctx); err != nil {
		cancel()
		return err
	}
	d.cancel = cancel
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.coord.Run(ctx); err != nil {
			d.lc.Errorf("追踪器协调器异常退出: %v", err)
		}
	}()
	d.lc.Info("追踪器协调器已启动")
	return nil
}

func (d *TrackerDriver) HandleReadCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest) ([]*dsModels.CommandValue, error) {
	d.locker.Lock()
	defer d.locker.Unlock()

	d.lc.Debugf("HandleReadCommands 调用: 设备=%s, 请求资源数=%d", deviceName, len(reqs))

	values, ok := d.readings.snapshot(deviceName)
	if !ok {
		return nil, edgexErr.NewCommonEdgeX(edgexErr.KindEntityDoesNotExist, fmt.Sprintf("设备 %s 未找到或无可用值", deviceName), nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	results := make([]*dsModels.CommandValue, 0, len(reqs))
	for _, req := range reqs {
		resName := req.DeviceResourceName
		val, err := d.readValue(ctx, deviceName, resName, values)
		if err != nil {
			return nil, toEdgeX(err, fmt.Sprintf("读取 %s.%s 失败", deviceName, resName))
		}
		cv, err := dsModels.NewCommandValue(resName, req.Type, val)
		if err != nil {
			return nil, edgexErr.NewCommonEdgeX(edgexErr.KindServerError, fmt.Sprintf("构造 %s.%s 读数失败", deviceName, resName), err)
		}
		cv.Origin = time.Now().UnixNano()
		results = append(results, cv)
		d.lc.Debugf("读取值: %s.%s = %v", deviceName, resName, val)
	}
	return results, nil
}

// readValue 返回资源的当前值；部分资源实时查询协调器或系统
func (d *TrackerDriver) readValue(ctx context.Context, deviceName, resName string, values map[string]any) (any, error) {
	if deviceName == d.cfg.BridgeDeviceName {
		switch resName {
		case resActiveTrackers:
			return d.cmd.ActiveTrackers(ctx)
		case resAvailablePorts:
			return d.listPorts()
		}
	} else {
		switch resName {
		case resSensorMode, resFPSMode, resSensorAutoCorrection:
			s, err := d.cmd.TrackerSettings(ctx, deviceName, false)
			if err != nil {
				return nil, err
			}
			return settingsValue(s, resName), nil
		}
	}
	val, ok := values[resName]
	if !ok {
		return nil, fmt.Errorf("%w: 设备 %s 上未找到资源 %s 的值", errUnknownResource, deviceName, resName)
	}
	return val, nil
}

func settingsValue(s interpreter.Settings, resName string) any {
	switch resName {
	case resSensorMode:
		return int32(s.SensorMode)
	case resFPSMode:
		return int32(s.FPSMode)
	default:
		return append([]string{}, s.SensorAutoCorrection...)
	}
}

func (d *TrackerDriver) HandleWriteCommands(deviceName string, protocols map[string]models.ProtocolProperties, reqs []dsModels.CommandRequest,
	params []*dsModels.CommandValue) error {
	d.locker.Lock()
	defer d.locker.Unlock()

	d.lc.Infof("HandleWriteCommands 调用: 设备=%s, 写入请求数=%d", deviceName, len(reqs))

	if len(reqs) != len(params) {
		return edgexErr.NewCommonEdgeX(edgexErr.KindContractInvalid, fmt.Sprintf("请求数与参数数不匹配: %d vs %d", len(reqs), len(params)), nil)
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	if deviceName == d.cfg.BridgeDeviceName {
		err = d.writeBridge(ctx, reqs, params)
	} else {
		err = d.writeTracker(ctx, deviceName, reqs, params)
	}
	if err != nil {
		d.lc.Errorf("写入设备 %s 失败: %v", deviceName, err)
		return toEdgeX(err, fmt.Sprintf("写入设备 %s 失败", deviceName))
	}
	return nil
}

func (d *TrackerDriver) Stop(force bool) error {
	d.lc.Info("TrackerDriver.Stop: device-tracker driver is stopping...")
	if d.cancel == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := d.coord.Close(ctx); err != nil {
		d.lc.Warnf("关闭追踪器协调器失败: %v", err)
	}
	d.cancel()
	d.wg.Wait()
	d.cancel = nil
	if err := d.interp.Close(); err != nil {
		d.lc.Warnf("关闭设备解释器失败: %v", err)
	}
	return nil
}

func (d *TrackerDriver) AddDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.lc.Debugf("a new Device is added: %s", deviceName)
	d.seedDevice(deviceName)
	return nil
}

func (d *TrackerDriver) UpdateDevice(deviceName string, protocols map[string]models.ProtocolProperties, adminState models.AdminState) error {
	d.lc.Debugf("Device %s is updated", deviceName)
	d.seedDevice(deviceName)
	return nil
}

func (d *TrackerDriver) RemoveDevice(deviceName string, protocols map[string]models.ProtocolProperties) error {
	d.lc.Debugf("Device %s is removed", deviceName)
	if deviceName == d.cfg.BridgeDeviceName {
		return nil
	}
	d.readings.remove(deviceName)
	d.notifier.forget(deviceName)
	d.lc.Infof("已移除设备 %s 的运行时数据", deviceName)
	return nil
}

func (d *TrackerDriver) Discover() error {
	return fmt.Errorf("driver's Discover function isn't implemented")
}

func (d *TrackerDriver) ValidateDevice(device models.Device) error {
	if device.Name == "" {
		return edgexErr.NewCommonEdgeX(edgexErr.KindContractInvalid, "设备名称为空", nil)
	}
	return nil
}

// seedDevice 为新加入或更新的设备补齐默认值，已有的值不覆盖
func (d *TrackerDriver) seedDevice(deviceName string) {
	if deviceName == d.cfg.BridgeDeviceName {
		d.readings.seed(deviceName, d.bridgeDefaults)
		return
	}
	d.readings.seed(deviceName, d.notifier.defaults)
}

// ensureDevice 在 core-metadata 中注册追踪器设备（已存在时跳过）
func (d *TrackerDriver) ensureDevice(name string) {
	if d.sdk == nil {
		return
	}
	if _, err := d.sdk.GetDeviceByName(name); err == nil {
		return
	}
	dev := models.Device{
		Name:           name,
		Description:    "虚拟追踪器 " + name,
		AdminState:     models.Unlocked,
		OperatingState: models.Up,
		ServiceName:    d.sdk.Name(),
		ProfileName:    d.trackerProfile,
		Labels:         []string{"tracker"},
		Protocols: map[string]models.ProtocolProperties{
			protocolName: {"Name": name},
		},
	}
	if _, err := d.sdk.AddDevice(dev); err != nil {
		d.lc.Errorf("注册追踪器设备 %s 失败: %v", name, err)
		return
	}
	d.lc.Infof("已注册追踪器设备 %s", name)
}

var errUnknownResource = errors.New("未知资源")

// toEdgeX 把内部错误映射为 EdgeX 错误类型
func toEdgeX(err error, msg string) error {
	kind := edgexErr.KindServerError
	switch {
	case errors.Is(err, tracker.ErrInvalidSettings),
		errors.Is(err, tracker.ErrInvalidConnection),
		errors.Is(err, tracker.ErrConnectionActive),
		errors.Is(err, errInvalidValue):
		kind = edgexErr.KindContractInvalid
	case errors.Is(err, interpreter.ErrUnknownTracker),
		errors.Is(err, errUnknownResource):
		kind = edgexErr.KindEntityDoesNotExist
	case errors.Is(err, tracker.ErrStopped):
		kind = edgexErr.KindServiceUnavailable
	}
	return edgexErr.NewCommonEdgeX(kind, msg, err)
}
