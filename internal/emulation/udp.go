package emulation

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// ServerPort 为下游追踪服务器的默认 UDP 端口
const ServerPort = 6969

// searchInterval 为未连接服务器时广播握手的间隔
const searchInterval = time.Second

var errNotInitialized = errors.New("虚拟追踪器尚未初始化")

// UDPFactory 构造基于 UDP 的虚拟追踪器。
// Server 为空时通过广播发现服务器。
type UDPFactory struct {
	Server *net.UDPAddr
}

func (f UDPFactory) New(cfg Config, l Listener) Transport {
	return NewUDPTracker(cfg, l, f.Server)
}

type sensorInfo struct {
	t      SensorType
	status SensorStatus
}

// UDPTracker 通过 UDP 与下游追踪服务器通信
type UDPTracker struct {
	cfg      Config
	listener Listener
	target   *net.UDPAddr

	mu           sync.Mutex
	conn         *net.UDPConn
	server       *net.UDPAddr
	packetNumber int64
	sensors      []sensorInfo

	search chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewUDPTracker 创建虚拟追踪器；target 为空时向广播地址发送握手
func NewUDPTracker(cfg Config, l Listener, target *net.UDPAddr) *UDPTracker {
	if target == nil {
		target = &net.UDPAddr{IP: net.IPv4bcast, Port: ServerPort}
	}
	return &UDPTracker{
		cfg:      cfg,
		listener: l,
		target:   target,
		search:   make(chan struct{}, 1),
	}
}

// Init 打开 UDP 套接字，启动接收协程和服务器搜索协程
func (t *UDPTracker) Init(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != nil {
		return nil
	}
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("打开 UDP 套接字失败: %w", err)
	}
	t.conn = conn
	t.done = make(chan struct{})

	t.wg.Add(2)
	go t.readLoop(conn, t.done)
	go t.searchLoop(t.done)
	return nil
}

// AddSensor 登记一个传感器；已连接服务器时立即上报
func (t *UDPTracker) AddSensor(ctx context.Context, st SensorType, status SensorStatus) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	index := uint8(len(t.sensors))
	t.sensors = append(t.sensors, sensorInfo{t: st, status: status})
	t.mu.Unlock()
	return t.send(packetSensorInfo, sensorInfoPayload(index, status, st))
}

func (t *UDPTracker) SendRotation(sensorIndex uint8, rt RotationDataType, q Quaternion) error {
	return t.send(packetRotationData, rotationPayload(sensorIndex, rt, q))
}

func (t *UDPTracker) SendAcceleration(sensorIndex uint8, v Vector) error {
	return t.send(packetAccel, accelPayload(sensorIndex, v))
}

func (t *UDPTracker) ChangeBatteryLevel(volts, percent float64) error {
	return t.send(packetBattery, batteryPayload(volts, percent))
}

func (t *UDPTracker) SendUserAction(action UserAction) error {
	return t.send(packetUserAction, []byte{byte(action)})
}

// SearchForServer 立即触发一次握手广播
func (t *UDPTracker) SearchForServer() {
	select {
	case t.search <- struct{}{}:
	default:
	}
}

// DisconnectFromServer 忘记当前服务器，之后的数据不再发送，直到重新握手
func (t *UDPTracker) DisconnectFromServer() {
	t.mu.Lock()
	t.server = nil
	t.mu.Unlock()
}

// Deinit 关闭套接字并等待后台协程退出
func (t *UDPTracker) Deinit() error {
	t.mu.Lock()
	conn := t.conn
	if conn == nil {
		t.mu.Unlock()
		return nil
	}
	t.conn = nil
	t.server = nil
	close(t.done)
	t.mu.Unlock()

	err := conn.Close()
	t.wg.Wait()
	return err
}

// send 在未连接服务器时直接丢弃报文
func (t *UDPTracker) send(packetType int32, payload []byte) error {
	t.mu.Lock()
	conn, server := t.conn, t.server
	if conn == nil {
		t.mu.Unlock()
		return errNotInitialized
	}
	if server == nil {
		t.mu.Unlock()
		return nil
	}
	t.packetNumber++
	pkt := encodePacket(packetType, t.packetNumber, payload)
	t.mu.Unlock()

	if _, err := conn.WriteToUDP(pkt, server); err != nil {
		return fmt.Errorf("发送报文 %d 失败: %w", packetType, err)
	}
	return nil
}

func (t *UDPTracker) sendHandshake(conn *net.UDPConn) {
	t.mu.Lock()
	t.packetNumber++
	pkt := encodePacket(packetHandshake, t.packetNumber, handshakePayload(t.cfg))
	t.mu.Unlock()
	if _, err := conn.WriteToUDP(pkt, t.target); err != nil {
		t.listener.Error(fmt.Errorf("发送握手失败: %w", err))
	}
}

func (t *UDPTracker) searchLoop(done <-chan struct{}) {
	defer t.wg.Done()
	ticker := time.NewTicker(searchInterval)
	defer ticker.Stop()

	for {
		t.mu.Lock()
		conn, connected := t.conn, t.server != nil
		t.mu.Unlock()
		if conn != nil && !connected {
			t.listener.SearchingForServer()
			t.sendHandshake(conn)
		}
		select {
		case <-done:
			return
		case <-ticker.C:
		case <-t.search:
		}
	}
}

func (t *UDPTracker) readLoop(conn *net.UDPConn, done <-chan struct{}) {
	defer t.wg.Done()
	buf := make([]byte, 2048)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			t.listener.Error(fmt.Errorf("接收报文失败: %w", err))
			continue
		}
		t.handle(conn, addr, append([]byte(nil), buf[:n]...))
	}
}

func (t *UDPTracker) handle(conn *net.UDPConn, addr *net.UDPAddr, pkt []byte) {
	if isHandshakeReply(pkt) {
		t.onHandshake(addr)
		return
	}
	packetType, payload, ok := decodeServerPacket(pkt)
	if !ok {
		t.listener.UnknownPacket(-1, pkt)
		return
	}
	switch packetType {
	case serverHeartbeat:
		_ = t.send(packetHeartbeat, nil)
	case serverPingPong:
		_ = t.send(packetPingPong, payload)
	case serverHandshake:
		t.onHandshake(addr)
	case serverSensorInfo, serverFeatureFlags, serverVibrate:
		// 服务器确认，无需处理
	default:
		t.listener.UnknownPacket(packetType, payload)
	}
}

// onHandshake 记录服务器地址，并补发传感器信息和功能位
func (t *UDPTracker) onHandshake(addr *net.UDPAddr) {
	t.mu.Lock()
	already := t.server != nil && t.server.IP.Equal(addr.IP) && t.server.Port == addr.Port
	t.server = addr
	sensors := append([]sensorInfo(nil), t.sensors...)
	t.mu.Unlock()
	if already {
		return
	}

	t.listener.ConnectedToServer(addr.IP.String(), addr.Port)
	if len(t.cfg.Features) > 0 {
		_ = t.send(packetFeatureFlags, featureFlagsPayload(t.cfg.Features))
	}
	for i, s := range sensors {
		if err := t.send(packetSensorInfo, sensorInfoPayload(uint8(i), s.status, s.t)); err != nil {
			t.listener.Error(err)
		}
	}
}
