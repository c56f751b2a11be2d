package emulation

import (
	"bytes"
	"encoding/binary"
	"math"
)

// 追踪器 → 服务器的报文类型
const (
	packetHeartbeat    int32 = 0
	packetHandshake    int32 = 3
	packetAccel        int32 = 4
	packetPingPong     int32 = 10
	packetBattery      int32 = 12
	packetSensorInfo   int32 = 15
	packetRotationData int32 = 17
	packetUserAction   int32 = 21
	packetFeatureFlags int32 = 22
)

// 服务器 → 追踪器的报文类型
const (
	serverHeartbeat    int32 = 1
	serverVibrate      int32 = 2
	serverHandshake    int32 = 3
	serverPingPong     int32 = 10
	serverSensorInfo   int32 = 15
	serverFeatureFlags int32 = 22
)

const (
	firmwareBuild = 17
	// handshakeReply 为服务器握手回复的标识串
	handshakeReply = "Hey OVR =D"
)

// 报文格式：4 字节类型 + 8 字节序号 + 负载，均为大端序
func encodePacket(packetType int32, number int64, payload []byte) []byte {
	buf := make([]byte, 12+len(payload))
	binary.BigEndian.PutUint32(buf[0:4], uint32(packetType))
	binary.BigEndian.PutUint64(buf[4:12], uint64(number))
	copy(buf[12:], payload)
	return buf
}

func handshakePayload(cfg Config) []byte {
	var b bytes.Buffer
	putInt32(&b, int32(cfg.Board))
	putInt32(&b, int32(SensorUnknown))
	putInt32(&b, int32(cfg.MCU))
	// IMU 信息，保留字段
	putInt32(&b, 0)
	putInt32(&b, 0)
	putInt32(&b, 0)
	putInt32(&b, firmwareBuild)
	version := cfg.Version
	if len(version) > 255 {
		version = version[:255]
	}
	b.WriteByte(byte(len(version)))
	b.WriteString(version)
	b.Write(cfg.Address[:])
	return b.Bytes()
}

func sensorInfoPayload(index uint8, status SensorStatus, t SensorType) []byte {
	return []byte{index, byte(status), byte(t)}
}

func rotationPayload(index uint8, t RotationDataType, q Quaternion) []byte {
	var b bytes.Buffer
	b.WriteByte(index)
	b.WriteByte(byte(t))
	putFloat32(&b, q.X)
	putFloat32(&b, q.Y)
	putFloat32(&b, q.Z)
	putFloat32(&b, q.W)
	// 精度信息
	b.WriteByte(0)
	return b.Bytes()
}

func accelPayload(index uint8, v Vector) []byte {
	var b bytes.Buffer
	putFloat32(&b, v.X)
	putFloat32(&b, v.Y)
	putFloat32(&b, v.Z)
	b.WriteByte(index)
	return b.Bytes()
}

// 电量以 0..1 的比例上报
func batteryPayload(volts, percent float64) []byte {
	var b bytes.Buffer
	putFloat32(&b, volts)
	putFloat32(&b, math.Max(0, math.Min(percent, 100))/100)
	return b.Bytes()
}

func featureFlagsPayload(flags FeatureFlags) []byte {
	var n uint16
	for bit, on := range flags {
		if on && bit+1 > n {
			n = bit + 1
		}
	}
	out := make([]byte, (int(n)+7)/8)
	for bit, on := range flags {
		if on {
			out[bit/8] |= 1 << (bit % 8)
		}
	}
	return out
}

func putInt32(b *bytes.Buffer, v int32) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.Write(tmp[:])
}

func putFloat32(b *bytes.Buffer, v float64) {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], math.Float32bits(float32(v)))
	b.Write(tmp[:])
}

// isHandshakeReply 判断是否为服务器的握手回复：首字节为 3，随后是标识串
func isHandshakeReply(buf []byte) bool {
	return len(buf) > 1 && buf[0] == byte(serverHandshake) && bytes.Contains(buf[1:], []byte(handshakeReply))
}

// decodeServerPacket 拆出服务器报文的类型和负载
func decodeServerPacket(buf []byte) (packetType int32, payload []byte, ok bool) {
	if len(buf) < 4 {
		return 0, nil, false
	}
	packetType = int32(binary.BigEndian.Uint32(buf[0:4]))
	if len(buf) >= 12 {
		return packetType, buf[12:], true
	}
	return packetType, buf[4:], true
}
