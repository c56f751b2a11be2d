// Package serial 提供有线接收器的串口连接：打开 COM 端口，
// 按行读取接收器输出并解码为解释器事件，按周期发送心跳。
package serial

import (
	"io"
	"sort"

	goserial "go.bug.st/serial.v1"
)

// DefaultBaudRate 为有线接收器的默认波特率
const DefaultBaudRate = 500000

// Opener 打开一个串口
type Opener func(portName string, baudRate int) (io.ReadWriteCloser, error)

// Open 打开一个串口，并以 io.ReadWriteCloser 的形式返回
func Open(portName string, baudRate int) (io.ReadWriteCloser, error) {
	mode := &goserial.Mode{BaudRate: baudRate}
	return goserial.Open(portName, mode)
}

// ListPorts 返回本机可用的串口名称（已排序）
func ListPorts() ([]string, error) {
	ports, err := goserial.GetPortsList()
	if err != nil {
		return nil, err
	}
	sort.Strings(ports)
	return ports, nil
}
