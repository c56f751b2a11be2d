// Package identity 管理虚拟追踪器的持久化 6 字节地址。
// 每个逻辑追踪器名称对应唯一地址，首次注册时随机生成并写入设置文件，
// 之后每次注册都复用同一地址；存储内容格式错误时视为不存在并重新生成。
package identity

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// Address 是 6 字节的追踪器地址（与 MAC 地址格式一致）
type Address [6]byte

// Zero 为发现会话使用的全零地址
var Zero = Address{}

// Random 生成一个随机地址
func Random() Address {
	var a Address
	if _, err := rand.Read(a[:]); err != nil {
		// crypto/rand 在受支持的平台上不会失败
		panic(fmt.Sprintf("生成随机地址失败: %v", err))
	}
	return a
}

// String 返回形如 "AA:BB:CC:DD:EE:FF" 的表示
func (a Address) String() string {
	parts := make([]string, len(a))
	for i, b := range a {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, ":")
}

// Ints 返回便于写入 YAML 的整数切片
func (a Address) Ints() []int {
	out := make([]int, len(a))
	for i, b := range a {
		out[i] = int(b)
	}
	return out
}

// FromValue 把设置存储中读出的值转换为地址。
// 接受 []byte、[]int 以及 YAML 解码得到的 []any；
// 长度不是 6 或元素不在 0..255 范围内时返回 false。
func FromValue(v any) (Address, bool) {
	var a Address
	switch raw := v.(type) {
	case Address:
		return raw, true
	case []byte:
		if len(raw) != len(a) {
			return a, false
		}
		copy(a[:], raw)
		return a, true
	case []int:
		if len(raw) != len(a) {
			return a, false
		}
		for i, n := range raw {
			if n < 0 || n > 0xFF {
				return Address{}, false
			}
			a[i] = byte(n)
		}
		return a, true
	case []any:
		if len(raw) != len(a) {
			return a, false
		}
		for i, e := range raw {
			n, ok := toByte(e)
			if !ok {
				return Address{}, false
			}
			a[i] = n
		}
		return a, true
	}
	return a, false
}

func toByte(v any) (byte, bool) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int64:
		n = x
	case uint64:
		if x > 0xFF {
			return 0, false
		}
		n = int64(x)
	case float64:
		if x != float64(int64(x)) {
			return 0, false
		}
		n = int64(x)
	default:
		return 0, false
	}
	if n < 0 || n > 0xFF {
		return 0, false
	}
	return byte(n), true
}
