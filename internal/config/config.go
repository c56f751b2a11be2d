package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ResourceProperty 保存设备资源属性配置
// 包含值类型、权限、单位和默认值等
type ResourceProperty struct {
	ValueType    string `yaml:"valueType"`
	ReadWrite    string `yaml:"readWrite"`
	Units        string `yaml:"units"`
	DefaultValue string `yaml:"defaultValue"`
}

// DeviceResource 对应 Profile 文件中的单个资源条目
// 包含名称、隐藏标志、描述和属性字段
type DeviceResource struct {
	Name        string           `yaml:"name"`
	IsHidden    bool             `yaml:"isHidden"`
	Description string           `yaml:"description"`
	Properties  ResourceProperty `yaml:"properties"`
}

// Profile 对应 Profile 文件顶层，仅解析名称和 deviceResources 列表
type Profile struct {
	Name            string           `yaml:"name"`
	DeviceResources []DeviceResource `yaml:"deviceResources"`
}

// LoadProfile 读取并解析追踪器的设备 Profile 文件
func LoadProfile(path string) (Profile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("无法读取 Profile 文件 %s：%w", path, err)
	}
	var prof Profile
	if err := yaml.Unmarshal(raw, &prof); err != nil {
		return Profile{}, fmt.Errorf("解析 Profile 文件 %s 失败：%w", path, err)
	}
	return prof, nil
}

// Resource 按名称查找资源定义
func (p Profile) Resource(name string) (DeviceResource, bool) {
	for _, dr := range p.DeviceResources {
		if dr.Name == name {
			return dr, true
		}
	}
	return DeviceResource{}, false
}

// DefaultValues 返回每个资源的默认运行时值，key 为资源名称
func (p Profile) DefaultValues() map[string]any {
	out := make(map[string]any, len(p.DeviceResources))
	for _, dr := range p.DeviceResources {
		out[dr.Name] = parseDefaultValue(dr.Properties.DefaultValue, dr.Properties.ValueType)
	}
	return out
}

// parseDefaultValue 根据 ValueType 将 DefaultValue 字符串转换为对应类型
func parseDefaultValue(valStr, vt string) any {
	switch vt {
	case "Float32":
		if f, err := strconv.ParseFloat(valStr, 32); err == nil {
			return float32(f)
		}
		return float32(0)
	case "Float64":
		if f, err := strconv.ParseFloat(valStr, 64); err == nil {
			return f
		}
		return float64(0)
	case "Uint8":
		if u, err := strconv.ParseUint(valStr, 10, 8); err == nil {
			return uint8(u)
		}
		return uint8(0)
	case "Int32":
		if i, err := strconv.ParseInt(valStr, 10, 32); err == nil {
			return int32(i)
		}
		return int32(0)
	case "Bool":
		if b, err := strconv.ParseBool(valStr); err == nil {
			return b
		}
		return false
	case "StringArray":
		if valStr == "" {
			return []string{}
		}
		return strings.Split(valStr, ",")
	}
	// 其它类型保留字符串
	return valStr
}
