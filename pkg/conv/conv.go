// Package conv 读取 YAML / JSON 解码得到的 map[string]any 配置（模型参数、节点配置）。
// 解码器给出的数值可能是 int、int64 或 float64，这里统一处理。
package conv

import (
	"strconv"
)

// ToFloat64 把数值型的 any 转为 float64，非数值返回 false。
func ToFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case float32:
		return float64(val), true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case int32:
		return float64(val), true
	}
	return 0, false
}

// convertSlice 按 convert 转换切片，convert 返回 false 的元素被跳过。
func convertSlice[T, U any](s []T, convert func(T) (U, bool)) []U {
	if s == nil {
		return nil
	}
	out := make([]U, 0, len(s))
	for _, v := range s {
		if u, ok := convert(v); ok {
			out = append(out, u)
		}
	}
	return out
}

// ConfigGet 按 key 取类型为 T 的值，缺失或类型不符时返回 defaultVal。
func ConfigGet[T any](m map[string]any, key string, defaultVal T) T {
	t, ok := m[key].(T)
	if !ok {
		return defaultVal
	}
	return t
}

// ConfigGetInt64 按 key 取整数，兼容解码出的 float64。
func ConfigGetInt64(m map[string]any, key string, defaultVal int64) int64 {
	switch val := m[key].(type) {
	case int:
		return int64(val)
	case int64:
		return val
	case float64:
		return int64(val)
	case float32:
		return int64(val)
	}
	return defaultVal
}

// SliceAnyToInt64 把物品 ID 列表转为 []int64，元素可以是数字或数字字符串（如 YAML 中加引号的 ID）。
func SliceAnyToInt64(v any) []int64 {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	return convertSlice(raw, func(e any) (int64, bool) {
		if s, ok := e.(string); ok {
			n, err := strconv.ParseInt(s, 10, 64)
			return n, err == nil
		}
		f, ok := ToFloat64(e)
		return int64(f), ok
	})
}
