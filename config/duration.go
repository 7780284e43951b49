package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Duration 配置中的时长
//
// 编码为 "1s"、"2m"、"24h" 形式的字符串；解码时也接受纳秒整数。
// 负值在解码时被拒绝。
type Duration time.Duration

// UnmarshalJSON 实现 json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: duration: %v", ErrInvalidConfig, err)
	}

	var v time.Duration
	switch x := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, x, err)
		}
		v = parsed
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return fmt.Errorf("%w: duration %s is not integer nanoseconds", ErrInvalidConfig, x)
		}
		v = time.Duration(n)
	default:
		return fmt.Errorf("%w: duration must be a string or integer nanoseconds, got %s", ErrInvalidConfig, data)
	}

	if v < 0 {
		return fmt.Errorf("%w: negative duration %s", ErrInvalidConfig, v)
	}
	*d = Duration(v)
	return nil
}

// MarshalJSON 实现 json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Duration 返回 time.Duration
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// DurationPtr 用于可选时长字段，nil 表示未设置
func DurationPtr(d time.Duration) *Duration {
	v := Duration(d)
	return &v
}
