// Package logging 基于 zerolog 构造结构化日志器。
//
// 组件（service、evaluate、store）通过 Option 注入 zerolog.Logger；
// 未注入时使用 zerolog.Nop()，库代码本身不写全局日志。
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Config 日志配置
type Config struct {
	// Level: trace / debug / info / warn / error / disabled，默认 info
	Level string `yaml:"level" validate:"omitempty,oneof=trace debug info warn warning error fatal panic disabled"`

	// Format: json / console，默认 json
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`

	// Caller 是否输出调用位置
	Caller bool `yaml:"caller"`

	// Output 日志输出，默认 os.Stderr
	Output io.Writer `yaml:"-"`
}

// New 按配置创建 Logger。
func New(cfg Config) zerolog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "console") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).Level(ParseLevel(cfg.Level)).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// ParseLevel 把字符串解析为 zerolog.Level，无法识别时返回 InfoLevel。
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	case "panic":
		return zerolog.PanicLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// Duration 以毫秒记录耗时，字段名统一为 duration_ms。
func Duration(e *zerolog.Event, d time.Duration) *zerolog.Event {
	return e.Float64("duration_ms", float64(d.Microseconds())/1000)
}
