package log

import (
	"fmt"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

// tagMap maps the "type" log field to a console marker. Log helpers attach
// the type field so dev-console output stays scannable.
var tagMap = map[string]string{
	"request":  "🌐",
	"auth":     "🔓",
	"vendor":   "🔗",
	"payment":  "💳",
	"webhook":  "📨",
	"config":   "🧩",
	"database": "💾",
	"redis":    "📦",
	"circuit":  "⛔",
	"fallback": "🔁",
	"startup":  "🚀",
	"success":  "✅",
	"security": "🔒",
	"slow":     "🐌",
}

// statusTag returns a marker based on the HTTP status code.
func statusTag(status int) string {
	if status >= 500 {
		return "🔴"
	} else if status >= 400 {
		return "🟠"
	} else if status >= 300 {
		return "🟡"
	}
	return "🟢"
}

// TaggedConsoleEncoder wraps Zap's ConsoleEncoder and prefixes each message
// with a marker derived from the "type" or "status" field. Zero intrusion:
// JSON output is unaffected since the wrapper is only installed for console.
type TaggedConsoleEncoder struct {
	zapcore.Encoder
	config zapcore.EncoderConfig
}

// NewTaggedConsoleEncoder creates the annotated console encoder.
func NewTaggedConsoleEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return &TaggedConsoleEncoder{
		Encoder: zapcore.NewConsoleEncoder(cfg),
		config:  cfg,
	}
}

// EncodeEntry encodes a log entry, prefixing the message with a marker.
func (enc *TaggedConsoleEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	var logType string
	var status int64

	for _, field := range fields {
		if field.Key == "type" && field.Type == zapcore.StringType {
			logType = field.String
		} else if field.Key == "status" && (field.Type == zapcore.Int64Type || field.Type == zapcore.Int32Type) {
			status = field.Integer
		}
	}

	// Marker priority: HTTP status, then type field, then log level.
	tag := ""
	if status > 0 {
		tag = statusTag(int(status))
	} else if logType != "" {
		if t, ok := tagMap[logType]; ok {
			tag = t
		}
	}

	if tag == "" {
		switch entry.Level {
		case zapcore.ErrorLevel, zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
			tag = "❌"
		case zapcore.WarnLevel:
			tag = "⚠️"
		case zapcore.InfoLevel:
			tag = "ℹ️"
		case zapcore.DebugLevel:
			tag = "🐛"
		}
	}

	if tag != "" {
		entry.Message = tag + " " + entry.Message
	}

	return enc.Encoder.EncodeEntry(entry, fields)
}

// Clone clones the encoder (used internally by Zap).
func (enc *TaggedConsoleEncoder) Clone() zapcore.Encoder {
	return &TaggedConsoleEncoder{
		Encoder: enc.Encoder.Clone(),
		config:  enc.config,
	}
}

// formatDuration renders a millisecond duration as 1ms, 150ms, 2.5s.
func formatDuration(ms int64) string {
	if ms < 1000 {
		return fmt.Sprintf("%dms", ms)
	}
	seconds := float64(ms) / 1000.0
	return fmt.Sprintf("%.1fs", seconds)
}
