// Package logger emits structured JSON log lines with PII redaction.
// Recipient emails and phones appear constantly in this system's log fields,
// so redaction is on by default and keyed off the field name.
package logger

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// Level is the severity of a log entry.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = [...]string{"DEBUG", "INFO", "WARN", "ERROR"}

type jsonLogger struct {
	level     Level
	redactPII bool
	mu        sync.Mutex
}

var std = &jsonLogger{level: INFO, redactPII: true}

// SetLevel sets the minimum level that gets emitted.
func SetLevel(l Level) { std.level = l }

// SetRedactPII toggles redaction of email and phone fields.
func SetRedactPII(on bool) { std.redactPII = on }

// Debug logs at DEBUG with alternating key-value fields.
func Debug(msg string, fields ...any) { std.log(DEBUG, msg, fields) }

// Info logs at INFO with alternating key-value fields.
func Info(msg string, fields ...any) { std.log(INFO, msg, fields) }

// Warn logs at WARN with alternating key-value fields.
func Warn(msg string, fields ...any) { std.log(WARN, msg, fields) }

// Error logs at ERROR with alternating key-value fields.
func Error(msg string, fields ...any) { std.log(ERROR, msg, fields) }

func (l *jsonLogger) log(level Level, msg string, fields []any) {
	if level < l.level {
		return
	}

	entry := map[string]any{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": levelNames[level],
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		val := fmt.Sprintf("%v", fields[i+1])
		if l.redactPII {
			val = redactField(key, val)
		}
		entry[key] = val
	}

	line, _ := json.Marshal(entry)
	l.mu.Lock()
	fmt.Fprintln(os.Stderr, string(line))
	l.mu.Unlock()
}

var emailRE = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// redactField masks values whose key names an address field, and scrubs
// embedded email addresses out of everything else.
func redactField(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") {
		return RedactEmail(val)
	}
	if strings.Contains(key, "phone") {
		return RedactPhone(val)
	}
	return emailRE.ReplaceAllStringFunc(val, RedactEmail)
}
