// Package logger emits structured JSON log lines to stderr. Recipient
// addresses are masked before they reach the output, so campaign events
// can be logged without leaking who was mailed.
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

var mu sync.Mutex

// Info logs an operational event with alternating key, value fields.
func Info(msg string, fields ...interface{}) { emit("INFO", msg, fields...) }

// Warn logs a recoverable anomaly with alternating key, value fields.
func Warn(msg string, fields ...interface{}) { emit("WARN", msg, fields...) }

// Error logs a failure with alternating key, value fields.
func Error(msg string, fields ...interface{}) { emit("ERROR", msg, fields...) }

func emit(level, msg string, fields ...interface{}) {
	entry := map[string]interface{}{
		"time":  time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"msg":   msg,
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		entry[key] = redactField(key, fmt.Sprintf("%v", fields[i+1]))
	}

	line, _ := json.Marshal(entry)
	mu.Lock()
	fmt.Fprintln(os.Stderr, string(line))
	mu.Unlock()
}

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)

// redactField masks addresses on their way into a log entry. Fields
// named for an address are masked whole; any other field has embedded
// addresses masked in place.
func redactField(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "email") || strings.Contains(key, "recipient") || strings.Contains(key, "address") {
		return RedactEmail(val)
	}
	return emailPattern.ReplaceAllStringFunc(val, RedactEmail)
}
