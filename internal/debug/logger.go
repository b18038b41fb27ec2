// Package debug writes per-run request/frame traces to disk when debugging
// is enabled. All methods are safe on a nil or disabled logger.
package debug

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const logRoot = "debug-logs"

type Logger struct {
	enabled   bool
	dir       string
	mu        sync.Mutex
	file      *os.File
	startTime time.Time
}

func New(enabled bool) *Logger {
	if !enabled {
		return &Logger{}
	}
	dir := filepath.Join(logRoot, time.Now().Format("2006-01-02_15-04-05"))
	os.MkdirAll(dir, 0755)
	return &Logger{enabled: true, dir: dir, startTime: time.Now()}
}

// CleanupAllLogs removes previous trace directories, called once at startup.
func CleanupAllLogs() {
	os.RemoveAll(logRoot)
	os.MkdirAll(logRoot, 0755)
}

func (l *Logger) Dir() string {
	if l == nil || !l.enabled {
		return ""
	}
	return l.dir
}

func (l *Logger) write(line string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		f, err := os.OpenFile(filepath.Join(l.dir, "trace.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return
		}
		l.file = f
	}
	elapsed := time.Since(l.startTime).Milliseconds()
	fmt.Fprintf(l.file, "[%6dms] %s\n", elapsed, line)
}

// LogIncomingRequest records the decoded caller request.
func (l *Logger) LogIncomingRequest(req interface{}) {
	if l == nil || !l.enabled {
		return
	}
	data, err := json.Marshal(req)
	if err != nil {
		return
	}
	l.write("REQUEST " + string(data))
}

// LogTriggerRequest records the out-of-band trigger call.
func (l *Logger) LogTriggerRequest(url string, body string) {
	if l == nil || !l.enabled {
		return
	}
	l.write("TRIGGER " + url + " " + body)
}

// LogUpstreamFrame records one raw frame off the Canvas feed.
func (l *Logger) LogUpstreamFrame(frame string) {
	if l == nil || !l.enabled {
		return
	}
	l.write("FRAME " + frame)
}

// LogOutputSSE records one frame written to the caller's event stream.
func (l *Logger) LogOutputSSE(data string) {
	if l == nil || !l.enabled {
		return
	}
	l.write("SSE " + data)
}

func (l *Logger) Close() {
	if l == nil || !l.enabled {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
