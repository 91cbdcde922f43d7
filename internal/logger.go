package internal

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

var levelNames = [...]string{"ERROR", "WARN", "INFO", "DEBUG"}

func (l LogLevel) String() string {
	if l < LogLevelError || l > LogLevelDebug {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// redaction rewrites one class of secret found in CZDS traffic
type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Authenticate bodies carry the password, their responses the JWT, and every
// later call repeats the JWT in a bearer header.
var czdsRedactions = []redaction{
	{regexp.MustCompile(`(?i)(bearer\s+)[^\s"',;]+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)((?:authorization|cookie|set-cookie):\s*)[^\r\n;]+`), "${1}[REDACTED]"},
	{regexp.MustCompile(`(?i)("(?:password|accessToken)"\s*:\s*")[^"]*(")`), "${1}[REDACTED]${2}"},
	{regexp.MustCompile(`(?i)((?:access_token|token|key|secret|password|pwd)=)[^&\s]+`), "${1}[REDACTED]"},
}

// SecureLogger writes levelled, timestamped lines with credentials scrubbed.
// It is safe for concurrent use by the download workers.
type SecureLogger struct {
	mutex sync.Mutex
	out   io.Writer
	level LogLevel
	debug bool
	quiet bool
	now   func() time.Time
}

// NewSecureLogger creates a logger writing to output. Debug mode raises the
// level to DEBUG and adds the caller; quiet mode keeps only errors.
func NewSecureLogger(output io.Writer, level LogLevel, debug, quiet bool) *SecureLogger {
	if debug && level < LogLevelDebug {
		level = LogLevelDebug
	}
	return &SecureLogger{out: output, level: level, debug: debug, quiet: quiet, now: time.Now}
}

func redact(input string) string {
	for _, r := range czdsRedactions {
		input = r.pattern.ReplaceAllString(input, r.replacement)
	}
	return input
}

func (sl *SecureLogger) enabled(level LogLevel) bool {
	if sl.quiet {
		return level == LogLevelError
	}
	return level <= sl.level
}

// callerOutsideLogger finds the first frame that is not part of the logging helpers
func callerOutsideLogger() (string, int) {
	for skip := 3; skip < 8; skip++ {
		_, file, line, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		base := filepath.Base(file)
		if filepath.Base(filepath.Dir(file)) == "internal" && (base == "logger.go" || base == "log.go") {
			continue
		}
		return base, line
	}
	return "", 0
}

func (sl *SecureLogger) write(level LogLevel, format string, args []interface{}) {
	if !sl.enabled(level) {
		return
	}

	var b strings.Builder
	b.WriteString(sl.now().Format("2006-01-02 15:04:05"))
	b.WriteByte(' ')
	b.WriteString(level.String())
	if sl.debug {
		if file, line := callerOutsideLogger(); file != "" {
			fmt.Fprintf(&b, " %s:%d", file, line)
		}
	}
	b.WriteByte(' ')
	b.WriteString(redact(fmt.Sprintf(format, args...)))
	b.WriteByte('\n')

	sl.mutex.Lock()
	defer sl.mutex.Unlock()
	io.WriteString(sl.out, b.String())
}

func (sl *SecureLogger) Error(format string, args ...interface{}) {
	sl.write(LogLevelError, format, args)
}

func (sl *SecureLogger) Warn(format string, args ...interface{}) {
	sl.write(LogLevelWarn, format, args)
}

func (sl *SecureLogger) Info(format string, args ...interface{}) {
	sl.write(LogLevelInfo, format, args)
}

func (sl *SecureLogger) Debug(format string, args ...interface{}) {
	sl.write(LogLevelDebug, format, args)
}

// LogHTTPRequest traces an outgoing CZDS call at DEBUG
func (sl *SecureLogger) LogHTTPRequest(req *http.Request) {
	if !sl.enabled(LogLevelDebug) {
		return
	}
	sl.Debug("--> %s %s %s", req.Method, req.URL.String(), formatHeaders(req.Header))
}

// LogHTTPResponse traces the answer to a CZDS call at DEBUG
func (sl *SecureLogger) LogHTTPResponse(resp *http.Response, elapsed time.Duration) {
	if !sl.enabled(LogLevelDebug) {
		return
	}
	target := ""
	if resp.Request != nil {
		target = resp.Request.URL.String()
	}
	sl.Debug("<-- %s %s (%v) %s", resp.Status, target, elapsed.Round(time.Millisecond), formatHeaders(resp.Header))
}

var sensitiveHeaderFragments = []string{"authorization", "cookie", "token", "api-key"}

// isSensitiveHeaderName reports whether a header may carry credentials
func isSensitiveHeaderName(name string) bool {
	lower := strings.ToLower(name)
	for _, fragment := range sensitiveHeaderFragments {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}
