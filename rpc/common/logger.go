package common

import (
	"fmt"
	"log"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
)

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger)
// --------------------------------------------------------------------------

// ddocLogger writes "LEVEL | name | message" lines
type ddocLogger struct {
	name   string
	level  logger.LogLevel
	logger *log.Logger
}

func (l *ddocLogger) SetLevel(level logger.LogLevel) {
	l.level = level
}

func (l *ddocLogger) Debugf(format string, args ...interface{}) {
	if l.level >= logger.DEBUG {
		l.log("DEBUG", format, args...)
	}
}

func (l *ddocLogger) Infof(format string, args ...interface{}) {
	if l.level >= logger.INFO {
		l.log("INFO", format, args...)
	}
}

func (l *ddocLogger) Warningf(format string, args ...interface{}) {
	if l.level >= logger.WARNING {
		l.log("WARN", format, args...)
	}
}

func (l *ddocLogger) Errorf(format string, args ...interface{}) {
	if l.level >= logger.ERROR {
		l.log("ERROR", format, args...)
	}
}

func (l *ddocLogger) Panicf(format string, args ...interface{}) {
	if l.level >= logger.CRITICAL {
		panic(fmt.Sprintf(format, args...))
	}
}

func (l *ddocLogger) log(levelStr string, format string, args ...interface{}) {
	l.logger.Printf("%-5s | %-15s | %s", levelStr, l.name, fmt.Sprintf(format, args...))
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// CreateLogger is the logger.Factory of the project. Log lines go to stderr, so the
// output of the doc and bench commands on stdout stays machine readable.
func CreateLogger(pkgName string) logger.ILogger {
	return &ddocLogger{
		name:   pkgName,
		level:  logger.INFO,
		logger: log.New(os.Stderr, "", log.Ldate|log.Ltime),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// ParseLogLevel converts a level name (debug, info, warn, error) to a logger.LogLevel
func ParseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info", "":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// dragonboatLoggers are the loggers of the raft library
var dragonboatLoggers = []string{"raft", "raftdb", "rsm", "transport", "dragonboat", "grpc", "util", "logdb"}

// projectLoggers are the loggers of this module
var projectLoggers = []string{"store", "transport/rpc", "rpc", "bench", "update", "query", "docdb"}

var installFactory sync.Once

// InitLoggers installs the custom logger factory and sets the level of all known loggers.
// Dragonboat is kept one level quieter than the project loggers unless debugging.
func InitLoggers(level string) error {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return err
	}

	installFactory.Do(func() {
		logger.SetLoggerFactory(CreateLogger)
	})

	raftLvl := lvl
	if lvl == logger.INFO {
		raftLvl = logger.WARNING
	}
	for _, name := range dragonboatLoggers {
		logger.GetLogger(name).SetLevel(raftLvl)
	}
	for _, name := range projectLoggers {
		logger.GetLogger(name).SetLevel(lvl)
	}
	return nil
}
