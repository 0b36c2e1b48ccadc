package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rs/zerolog/pkgerrors"
	"gopkg.in/natefinch/lumberjack.v2"
)

const TimeFormat = "2006-01-02 15:04:05"

var (
	logMu   sync.Mutex
	writers map[string]*lumberjack.Logger
	closed  chan struct{}
)

func initLogger(config Config) error {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.SetGlobalLevel(parseLevel(config.Level))

	if len(config.LevelFiles) == 0 {
		config.LevelFiles = []LevelFile{{Level: INFO, Path: "logs/info.log"}}
	}
	for _, f := range config.LevelFiles {
		if err := os.MkdirAll(filepath.Dir(f.Path), 0755); err != nil {
			return err
		}
	}

	setWriters(config)

	closed = make(chan struct{})
	go rotateDaily(config)
	return nil
}

func setWriters(config Config) {
	// 已配置等级的位掩码，未配置的等级回落到 info 文件
	var configured uint8
	for _, f := range config.LevelFiles {
		configured |= 1 << parseLevel(f.Level)
	}

	outs := make([]io.Writer, 0, len(config.LevelFiles)+1)
	files := make(map[string]*lumberjack.Logger, len(config.LevelFiles))
	for _, f := range config.LevelFiles {
		lj := &lumberjack.Logger{
			Filename:   f.Path,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}
		files[f.Level] = lj
		outs = append(outs, &levelWriter{
			level:      parseLevel(f.Level),
			configured: configured,
			Writer:     &zerolog.ConsoleWriter{Out: lj, TimeFormat: TimeFormat, NoColor: true},
		})
	}
	if config.Console {
		outs = append(outs, &zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: TimeFormat})
	}

	logMu.Lock()
	defer logMu.Unlock()
	closeWriters()
	writers = files
	log.Logger = zerolog.New(zerolog.MultiLevelWriter(outs...)).With().Timestamp().Caller().Logger()
}

// levelWriter 只写入自身等级；info 文件兜底未配置的等级，error 文件兜底 fatal
type levelWriter struct {
	level      zerolog.Level
	configured uint8
	io.Writer
}

func (w *levelWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level == w.level {
		return w.Writer.Write(p)
	}
	unconfigured := w.configured&(1<<level) == 0
	switch w.level {
	case zerolog.InfoLevel:
		if unconfigured && level != zerolog.FatalLevel {
			return w.Writer.Write(p)
		}
	case zerolog.ErrorLevel:
		if level == zerolog.FatalLevel && unconfigured {
			return w.Writer.Write(p)
		}
	}
	return len(p), nil
}

func closeWriters() {
	for level, lj := range writers {
		if err := lj.Close(); err != nil {
			log.Logger.Err(err).Str("level", level).Msg("close log writer failed")
		}
	}
	writers = nil
}

// rotateDaily 每天零点轮转所有文件
func rotateDaily(config Config) {
	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
		timer := time.NewTimer(next.Sub(now))
		select {
		case <-closed:
			timer.Stop()
			return
		case <-timer.C:
			logMu.Lock()
			for level, lj := range writers {
				if err := lj.Rotate(); err != nil {
					log.Logger.Err(err).Str("level", level).Msg("rotate log file failed")
				}
			}
			logMu.Unlock()
		}
	}
}

func Info() *zerolog.Event  { return log.Logger.Info() }
func Debug() *zerolog.Event { return log.Logger.Debug() }
func Warn() *zerolog.Event  { return log.Logger.Warn() }
func Error() *zerolog.Event { return log.Logger.Error() }
func Fatal() *zerolog.Event { return log.Logger.Fatal() }

// Err 按 err 是否为空选择 error/info 等级
func Err(err error) *zerolog.Event { return log.Logger.Err(err) }

// Infof 格式化 info 日志
func Infof(format string, args ...any) {
	log.Logger.Info().CallerSkipFrame(1).Msg(fmt.Sprintf(format, args...))
}

// Warnf 格式化 warn 日志
func Warnf(format string, args ...any) {
	log.Logger.Warn().CallerSkipFrame(1).Msg(fmt.Sprintf(format, args...))
}

// With 返回带公共字段的子 logger
func With() zerolog.Context {
	return log.Logger.With()
}

// Close 关闭日志文件
func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if closed != nil {
		select {
		case <-closed:
		default:
			close(closed)
		}
	}
	closeWriters()
}
