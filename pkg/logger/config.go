package logger

import "github.com/rs/zerolog"

const (
	DEBUG = "debug"
	INFO  = "info"
	WARN  = "warn"
	ERROR = "error"
	FATAL = "fatal"
)

// parseLevel 解析等级名称，未知等级按 info 处理
func parseLevel(name string) zerolog.Level {
	switch name {
	case DEBUG, "DEBUG":
		return zerolog.DebugLevel
	case WARN, "WARN":
		return zerolog.WarnLevel
	case ERROR, "ERROR":
		return zerolog.ErrorLevel
	case FATAL, "FATAL":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// LevelFile 单个等级对应的日志文件
type LevelFile struct {
	Level string
	Path  string
}

// Config 日志配置
type Config struct {
	LevelFiles []LevelFile // 为空时只写 logs/info.log
	MaxSize    int         // 单文件最大 MB
	MaxBackups int         // 旧文件保留个数
	MaxAge     int         // 旧文件保留天数
	Level      string
	Compress   bool
	Console    bool
}

// DefaultConfig 默认写 err.log 和 info.log 两个文件
func DefaultConfig() Config {
	return Config{
		LevelFiles: []LevelFile{
			{Level: ERROR, Path: "logs/err.log"},
			{Level: INFO, Path: "logs/info.log"},
		},
		MaxSize:    10,
		MaxBackups: 100,
		MaxAge:     5,
		Level:      INFO,
	}
}

type Builder struct {
	config      Config
	customFiles bool
}

func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) SetMaxSize(size int) *Builder {
	b.config.MaxSize = size
	return b
}

func (b *Builder) SetMaxBackups(backups int) *Builder {
	b.config.MaxBackups = backups
	return b
}

func (b *Builder) SetMaxAge(days int) *Builder {
	b.config.MaxAge = days
	return b
}

func (b *Builder) SetLevel(level string) *Builder {
	b.config.Level = level
	return b
}

func (b *Builder) EnableCompression(enable bool) *Builder {
	b.config.Compress = enable
	return b
}

func (b *Builder) EnableConsoleOutput(enable bool) *Builder {
	b.config.Console = enable
	return b
}

// AddLevelFile 添加等级文件，第一次调用会覆盖默认文件列表
func (b *Builder) AddLevelFile(level, path string) *Builder {
	if !b.customFiles {
		b.config.LevelFiles = nil
		b.customFiles = true
	}
	b.config.LevelFiles = append(b.config.LevelFiles, LevelFile{Level: level, Path: path})
	return b
}

func (b *Builder) Build() error {
	return initLogger(b.config)
}
