package goplus

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/utrading/utrading-agent-hub/pkg/logger"
)

// Recover 捕获 panic 并记录调用栈，须在 defer 中直接调用
func Recover() {
	if r := recover(); r != nil {
		logger.Error().Str("stack", callers(3)).Msg(fmt.Sprintf("panic: %v", r))
	}
}

// callers 返回从 skip 开始的调用栈，最多 32 层
func callers(skip int) string {
	var sb strings.Builder
	for i := skip; i < skip+32; i++ {
		_, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		sb.WriteString(fmt.Sprintf("%s:%d\n", file, line))
	}
	return sb.String()
}
