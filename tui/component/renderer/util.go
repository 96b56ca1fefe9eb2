package renderer

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Truncate 按字符截断字符串，超出部分用省略号代替
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if maxLen <= 0 || len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen-1]) + "…"
}

// FormatSources 把来源路径压缩成一行，只保留文件名
func FormatSources(sources []string, maxLen int) string {
	names := make([]string, len(sources))
	for i, src := range sources {
		names[i] = filepath.Base(src)
	}
	return Truncate(strings.Join(names, ", "), maxLen)
}

// FormatDuration 格式化时间间隔
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}
