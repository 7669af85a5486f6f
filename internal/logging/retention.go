package logging

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// dailyLogPattern matches the files written by NewFromConfig.
const dailyLogPattern = "bomatch-*.log"

// DailyLogName returns the log file name used for the given day.
func DailyLogName(day time.Time) string {
	return "bomatch-" + day.Format("2006-01-02") + ".log"
}

// PruneLogs removes daily log files in dir whose modification time is older
// than retentionDays. The active file is never removed and retentionDays <= 0
// disables pruning. It returns the number of files removed.
func PruneLogs(logger *slog.Logger, dir string, retentionDays int, active string) int {
	if retentionDays <= 0 || dir == "" {
		return 0
	}
	if logger == nil {
		logger = NewNop()
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	activeAbs, _ := filepath.Abs(active)

	matches, err := filepath.Glob(filepath.Join(dir, dailyLogPattern))
	if err != nil {
		return 0
	}
	removed := 0
	for _, path := range matches {
		if abs, err := filepath.Abs(path); err == nil && abs == activeAbs {
			continue
		}
		info, err := os.Stat(path)
		if err != nil || info.IsDir() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(path); err != nil {
			logger.Warn("log retention remove failed; file remains",
				String("path", path),
				Error(err),
				Alert("log_retention_failed"),
			)
			continue
		}
		removed++
		logger.Debug("log pruned", String("path", path))
	}
	return removed
}
