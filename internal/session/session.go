package session

import (
	"time"

	"github.com/google/uuid"
)

// Status 定义了一次导入运行可能的最终状态。
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Session 结构体代表一次导入运行，贯穿历史记录和汇总统计。
type Session struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Destination string     `json:"destination"`
	Mode        string     `json:"mode"`
	DryRun      bool       `json:"dryRun"`
	Status      Status     `json:"status"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}

// New 创建一个新的运行会话并立即进入 running 状态。
func New(source, destination, mode string, dryRun bool) *Session {
	return &Session{
		ID:          uuid.New().String(),
		Source:      source,
		Destination: destination,
		Mode:        mode,
		DryRun:      dryRun,
		Status:      StatusRunning,
		StartTime:   time.Now(),
	}
}

// Finish 记录运行的最终状态和结束时间。
func (s *Session) Finish(status Status) {
	now := time.Now()
	s.EndTime = &now
	s.Status = status
}

// Duration 返回运行耗时，未结束时按当前时间计算。
func (s *Session) Duration() time.Duration {
	if s.EndTime != nil {
		return s.EndTime.Sub(s.StartTime)
	}
	return time.Since(s.StartTime)
}

// ShortID 返回适合放进日志行的短标识。
func (s *Session) ShortID() string {
	if len(s.ID) >= 8 {
		return s.ID[:8]
	}
	return s.ID
}
