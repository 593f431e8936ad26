package history

import (
	"PICs_Importer/internal/models"
	"PICs_Importer/internal/session"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/mozillazg/go-unidecode"
)

// Area 是历史记录下的归档分区名。
type Area string

const (
	AreaUnsorted     Area = "Unsorted"
	AreaMetadata     Area = "Metadata"
	AreaLegacyVideos Area = "LegacyVideos"
	AreaUnknownFiles Area = "UnknownFiles"
)

const importLogFileName = "import.log"
const importsAuditLogName = "imports.log"

var (
	nonWordPattern  = regexp.MustCompile(`[^\w\-]+`)
	multiDashFilter = regexp.MustCompile(`-+`)
)

// Summary 是一次运行写进累计审计日志的汇总数据。
type Summary struct {
	Success     bool
	Source      string
	Destination string
	TotalFiles  int
	Photos      int
	Videos      int
	Metadata    int
	SizeMB      float64
	Duplicates  int
	Unsorted    int
	Converted   int
}

// Manager 管理程序根目录下的导入历史：每次运行一个历史文件夹、
// 文件夹内的逐文件审计日志、以及根目录下的累计汇总日志。
// 归档分区的目录命名完全由这里决定，引擎只拿路径。
type Manager interface {
	RunFolder() string
	RunFolderName() string
	AreaDir(area Area) (string, error)
	Record(rec models.TransferRecord)
	WriteSummary(s Summary) error
	Close()
}

type defaultManager struct {
	rootDir       string
	runFolder     string
	runFolderName string
	dryRun        bool
	sess          *session.Session
	logger        *log.Logger
	logFile       *os.File
}

// NewManager 为一次运行准备历史文件夹。干跑模式下只计算路径，
// 不创建任何目录、不写任何日志。
func NewManager(rootDir, destPath string, sess *session.Session) (Manager, error) {
	historyDir := filepath.Join(rootDir, "history")
	folderName := runFolderNameFor(historyDir, destPath, time.Now())
	runFolder := filepath.Join(historyDir, folderName)

	m := &defaultManager{
		rootDir:       rootDir,
		runFolder:     runFolder,
		runFolderName: folderName,
		dryRun:        sess.DryRun,
		sess:          sess,
	}

	if sess.DryRun {
		m.logger = log.New(io.Discard, "", 0)
		return m, nil
	}

	if err := os.MkdirAll(runFolder, 0755); err != nil {
		return nil, fmt.Errorf("创建历史文件夹失败: %w", err)
	}
	file, err := os.OpenFile(filepath.Join(runFolder, importLogFileName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化导入审计日志: %w", err)
	}
	m.logFile = file
	m.logger = log.New(file, "", log.LstdFlags)
	m.logger.Printf("[%s] 运行开始: %s -> %s (模式 %s)", sess.ShortID(), sess.Source, sess.Destination, sess.Mode)
	return m, nil
}

// sanitizeDestName 把目标目录名压缩成安全的文件夹片段：
// 先音译成 ASCII，再把非单词字符折叠成连字符。
func sanitizeDestName(destPath string) string {
	name := unidecode.Unidecode(filepath.Base(destPath))
	name = nonWordPattern.ReplaceAllString(name, "-")
	name = multiDashFilter.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-")
	if name == "" {
		return "dest"
	}
	return name
}

// runFolderNameFor 生成 {日期}+{目标名} 形式的文件夹名。
// 已存在且非空时在基础名后追加 -01、-02 递增，空文件夹直接复用。
func runFolderNameFor(historyDir, destPath string, now time.Time) string {
	base := fmt.Sprintf("%s+%s", now.Format("2006-01-02"), sanitizeDestName(destPath))
	name := base
	for counter := 1; ; counter++ {
		candidate := filepath.Join(historyDir, name)
		entries, err := os.ReadDir(candidate)
		if err != nil || len(entries) == 0 {
			return name
		}
		name = fmt.Sprintf("%s-%02d", base, counter)
	}
}

func (m *defaultManager) RunFolder() string {
	return m.runFolder
}

func (m *defaultManager) RunFolderName() string {
	return m.runFolderName
}

// AreaDir 返回分区目录路径，真实运行时在首次使用时创建。
func (m *defaultManager) AreaDir(area Area) (string, error) {
	dir := filepath.Join(m.runFolder, string(area))
	if m.dryRun {
		return dir, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("创建 %s 分区失败: %w", area, err)
	}
	return dir, nil
}

// Record 把一条传输结果写进本次运行的审计日志。
func (m *defaultManager) Record(rec models.TransferRecord) {
	line := fmt.Sprintf("[%s] %s: %s -> %s", m.sess.ShortID(), rec.Outcome, rec.Source, rec.Destination)
	if rec.Destination == "" {
		line = fmt.Sprintf("[%s] %s: %s", m.sess.ShortID(), rec.Outcome, rec.Source)
	}
	if rec.Reason != "" {
		line += " (" + rec.Reason + ")"
	}
	m.logger.Println(line)
}

// WriteSummary 把一行管道分隔的运行汇总追加到根目录的累计日志。
// 干跑不落盘。
func (m *defaultManager) WriteSummary(s Summary) error {
	if m.dryRun {
		return nil
	}
	if err := os.MkdirAll(m.rootDir, 0755); err != nil {
		return fmt.Errorf("创建程序根目录失败: %w", err)
	}

	status := "SUCCESS"
	if !s.Success {
		status = "PARTIAL"
	}
	converted := ""
	if s.Converted > 0 {
		converted = fmt.Sprintf(" | Converted: %d videos", s.Converted)
	}
	line := fmt.Sprintf("%s | %s | Source: %s | Dest: %s | Files: %d (%d photos, %d videos, %d metadata) | Size: %.1fMB | Duplicates: %d | Unsorted: %d%s | History: %s\n",
		time.Now().Format("2006-01-02 15:04:05"), status,
		s.Source, s.Destination,
		s.TotalFiles, s.Photos, s.Videos, s.Metadata,
		s.SizeMB, s.Duplicates, s.Unsorted, converted, m.runFolderName)

	f, err := os.OpenFile(filepath.Join(m.rootDir, importsAuditLogName), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return fmt.Errorf("打开累计审计日志失败: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(line); err != nil {
		return fmt.Errorf("写入累计审计日志失败: %w", err)
	}
	return nil
}

func (m *defaultManager) Close() {
	if m.logFile != nil {
		m.logger.Printf("[%s] 运行结束", m.sess.ShortID())
		m.logFile.Close()
	}
}
