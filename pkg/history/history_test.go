package history

import (
	"PICs_Importer/internal/models"
	"PICs_Importer/internal/session"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestSanitizeDestName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/mnt/nas/Photos", "Photos"},
		{"/mnt/nas/My Photos (2024)", "My-Photos-2024"},
		{"/mnt/nas/照片库", "Zhao-Pian-Ku"},
		{"/mnt/nas/---", "dest"},
		{"/mnt/nas/a__b-c", "a__b-c"},
	}
	for _, c := range cases {
		if got := sanitizeDestName(c.in); got != c.want {
			t.Errorf("sanitizeDestName(%q) = %q, 期望 %q", c.in, got, c.want)
		}
	}
}

func TestRunFolderNameCollision(t *testing.T) {
	historyDir := t.TempDir()
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

	base := runFolderNameFor(historyDir, "/mnt/Photos", now)
	if base != "2024-03-05+Photos" {
		t.Fatalf("基础文件夹名不对: %s", base)
	}

	// 空文件夹直接复用
	if err := os.MkdirAll(filepath.Join(historyDir, base), 0755); err != nil {
		t.Fatal(err)
	}
	if got := runFolderNameFor(historyDir, "/mnt/Photos", now); got != base {
		t.Errorf("空文件夹应复用，得到 %s", got)
	}

	// 非空文件夹顺延计数器，且计数器始终接在基础名后
	if err := os.WriteFile(filepath.Join(historyDir, base, "import.log"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := runFolderNameFor(historyDir, "/mnt/Photos", now); got != base+"-01" {
		t.Errorf("首次冲突应得到 -01 后缀，得到 %s", got)
	}
	if err := os.MkdirAll(filepath.Join(historyDir, base+"-01"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(historyDir, base+"-01", "import.log"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if got := runFolderNameFor(historyDir, "/mnt/Photos", now); got != base+"-02" {
		t.Errorf("二次冲突应得到 -02 后缀，得到 %s", got)
	}
}

func TestManagerRealRun(t *testing.T) {
	rootDir := t.TempDir()
	sess := session.New("/src", "/mnt/Photos", "move", false)

	m, err := NewManager(rootDir, "/mnt/Photos", sess)
	if err != nil {
		t.Fatalf("创建历史管理器失败: %v", err)
	}

	if _, err := os.Stat(m.RunFolder()); err != nil {
		t.Fatalf("真实运行应创建历史文件夹: %v", err)
	}

	unsorted, err := m.AreaDir(AreaUnsorted)
	if err != nil {
		t.Fatalf("获取 Unsorted 分区失败: %v", err)
	}
	if _, err := os.Stat(unsorted); err != nil {
		t.Errorf("分区目录应在首次使用时创建: %v", err)
	}

	m.Record(models.TransferRecord{
		Source:      "/src/a.jpg",
		Destination: "/dst/2024/03/20240305_100000_000.jpg",
		Outcome:     models.OutcomeMoved,
		When:        time.Now(),
	})
	m.Record(models.TransferRecord{
		Source:  "/src/b.jpg",
		Outcome: models.OutcomeSkippedDuplicate,
		Reason:  "与既有文件完全重复",
		When:    time.Now(),
	})
	m.Close()

	audit, err := os.ReadFile(filepath.Join(m.RunFolder(), importLogFileName))
	if err != nil {
		t.Fatalf("读取审计日志失败: %v", err)
	}
	content := string(audit)
	if !strings.Contains(content, "/src/a.jpg -> /dst/2024/03/20240305_100000_000.jpg") {
		t.Errorf("审计日志缺少传输记录:\n%s", content)
	}
	if !strings.Contains(content, sess.ShortID()) {
		t.Errorf("审计日志应带会话标识:\n%s", content)
	}
	if !strings.Contains(content, "与既有文件完全重复") {
		t.Errorf("审计日志应带跳过原因:\n%s", content)
	}

	if err := m.WriteSummary(Summary{
		Success: true, Source: "/src", Destination: "/mnt/Photos",
		TotalFiles: 2, Photos: 2, SizeMB: 1.5, Duplicates: 1,
	}); err != nil {
		t.Fatalf("写入汇总失败: %v", err)
	}
	summary, err := os.ReadFile(filepath.Join(rootDir, importsAuditLogName))
	if err != nil {
		t.Fatalf("读取累计日志失败: %v", err)
	}
	line := string(summary)
	if !strings.Contains(line, "SUCCESS") || !strings.Contains(line, "Duplicates: 1") {
		t.Errorf("汇总行内容不对: %s", line)
	}
	if !strings.Contains(line, m.RunFolderName()) {
		t.Errorf("汇总行应包含历史文件夹名: %s", line)
	}
}

func TestManagerDryRunWritesNothing(t *testing.T) {
	rootDir := t.TempDir()
	sess := session.New("/src", "/mnt/Photos", "move", true)

	m, err := NewManager(rootDir, "/mnt/Photos", sess)
	if err != nil {
		t.Fatalf("创建历史管理器失败: %v", err)
	}
	defer m.Close()

	if _, err := m.AreaDir(AreaUnsorted); err != nil {
		t.Fatalf("干跑获取分区路径失败: %v", err)
	}
	m.Record(models.TransferRecord{Source: "/src/a.jpg", Outcome: models.OutcomeMoved})
	if err := m.WriteSummary(Summary{Success: true}); err != nil {
		t.Fatalf("干跑写汇总不应报错: %v", err)
	}

	// 干跑不允许在磁盘上留下任何痕迹
	entries, err := os.ReadDir(rootDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("干跑不应创建任何文件或目录: %v", entries)
	}
}
