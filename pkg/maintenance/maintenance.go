package maintenance

import (
	"PICs_Importer/pkg/hasher"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"
)

const maintenanceLogFileName = "maintenance.log"

// Maintenance 定义了归档库离线维护工具的接口
type Maintenance interface {
	GenerateArchiveManifest(ctx context.Context, libraryPath, outputPath string) (string, error)
	Close()
}

type defaultMaintenance struct {
	logger     *log.Logger
	logFile    *os.File
	numWorkers int
}

// NewMaintenance 创建一个新的维护模块实例
func NewMaintenance(logDir string, workerCount int) (Maintenance, error) {
	logFilePath := filepath.Join(logDir, maintenanceLogFileName)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化维护模块日志: %w", err)
	}
	logger := log.New(file, "MAINTENANCE: ", log.LstdFlags|log.Lshortfile)
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	return &defaultMaintenance{
		logger:     logger,
		logFile:    file,
		numWorkers: workerCount,
	}, nil
}

func (m *defaultMaintenance) Close() {
	if m.logFile != nil {
		m.logger.Println("================== 维护任务结束 ==================")
		m.logFile.Close()
	}
}

// GenerateArchiveManifest 并发地为归档库生成完整性清单：
// 每行 "哈希  相对路径"，按路径排序，可直接交给 sha256sum -c 复核。
// 返回清单文件的完整路径。
func (m *defaultMaintenance) GenerateArchiveManifest(ctx context.Context, libraryPath, outputPath string) (string, error) {
	m.logger.Println("--- 开始生成归档完整性清单 ---")

	manifestFileName := fmt.Sprintf("manifest_%s.txt", time.Now().Format("2006-01-02"))
	manifestPath := filepath.Join(outputPath, manifestFileName)
	m.logger.Printf("清单文件将被保存到: %s", manifestPath)

	var wg sync.WaitGroup
	tasks := make(chan string, m.numWorkers)
	results := make(chan manifestEntry, m.numWorkers)

	for i := 0; i < m.numWorkers; i++ {
		wg.Add(1)
		go m.manifestWorker(&wg, libraryPath, tasks, results)
	}

	// 单独的协程收集结果，最后统一排序落盘
	var entries []manifestEntry
	var collectWg sync.WaitGroup
	collectWg.Add(1)
	go func() {
		defer collectWg.Done()
		for e := range results {
			entries = append(entries, e)
		}
	}()

	m.logger.Println("开始扫描归档库并分发任务...")
	err := filepath.WalkDir(libraryPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !d.IsDir() {
			tasks <- path
		}
		return nil
	})

	close(tasks)
	wg.Wait()
	close(results)
	collectWg.Wait()

	if err != nil {
		return "", fmt.Errorf("扫描归档库失败: %w", err)
	}

	// 按相对路径排序，让两次清单可以直接 diff
	sort.Slice(entries, func(i, j int) bool { return entries[i].rel < entries[j].rel })

	file, err := os.Create(manifestPath)
	if err != nil {
		return "", fmt.Errorf("无法创建清单文件: %w", err)
	}
	defer file.Close()
	for _, e := range entries {
		if _, err := fmt.Fprintf(file, "%s  %s\n", e.hash, e.rel); err != nil {
			return "", fmt.Errorf("写入清单文件失败: %w", err)
		}
	}

	m.logger.Printf("--- 清单生成完毕，共 %d 个文件 ---", len(entries))
	return manifestPath, nil
}

type manifestEntry struct {
	rel  string
	hash string
}

// manifestWorker 计算哈希并产出 sha256sum 兼容的清单条目
func (m *defaultMaintenance) manifestWorker(wg *sync.WaitGroup, libraryPath string, tasks <-chan string, results chan<- manifestEntry) {
	defer wg.Done()
	for path := range tasks {
		hash, err := hasher.CalculateSHA256(path)
		if err != nil {
			m.logger.Printf("警告: 计算文件 %s 的哈希失败: %v", path, err)
			continue
		}
		relPath, err := filepath.Rel(libraryPath, path)
		if err != nil {
			relPath = filepath.Base(path)
		}
		results <- manifestEntry{rel: filepath.ToSlash(relPath), hash: hash}
	}
}
