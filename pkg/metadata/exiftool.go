package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
)

const extractorLogFileName = "metadata.log"

// Record 是一个文件的类型化元数据标签集合。
// 所有字段都是 exiftool 原样输出的字符串，空串表示该标签不存在；
// 取值的优先级判断集中在时间解析器里，不在这里做。
type Record struct {
	SourceFile        string `json:"SourceFile"`
	SubSecCreateDate  string `json:"SubSecCreateDate,omitempty"`
	CreationDate      string `json:"CreationDate,omitempty"`
	CreateDate        string `json:"CreateDate,omitempty"`
	CreationTime      string `json:"CreationTime,omitempty"`
	ProfileDateTime   string `json:"ProfileDateTime,omitempty"`
	DateTimeOriginal  string `json:"DateTimeOriginal,omitempty"`
	ContentIdentifier string `json:"ContentIdentifier,omitempty"`
}

// HasDate 报告该记录是否带有任何一个创建时间标签。
func (r Record) HasDate() bool {
	return r.SubSecCreateDate != "" || r.CreationDate != "" || r.CreateDate != "" ||
		r.CreationTime != "" || r.ProfileDateTime != "" || r.DateTimeOriginal != ""
}

// Extractor 定义了批量元数据提取器的行为接口。
// exiftool 不可用时 Extract 返回空结果，依赖它的逻辑按约定降级。
type Extractor interface {
	Extract(ctx context.Context, paths []string) map[string]Record
	Available() bool
	Close()
}

type exiftoolExtractor struct {
	bin        string
	numWorkers int
	batchSize  int
	available  bool
	logger     *log.Logger
	logFile    *os.File
}

// NewExtractor 创建一个基于 exiftool 的批量提取器。
// 单个文件起一次进程的开销太大，这里按批调用并用工作池并发，
// 批大小默认 100。
func NewExtractor(logDir, bin string, workerCount, batchSize int) (Extractor, error) {
	logFilePath := filepath.Join(logDir, extractorLogFileName)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化元数据提取器日志: %w", err)
	}
	logger := log.New(file, "METADATA: ", log.LstdFlags|log.Lshortfile)

	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if bin == "" {
		bin = "exiftool"
	}

	available := true
	if _, err := exec.LookPath(bin); err != nil {
		available = false
		logger.Printf("警告: 找不到 %s，元数据提取将整体降级: %v", bin, err)
	}

	logger.Printf("元数据提取器初始化成功，并发数: %d，批大小: %d", workerCount, batchSize)
	return &exiftoolExtractor{
		bin:        bin,
		numWorkers: workerCount,
		batchSize:  batchSize,
		available:  available,
		logger:     logger,
		logFile:    file,
	}, nil
}

func (e *exiftoolExtractor) Available() bool {
	return e.available
}

func (e *exiftoolExtractor) Close() {
	if e.logFile != nil {
		e.logger.Println("================== 元数据提取任务结束 ==================")
		e.logFile.Close()
	}
}

// Extract 对一组文件批量提取元数据，返回按源路径索引的记录。
// 任何一批失败只影响该批文件（它们缺席结果集），不会中断整个提取。
func (e *exiftoolExtractor) Extract(ctx context.Context, paths []string) map[string]Record {
	result := make(map[string]Record)
	if !e.available || len(paths) == 0 {
		return result
	}

	e.logger.Printf("================== 新的提取任务开始，共 %d 个文件 ==================", len(paths))

	batches := splitBatches(paths, e.batchSize)

	var wg sync.WaitGroup
	tasks := make(chan []string, len(batches))
	records := make(chan []Record, len(batches))

	for i := 0; i < e.numWorkers; i++ {
		wg.Add(1)
		go e.extractWorker(&wg, ctx, tasks, records)
	}
	for _, batch := range batches {
		tasks <- batch
	}
	close(tasks)

	done := make(chan struct{})
	go func() {
		for recs := range records {
			for _, rec := range recs {
				result[rec.SourceFile] = rec
			}
		}
		close(done)
	}()

	wg.Wait()
	close(records)
	<-done

	e.logger.Printf("提取完成，%d/%d 个文件拿到记录。", len(result), len(paths))
	return result
}

// extractWorker 是处理单个批次的工人。
func (e *exiftoolExtractor) extractWorker(wg *sync.WaitGroup, ctx context.Context, tasks <-chan []string, records chan<- []Record) {
	defer wg.Done()
	for batch := range tasks {
		args := append([]string{
			"-q",
			"-json",
			"-api", "QuickTimeUTC",
			"-SubSecCreateDate",
			"-CreationDate",
			"-CreateDate",
			"-CreationTime",
			"-ProfileDateTime",
			"-DateTimeOriginal",
			"-ContentIdentifier",
		}, batch...)

		cmd := exec.CommandContext(ctx, e.bin, args...)
		output, err := cmd.Output()
		if err != nil && len(output) == 0 {
			// exiftool 对部分坏文件会以非零码退出但仍输出其余结果，
			// 只有完全没有输出时才放弃这一批
			e.logger.Printf("错误: 批次提取失败（%d 个文件受影响）: %v", len(batch), err)
			continue
		}

		recs, err := ParseOutput(output)
		if err != nil {
			e.logger.Printf("错误: 解析 exiftool 输出失败（%d 个文件受影响）: %v", len(batch), err)
			continue
		}
		records <- recs
	}
}

// ParseOutput 解析 exiftool 的 -json 输出。
// 拆出来作为纯函数，测试不需要 exiftool 二进制。
func ParseOutput(data []byte) ([]Record, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("无效的 JSON 输出: %w", err)
	}
	return recs, nil
}

// splitBatches 把路径列表切成大小不超过 batchSize 的批次。
func splitBatches(paths []string, batchSize int) [][]string {
	var batches [][]string
	for start := 0; start < len(paths); start += batchSize {
		end := start + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		batches = append(batches, paths[start:end])
	}
	return batches
}
