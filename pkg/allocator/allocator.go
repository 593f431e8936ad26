package allocator

import (
	"PICs_Importer/internal/models"
	"PICs_Importer/pkg/hasher"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

const allocatorLogFileName = "allocator.log"

// DefaultMaxAttempts 是同一秒内序号探测的硬上限
const DefaultMaxAttempts = 1000

// ErrSlotExhausted 表示同一秒的序号空间被探测到上限仍未找到可用槽位
var ErrSlotExhausted = errors.New("目标序号空间已耗尽")

// 测试时可替换，用于注入探测和比较行为
var (
	statFn    = os.Stat
	compareFn = hasher.Compare
)

// PairAllocation 是一次配对分配的结果。两个成员共享同一个序号，
// 其中命中既有完全重复的成员免传输但仍占用该槽位。
type PairAllocation struct {
	Image          *models.DestinationSlot
	Video          *models.DestinationSlot
	ImageDuplicate bool
	VideoDuplicate bool
}

// Allocator 把已解析时间映射到目标路径，只产出数据，从不写文件系统。
type Allocator interface {
	AllocateFile(f *models.MediaFile) (*models.DestinationSlot, models.DuplicateVerdict, error)
	AllocatePair(p *models.LivePhotoPair) (*PairAllocation, models.DuplicateVerdict, error)
	Close()
}

type defaultAllocator struct {
	destRoot    string
	maxAttempts int
	mu          sync.Mutex
	claimed     map[string]bool
	logger      *log.Logger
	logFile     *os.File
}

// NewAllocator 创建槽位分配器。claimed 集合记录本次运行内已许诺的路径，
// 保证干跑模式下（磁盘上什么都没写）注入性依然成立。
func NewAllocator(logDir, destRoot string, maxAttempts int) (Allocator, error) {
	logFilePath := filepath.Join(logDir, allocatorLogFileName)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化分配器日志: %w", err)
	}
	logger := log.New(file, "ALLOCATOR: ", log.LstdFlags|log.Lshortfile)

	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	return &defaultAllocator{
		destRoot:    destRoot,
		maxAttempts: maxAttempts,
		claimed:     make(map[string]bool),
		logger:      logger,
		logFile:     file,
	}, nil
}

func (a *defaultAllocator) Close() {
	if a.logFile != nil {
		a.logger.Println("================== 槽位分配任务结束 ==================")
		a.logFile.Close()
	}
}

// slotState 是某个候选路径在一次探测中的状态
type slotState int

const (
	slotFree  slotState = iota // 未被占用
	slotDup                    // 被源文件的完全重复占用
	slotClash                  // 被不同内容占用（或本次运行已许诺）
)

// probe 判定候选路径的占用状态。同大小不同内容绝不按重复处理。
func (a *defaultAllocator) probe(f *models.MediaFile, candidate string) slotState {
	if a.claimed[candidate] {
		return slotClash
	}

	if _, err := statFn(candidate); err != nil {
		if os.IsNotExist(err) {
			return slotFree
		}
		a.logger.Printf("探测 %s 失败，按占用处理: %v", candidate, err)
		return slotClash
	}

	verdict, err := compareFn(f.SourcePath, candidate)
	if err != nil {
		a.logger.Printf("比较 %s 与 %s 失败，按占用处理: %v", f.SourcePath, candidate, err)
		return slotClash
	}
	switch verdict {
	case models.ExactDuplicate:
		return slotDup
	case models.AmbiguousSameSizeDifferentContent:
		a.logAmbiguity(f, candidate)
		return slotClash
	default:
		return slotClash
	}
}

// logAmbiguity 对同大小不同内容的照片补一条感知哈希诊断，仅用于排查。
func (a *defaultAllocator) logAmbiguity(f *models.MediaFile, existing string) {
	a.logger.Printf("同大小不同内容: %s 与既有 %s，顺延序号", f.SourcePath, existing)
	if f.Kind != models.KindPhoto {
		return
	}
	srcHash, err1 := hasher.CalculatePerceptualHash(f.SourcePath)
	dstHash, err2 := hasher.CalculatePerceptualHash(existing)
	if err1 != nil || err2 != nil {
		return
	}
	a.logger.Printf("感知哈希诊断: 源=%s 既有=%s", srcHash, dstHash)
}

// AllocateFile 为独立文件探测目标槽位，序号从 0 开始向上。
// 命中既有完全重复时短路返回 ExactDuplicate，不再分配新槽。
func (a *defaultAllocator) AllocateFile(f *models.MediaFile) (*models.DestinationSlot, models.DuplicateVerdict, error) {
	if !f.Resolved() {
		return nil, models.NotDuplicate, fmt.Errorf("文件 %s 没有已解析的时间，无法分配槽位", f.SourcePath)
	}
	ext := models.NormalizeExt(f.SourcePath)

	a.mu.Lock()
	defer a.mu.Unlock()

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		candidate := models.SlotPath(a.destRoot, f.CapturedAt, attempt, ext)
		switch a.probe(f, candidate) {
		case slotFree:
			a.claimed[candidate] = true
			a.logger.Printf("分配 %s -> %s", filepath.Base(f.SourcePath), candidate)
			return &models.DestinationSlot{CapturedAt: f.CapturedAt, Seq: attempt, Ext: ext, Path: candidate}, models.NotDuplicate, nil
		case slotDup:
			a.logger.Printf("%s 与既有 %s 完全重复，跳过分配", f.SourcePath, candidate)
			return nil, models.ExactDuplicate, nil
		}
	}

	return nil, models.NotDuplicate, fmt.Errorf("文件 %s 在 %s 秒内探测了 %d 个序号: %w",
		f.SourcePath, f.CapturedAt.Format("20060102_150405"), a.maxAttempts, ErrSlotExhausted)
}

// AllocatePair 为配对探测共享序号。每个候选序号都要同时检查两个成员的
// 目标路径——即使其中一个成员在早先的运行里已经入库，也不能漏检另一边。
// 两边都命中完全重复才算配对级重复；任一边被不同内容占用则整体顺延。
func (a *defaultAllocator) AllocatePair(p *models.LivePhotoPair) (*PairAllocation, models.DuplicateVerdict, error) {
	if p.CapturedAt.IsZero() {
		return nil, models.NotDuplicate, fmt.Errorf("配对 %s 没有已解析的时间，无法分配槽位", p.Key)
	}
	imgExt := models.NormalizeExt(p.Image.SourcePath)
	vidExt := models.NormalizeExt(p.Video.SourcePath)

	a.mu.Lock()
	defer a.mu.Unlock()

	// 配对从毫秒值起步，亚秒连拍天然错开序号
	start := p.SubSec

	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		seq := start + attempt
		imgCandidate := models.SlotPath(a.destRoot, p.CapturedAt, seq, imgExt)
		vidCandidate := models.SlotPath(a.destRoot, p.CapturedAt, seq, vidExt)

		imgState := a.probe(p.Image, imgCandidate)
		vidState := a.probe(p.Video, vidCandidate)

		if imgState == slotClash || vidState == slotClash {
			continue
		}
		if imgState == slotDup && vidState == slotDup {
			a.logger.Printf("配对 %s 两侧均与既有文件完全重复，跳过分配", p.Key)
			return nil, models.ExactDuplicate, nil
		}

		a.claimed[imgCandidate] = true
		a.claimed[vidCandidate] = true
		a.logger.Printf("分配配对 %s -> 序号 %03d", p.Key, seq)
		return &PairAllocation{
			Image:          &models.DestinationSlot{CapturedAt: p.CapturedAt, Seq: seq, Ext: imgExt, Path: imgCandidate},
			Video:          &models.DestinationSlot{CapturedAt: p.CapturedAt, Seq: seq, Ext: vidExt, Path: vidCandidate},
			ImageDuplicate: imgState == slotDup,
			VideoDuplicate: vidState == slotDup,
		}, models.NotDuplicate, nil
	}

	return nil, models.NotDuplicate, fmt.Errorf("配对 %s 在 %s 秒内探测了 %d 个序号: %w",
		p.Key, p.CapturedAt.Format("20060102_150405"), a.maxAttempts, ErrSlotExhausted)
}
