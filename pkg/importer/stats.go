package importer

import (
	"PICs_Importer/internal/models"
	"fmt"
	"io"
	"sync"
)

// Stats 汇总一次运行的处理计数。所有方法并发安全。
type Stats struct {
	mu sync.Mutex

	photos          int
	videos          int
	metadata        int
	unknown         int
	duplicates      int
	unsorted        int
	convertedVideos int
	livePhotoPairs  int
	failed          int
	nuisanceRemoved int
	totalSize       int64
}

func NewStats() *Stats {
	return &Stats{}
}

// RecordImported 记录一个成功入库的媒体文件及其大小。
func (s *Stats) RecordImported(kind models.Kind, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch kind {
	case models.KindVideo:
		s.videos++
	default:
		s.photos++
	}
	s.totalSize += size
}

func (s *Stats) RecordMetadata() {
	s.mu.Lock()
	s.metadata++
	s.mu.Unlock()
}

func (s *Stats) RecordUnknown() {
	s.mu.Lock()
	s.unknown++
	s.mu.Unlock()
}

func (s *Stats) RecordDuplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

func (s *Stats) RecordUnsorted() {
	s.mu.Lock()
	s.unsorted++
	s.mu.Unlock()
}

func (s *Stats) RecordConvertedVideo() {
	s.mu.Lock()
	s.convertedVideos++
	s.mu.Unlock()
}

func (s *Stats) RecordLivePhotoPair() {
	s.mu.Lock()
	s.livePhotoPairs++
	s.mu.Unlock()
}

func (s *Stats) RecordFailure() {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *Stats) AddNuisanceRemoved(n int) {
	s.mu.Lock()
	s.nuisanceRemoved += n
	s.mu.Unlock()
}

// TotalFiles 返回成功入库的文件总数（照片 + 视频 + 元数据）。
func (s *Stats) TotalFiles() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.photos + s.videos + s.metadata
}

func (s *Stats) Photos() int          { s.mu.Lock(); defer s.mu.Unlock(); return s.photos }
func (s *Stats) Videos() int          { s.mu.Lock(); defer s.mu.Unlock(); return s.videos }
func (s *Stats) Metadata() int        { s.mu.Lock(); defer s.mu.Unlock(); return s.metadata }
func (s *Stats) Unknown() int         { s.mu.Lock(); defer s.mu.Unlock(); return s.unknown }
func (s *Stats) Duplicates() int      { s.mu.Lock(); defer s.mu.Unlock(); return s.duplicates }
func (s *Stats) Unsorted() int        { s.mu.Lock(); defer s.mu.Unlock(); return s.unsorted }
func (s *Stats) ConvertedVideos() int { s.mu.Lock(); defer s.mu.Unlock(); return s.convertedVideos }
func (s *Stats) LivePhotoPairs() int  { s.mu.Lock(); defer s.mu.Unlock(); return s.livePhotoPairs }
func (s *Stats) Failed() int          { s.mu.Lock(); defer s.mu.Unlock(); return s.failed }
func (s *Stats) NuisanceRemoved() int { s.mu.Lock(); defer s.mu.Unlock(); return s.nuisanceRemoved }

// SizeMB 返回成功入库内容的总大小（MB）。
func (s *Stats) SizeMB() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return float64(s.totalSize) / (1024 * 1024)
}

// HasFailures 报告运行中是否有文件以失败或退回隔离区收场。
func (s *Stats) HasFailures() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed > 0 || s.unsorted > 0
}

// RenderSummary 输出对齐的处理汇总表。
func (s *Stats) RenderSummary(w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizeStr := fmt.Sprintf("%.1f MB", float64(s.totalSize)/(1024*1024))
	if s.totalSize > 1024*1024*1024 {
		sizeStr = fmt.Sprintf("%.1f GB", float64(s.totalSize)/(1024*1024*1024))
	}

	fmt.Fprintln(w, "================== 处理汇总 ==================")
	fmt.Fprintf(w, "  照片:            %d\n", s.photos)
	fmt.Fprintf(w, "  视频:            %d\n", s.videos)
	fmt.Fprintf(w, "  Live Photo 配对: %d\n", s.livePhotoPairs)
	fmt.Fprintf(w, "  元数据文件:      %d\n", s.metadata)
	fmt.Fprintf(w, "  转码视频:        %d\n", s.convertedVideos)
	fmt.Fprintf(w, "  跳过的重复:      %d\n", s.duplicates)
	fmt.Fprintf(w, "  未归类:          %d\n", s.unsorted)
	fmt.Fprintf(w, "  无法识别:        %d\n", s.unknown)
	if s.nuisanceRemoved > 0 {
		fmt.Fprintf(w, "  清理垃圾文件:    %d\n", s.nuisanceRemoved)
	}
	if s.failed > 0 {
		fmt.Fprintf(w, "  失败:            %d\n", s.failed)
	}
	fmt.Fprintf(w, "  总大小:          %s\n", sizeStr)
	fmt.Fprintln(w, "==============================================")
}
