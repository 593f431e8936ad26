package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// Kind 表示一个源文件的媒体类别，由扩展名判定。
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindMetadata Kind = "metadata"
	KindUnknown  Kind = "unknown"
)

// Confidence 表示拍摄时间的来源可信度。
// 来自嵌入元数据的时间为 High；退化到文件系统修改时间为 Low。
type Confidence string

const (
	ConfidenceHigh Confidence = "high"
	ConfidenceLow  Confidence = "low"
)

// MediaFile 代表一个被发现的源文件。
// 它在发现阶段创建，由时间解析器和 Live Photo 检测器补全字段，
// 分配目标路径之后不再修改。
type MediaFile struct {
	// SourcePath 是文件的绝对源路径，也是其唯一标识。
	SourcePath string

	// Size 是文件的字节大小。
	Size int64

	// Kind 是按扩展名判定的媒体类别。
	Kind Kind

	// CapturedAt 是解析出的拍摄时间；零值表示尚未解析。
	CapturedAt time.Time

	// Confidence 标记 CapturedAt 的来源可信度。
	Confidence Confidence

	// PairKey 是 Live Photo 配对键（ContentIdentifier）；空串表示没有。
	PairKey string

	// SubSec 是拍摄时间的毫秒部分；HasSubSec 为 false 时该值无意义。
	SubSec    int
	HasSubSec bool
}

// Resolved 报告该文件是否已经解析出拍摄时间。
func (f *MediaFile) Resolved() bool {
	return !f.CapturedAt.IsZero()
}

// LivePhotoPair 代表一对 Live Photo：一张图片和它的伴随视频。
// 两个成员必须落到完全相同的基础文件名上。
type LivePhotoPair struct {
	Image *MediaFile
	Video *MediaFile

	// Key 是配对依据：ContentIdentifier 或回退匹配时的文件名主干。
	Key string

	// CapturedAt 与 SubSec 是整对共享的拍摄时间和毫秒值。
	CapturedAt time.Time
	SubSec     int
}

// DestinationSlot 代表一个已分配的目标位置：
// YEAR/MONTH/TIMESTAMP_SEQ.ext。同一次导入中，非重复文件与槽位一一对应。
type DestinationSlot struct {
	// CapturedAt 决定 YEAR/MONTH 目录和 TIMESTAMP 部分。
	CapturedAt time.Time

	// Seq 是区分同一秒内多个文件的序号，格式化为三位数字。
	Seq int

	// Ext 是小写的目标扩展名（含点），jpeg 系已归一化为 .jpg。
	Ext string

	// Path 是完整的目标绝对路径。
	Path string
}

// SlotBase 按 `20060102_150405_000` 的形状生成槽位的基础文件名。
func SlotBase(capturedAt time.Time, seq int) string {
	return fmt.Sprintf("%s_%03d", capturedAt.Format("20060102_150405"), seq)
}

// SlotPath 计算槽位在目标库下的完整路径。
func SlotPath(destRoot string, capturedAt time.Time, seq int, ext string) string {
	year := capturedAt.Format("2006")
	month := capturedAt.Format("01")
	return filepath.Join(destRoot, year, month, SlotBase(capturedAt, seq)+ext)
}

// NormalizeExt 返回小写扩展名，并把 jpeg 家族归一化为 .jpg。
func NormalizeExt(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg", ".jpe":
		return ".jpg"
	}
	return ext
}

// DuplicateVerdict 是内容同一性比较的三态结论。
type DuplicateVerdict int

const (
	// NotDuplicate 表示两个文件大小不同，必然不是同一内容。
	NotDuplicate DuplicateVerdict = iota
	// ExactDuplicate 表示大小与全文件哈希都一致。
	ExactDuplicate
	// AmbiguousSameSizeDifferentContent 表示大小相同但内容不同，
	// 绝不能当作重复处理，必须分配独立槽位。
	AmbiguousSameSizeDifferentContent
)

func (v DuplicateVerdict) String() string {
	switch v {
	case NotDuplicate:
		return "not_duplicate"
	case ExactDuplicate:
		return "exact_duplicate"
	case AmbiguousSameSizeDifferentContent:
		return "ambiguous_same_size"
	}
	return "unknown"
}

// Outcome 是单个文件在一次导入中的最终去向，每个文件恰好一个。
type Outcome string

const (
	OutcomeMoved            Outcome = "moved"
	OutcomeCopied           Outcome = "copied"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeRoutedUnsorted   Outcome = "routed_unsorted"
	OutcomeFailed           Outcome = "failed"
)

// TransferRecord 把一个文件的处理结果交给历史记录模块做审计。
type TransferRecord struct {
	Source      string
	Destination string
	Outcome     Outcome
	Reason      string
	When        time.Time
}
