package timestamp

import (
	"PICs_Importer/internal/models"
	"PICs_Importer/pkg/metadata"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

const resolverLogFileName = "timestamp.log"

// dateTimePattern 同时接受 ISO 8601（横线日期、T 分隔）和
// EXIF 原始格式（冒号日期、空格分隔），可带小数秒和时区偏移。
var dateTimePattern = regexp.MustCompile(
	`^(\d{4})[-:](\d{2})[-:](\d{2})[T ](\d{2}):(\d{2}):(\d{2})(?:\.(\d+))?(Z|[+-]\d{2}:?\d{2})?`)

// Resolution 是一次拍摄时间解析的结果。
type Resolution struct {
	CapturedAt time.Time
	SubSec     int
	HasSubSec  bool
	Confidence models.Confidence
}

// Resolver 为照片和视频解析权威的拍摄时间。
// 元数据解析失败一律降级到文件系统修改时间并记录日志，
// 只有文件本身不可读时才向调用方返回错误。
type Resolver interface {
	Resolve(ctx context.Context, path string, kind models.Kind, rec metadata.Record) (Resolution, error)
	Location() *time.Location
	Close()
}

type defaultResolver struct {
	loc        *time.Location
	ffprobeBin string
	ffprobeOK  bool
	logger     *log.Logger
	logFile    *os.File

	mu    sync.Mutex
	cache map[string]Resolution
}

// NewResolver 创建时间解析器。
// 时区通过构造函数显式传入，避免任何包级全局状态，
// 以便同一进程内用不同时区反复创建实例。
func NewResolver(logDir string, loc *time.Location, ffprobeBin string) (Resolver, error) {
	logFilePath := filepath.Join(logDir, resolverLogFileName)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化时间解析器日志: %w", err)
	}
	logger := log.New(file, "TIMESTAMP: ", log.LstdFlags|log.Lshortfile)

	if loc == nil {
		loc = time.UTC
	}
	if ffprobeBin == "" {
		ffprobeBin = "ffprobe"
	}
	ffprobeOK := true
	if _, err := exec.LookPath(ffprobeBin); err != nil {
		ffprobeOK = false
		logger.Printf("警告: 找不到 %s，视频容器时间将整体降级: %v", ffprobeBin, err)
	}

	logger.Printf("时间解析器初始化成功，目标时区: %s", loc.String())
	return &defaultResolver{
		loc:        loc,
		ffprobeBin: ffprobeBin,
		ffprobeOK:  ffprobeOK,
		logger:     logger,
		logFile:    file,
		cache:      make(map[string]Resolution),
	}, nil
}

func (r *defaultResolver) Location() *time.Location {
	return r.loc
}

func (r *defaultResolver) Close() {
	if r.logFile != nil {
		r.logger.Println("================== 时间解析任务结束 ==================")
		r.logFile.Close()
	}
}

// Resolve 解析一个文件的拍摄时间，结果按绝对路径缓存一次运行的生命周期。
func (r *defaultResolver) Resolve(ctx context.Context, path string, kind models.Kind, rec metadata.Record) (Resolution, error) {
	r.mu.Lock()
	if cached, ok := r.cache[path]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	var res Resolution
	var ok bool

	// 视频优先查容器元数据，照片优先查 EXIF 系标签
	if kind == models.KindVideo {
		res, ok = r.resolveVideo(ctx, path, rec)
	} else {
		res, ok = r.resolvePhoto(path, rec)
	}

	if !ok {
		// 统一的最终退路：文件系统修改时间，可信度 Low
		info, err := os.Stat(path)
		if err != nil {
			return Resolution{}, fmt.Errorf("无法读取文件时间 %s: %w", path, err)
		}
		res = Resolution{
			CapturedAt: info.ModTime().In(r.loc),
			Confidence: models.ConfidenceLow,
		}
		r.logger.Printf("降级: %s 使用文件修改时间 %s", path, res.CapturedAt.Format(time.RFC3339))
	}

	r.mu.Lock()
	r.cache[path] = res
	r.mu.Unlock()
	return res, nil
}

// resolvePhoto 依次尝试 exiftool 标签和文件内嵌 EXIF。
func (r *defaultResolver) resolvePhoto(path string, rec metadata.Record) (Resolution, bool) {
	if res, ok := r.fromRecord(rec); ok {
		return res, true
	}

	// exiftool 缺席或没给出标签时，直接解码文件里的 EXIF 段
	if res, ok := r.fromEmbeddedExif(path); ok {
		return res, true
	}
	return Resolution{}, false
}

// resolveVideo 实施两步策略：厂商标签优先于通用容器标签，
// 因为通用标签常被写成 UTC，而厂商标签保留拍摄地本地时间。
func (r *defaultResolver) resolveVideo(ctx context.Context, path string, rec metadata.Record) (Resolution, bool) {
	if r.ffprobeOK {
		tags, err := r.probeFormatTags(ctx, path)
		if err != nil {
			r.logger.Printf("ffprobe 失败 %s: %v", path, err)
		} else {
			for _, key := range []string{"com.apple.quicktime.creationdate", "creation_time"} {
				if dateStr, exists := tags[key]; exists && dateStr != "" {
					if res, ok := r.parseTagged(dateStr); ok {
						r.logger.Printf("视频时间: %s[%s] = %s", path, key, res.CapturedAt.Format(time.RFC3339))
						return res, true
					}
				}
			}
		}
	}

	// 容器没有可用时间时，退回 exiftool 已提取的标签
	return r.fromRecord(rec)
}

// fromRecord 按优先级消费 exiftool 记录里的时间标签。
func (r *defaultResolver) fromRecord(rec metadata.Record) (Resolution, bool) {
	for _, candidate := range []string{
		rec.SubSecCreateDate,
		rec.CreationDate,
		rec.CreateDate,
		rec.CreationTime,
		rec.ProfileDateTime,
		rec.DateTimeOriginal,
	} {
		if candidate == "" {
			continue
		}
		if res, ok := r.parseTagged(candidate); ok {
			return res, true
		}
	}
	return Resolution{}, false
}

// fromEmbeddedExif 解码文件自带的 EXIF 段作为次级来源。
func (r *defaultResolver) fromEmbeddedExif(path string) (Resolution, bool) {
	f, err := os.Open(path)
	if err != nil {
		return Resolution{}, false
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return Resolution{}, false
	}
	dt, err := x.DateTime()
	if err != nil {
		return Resolution{}, false
	}

	// EXIF 时间没有时区信息，按无时区处理：视为 UTC 后转换到配置时区
	captured := time.Date(dt.Year(), dt.Month(), dt.Day(), dt.Hour(), dt.Minute(), dt.Second(), 0, time.UTC).In(r.loc)
	return Resolution{CapturedAt: captured, Confidence: models.ConfidenceHigh}, true
}

func (r *defaultResolver) parseTagged(s string) (Resolution, bool) {
	captured, subsec, hasSubsec, ok := ParsePermissive(s, r.loc)
	if !ok {
		return Resolution{}, false
	}
	return Resolution{
		CapturedAt: captured,
		SubSec:     subsec,
		HasSubSec:  hasSubsec,
		Confidence: models.ConfidenceHigh,
	}, true
}

// ParsePermissive 宽容地解析 ISO 8601 或 EXIF 风格的时间字符串。
// 时区策略：
//   - 无时区、Z、或零偏移 => 视为 UTC 时刻，转换到 loc（带夏令时规则）
//   - 带非零显式偏移 => 按原样采信，保留其本地墙上时间
//
// 返回的毫秒值取小数秒的前三位（不足右补零）。
func ParsePermissive(s string, loc *time.Location) (t time.Time, subsec int, hasSubsec bool, ok bool) {
	m := dateTimePattern.FindStringSubmatch(s)
	if m == nil {
		return time.Time{}, 0, false, false
	}

	year, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	day, _ := strconv.Atoi(m[3])
	hour, _ := strconv.Atoi(m[4])
	minute, _ := strconv.Atoi(m[5])
	second, _ := strconv.Atoi(m[6])

	nanos := 0
	if m[7] != "" {
		frac := m[7]
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		subsec, _ = strconv.Atoi(frac)
		hasSubsec = true
		nanos = subsec * int(time.Millisecond)
	}

	offsetSeconds, hasOffset := parseOffset(m[8])
	if !hasOffset || offsetSeconds == 0 {
		// 无时区或 UTC：先定位到 UTC 时刻，再换算到配置时区
		t = time.Date(year, time.Month(month), day, hour, minute, second, nanos, time.UTC).In(loc)
	} else {
		t = time.Date(year, time.Month(month), day, hour, minute, second, nanos,
			time.FixedZone("", offsetSeconds))
	}
	return t, subsec, hasSubsec, true
}

// parseOffset 解析 "Z"、"+0800"、"-04:00" 形式的偏移，返回秒数。
func parseOffset(part string) (seconds int, has bool) {
	if part == "" {
		return 0, false
	}
	if part == "Z" {
		return 0, true
	}

	sign := 1
	if part[0] == '-' {
		sign = -1
	}
	digits := strings.ReplaceAll(part[1:], ":", "")
	if len(digits) != 4 {
		return 0, false
	}
	hours, err1 := strconv.Atoi(digits[:2])
	minutes, err2 := strconv.Atoi(digits[2:])
	if err1 != nil || err2 != nil {
		return 0, false
	}
	return sign * (hours*3600 + minutes*60), true
}

// probeFormat 对应 ffprobe -show_format 输出里我们关心的部分。
type probeFormat struct {
	Format struct {
		Tags map[string]string `json:"tags"`
	} `json:"format"`
}

// probeFormatTags 用一次 ffprobe 调用取出视频容器级元数据标签。
func (r *defaultResolver) probeFormatTags(ctx context.Context, path string) (map[string]string, error) {
	cmd := exec.CommandContext(ctx, r.ffprobeBin,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe 执行失败: %w", err)
	}
	return ParseProbeFormat(output)
}

// ParseProbeFormat 解析 ffprobe -show_format 的 JSON 输出，返回标签表。
// 拆出来作为纯函数，测试不需要 ffprobe 二进制。
func ParseProbeFormat(data []byte) (map[string]string, error) {
	var probe probeFormat
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("无效的 ffprobe 输出: %w", err)
	}
	if probe.Format.Tags == nil {
		return map[string]string{}, nil
	}
	return probe.Format.Tags, nil
}
