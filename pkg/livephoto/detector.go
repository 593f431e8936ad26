package livephoto

import (
	"PICs_Importer/internal/models"
	"PICs_Importer/pkg/metadata"
	"PICs_Importer/pkg/timestamp"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const detectorLogFileName = "livephoto.log"

// Live Photo 只会出现在这些扩展名组合里
var (
	pairImageExts = map[string]bool{".heic": true, ".jpeg": true, ".jpg": true}
	pairVideoExts = map[string]bool{".mov": true, ".mp4": true}
)

// Detector 把候选文件集合划分为 Live Photo 配对和剩余的独立文件。
// 每个输入文件恰好落入其中一类，绝不会被静默丢弃。
type Detector interface {
	Detect(ctx context.Context, files []*models.MediaFile, records map[string]metadata.Record) ([]*models.LivePhotoPair, []*models.MediaFile)
	Close()
}

type defaultDetector struct {
	resolver timestamp.Resolver
	logger   *log.Logger
	logFile  *os.File
}

// NewDetector 创建配对检测器。回退匹配需要完整的时间解析链，
// 所以直接持有时间解析器。
func NewDetector(logDir string, resolver timestamp.Resolver) (Detector, error) {
	logFilePath := filepath.Join(logDir, detectorLogFileName)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化配对检测器日志: %w", err)
	}
	logger := log.New(file, "LIVEPHOTO: ", log.LstdFlags|log.Lshortfile)

	return &defaultDetector{
		resolver: resolver,
		logger:   logger,
		logFile:  file,
	}, nil
}

func (d *defaultDetector) Close() {
	if d.logFile != nil {
		d.logger.Println("================== 配对检测任务结束 ==================")
		d.logFile.Close()
	}
}

// pairGroup 收集同一个分组键下的全部候选成员。
type pairGroup struct {
	images []*models.MediaFile
	videos []*models.MediaFile
}

// Detect 执行两趟检测：
//  1. 主趟按元数据里的 ContentIdentifier 分组；
//  2. 回退趟对没有配对键的剩余文件按文件名主干分组。
//
// 已消费集合保证一个文件不会同时算入配对和独立两边。
func (d *defaultDetector) Detect(ctx context.Context, files []*models.MediaFile, records map[string]metadata.Record) ([]*models.LivePhotoPair, []*models.MediaFile) {
	d.logger.Printf("================== 新的配对检测开始，共 %d 个候选 ==================", len(files))

	consumed := make(map[string]bool)
	var pairs []*models.LivePhotoPair

	// --- 主趟：按 ContentIdentifier 分组 ---
	byKey := make(map[string]*pairGroup)
	for _, f := range files {
		if !pairEligible(f) {
			continue
		}
		rec, ok := records[f.SourcePath]
		if !ok || rec.ContentIdentifier == "" {
			continue
		}
		f.PairKey = rec.ContentIdentifier
		group := byKey[rec.ContentIdentifier]
		if group == nil {
			group = &pairGroup{}
			byKey[rec.ContentIdentifier] = group
		}
		if isPairImage(f) {
			group.images = append(group.images, f)
		} else {
			group.videos = append(group.videos, f)
		}
	}

	for _, key := range sortedKeys(byKey) {
		group := byKey[key]
		if len(group.images) == 0 || len(group.videos) == 0 {
			// 不完整的组整体落回独立文件
			continue
		}

		// 同一键下出现多个同类候选（如编辑过的副本）时，
		// 取路径字典序最小的一个，其余明确落回独立文件
		image := lexicographicFirst(group.images)
		video := lexicographicFirst(group.videos)
		if len(group.images) > 1 || len(group.videos) > 1 {
			d.logger.Printf("配对键 %s 下有多个候选（%d 图 %d 视频），按字典序取 %s + %s",
				key, len(group.images), len(group.videos),
				filepath.Base(image.SourcePath), filepath.Base(video.SourcePath))
		}

		capturedAt, subsec, ok := d.pairDate(records[image.SourcePath], records[video.SourcePath])
		if !ok {
			d.logger.Printf("配对键 %s 没有可解析的时间，成员退回独立文件", key)
			continue
		}

		pairs = append(pairs, &models.LivePhotoPair{
			Image:      image,
			Video:      video,
			Key:        key,
			CapturedAt: capturedAt,
			SubSec:     subsec,
		})
		consumed[image.SourcePath] = true
		consumed[video.SourcePath] = true
		d.logger.Printf("检测到 Live Photo: %s + %s", filepath.Base(image.SourcePath), filepath.Base(video.SourcePath))
	}

	// --- 回退趟：按文件名主干分组没有配对键的剩余文件 ---
	byStem := make(map[string]*pairGroup)
	for _, f := range files {
		if consumed[f.SourcePath] || !pairEligible(f) || f.PairKey != "" {
			continue
		}
		stem := fileStem(f.SourcePath)
		group := byStem[stem]
		if group == nil {
			group = &pairGroup{}
			byStem[stem] = group
		}
		if isPairImage(f) {
			group.images = append(group.images, f)
		} else {
			group.videos = append(group.videos, f)
		}
	}

	for _, stem := range sortedKeys(byStem) {
		group := byStem[stem]
		// 回退匹配只认恰好一图一视频的组，其余成员全部落回独立文件
		if len(group.images) != 1 || len(group.videos) != 1 {
			continue
		}
		image, video := group.images[0], group.videos[0]

		res, err := d.resolver.Resolve(ctx, image.SourcePath, image.Kind, records[image.SourcePath])
		if err != nil {
			d.logger.Printf("回退配对 %s 解析时间失败，成员退回独立文件: %v", stem, err)
			continue
		}

		pairs = append(pairs, &models.LivePhotoPair{
			Image:      image,
			Video:      video,
			Key:        stem,
			CapturedAt: res.CapturedAt,
			SubSec:     res.SubSec,
		})
		consumed[image.SourcePath] = true
		consumed[video.SourcePath] = true
		d.logger.Printf("检测到 Live Photo (按文件名): %s + %s", filepath.Base(image.SourcePath), filepath.Base(video.SourcePath))
	}

	// 其余全部作为独立文件返回
	var remaining []*models.MediaFile
	for _, f := range files {
		if !consumed[f.SourcePath] {
			remaining = append(remaining, f)
		}
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Image.SourcePath < pairs[j].Image.SourcePath })
	sort.Slice(remaining, func(i, j int) bool { return remaining[i].SourcePath < remaining[j].SourcePath })

	d.logger.Printf("检测完成: %d 对，%d 个独立文件。", len(pairs), len(remaining))
	return pairs, remaining
}

// pairDate 从两个成员合并后的标签里按优先级解析配对共享时间。
// 视频的标签覆盖图片的同名标签，与批量提取时的遇到顺序一致。
func (d *defaultDetector) pairDate(imageRec, videoRec metadata.Record) (time.Time, int, bool) {
	merged := imageRec
	if videoRec.SubSecCreateDate != "" {
		merged.SubSecCreateDate = videoRec.SubSecCreateDate
	}
	if videoRec.CreationDate != "" {
		merged.CreationDate = videoRec.CreationDate
	}
	if videoRec.CreateDate != "" {
		merged.CreateDate = videoRec.CreateDate
	}

	for _, candidate := range []string{merged.SubSecCreateDate, merged.CreationDate, merged.CreateDate} {
		if candidate == "" {
			continue
		}
		if t, millis, _, parsed := timestamp.ParsePermissive(candidate, d.resolver.Location()); parsed {
			return t, millis, true
		}
	}
	return time.Time{}, 0, false
}

func pairEligible(f *models.MediaFile) bool {
	ext := strings.ToLower(filepath.Ext(f.SourcePath))
	return pairImageExts[ext] || pairVideoExts[ext]
}

func isPairImage(f *models.MediaFile) bool {
	return pairImageExts[strings.ToLower(filepath.Ext(f.SourcePath))]
}

// fileStem 返回去掉扩展名的文件名。
func fileStem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func lexicographicFirst(candidates []*models.MediaFile) *models.MediaFile {
	first := candidates[0]
	for _, c := range candidates[1:] {
		if c.SourcePath < first.SourcePath {
			first = c
		}
	}
	return first
}

func sortedKeys(m map[string]*pairGroup) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
