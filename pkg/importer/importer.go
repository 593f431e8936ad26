package importer

import (
	"PICs_Importer/internal/models"
	"PICs_Importer/internal/session"
	"PICs_Importer/pkg/allocator"
	"PICs_Importer/pkg/converter"
	"PICs_Importer/pkg/fileops"
	"PICs_Importer/pkg/history"
	"PICs_Importer/pkg/livephoto"
	"PICs_Importer/pkg/metadata"
	"PICs_Importer/pkg/timestamp"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const importerLogFileName = "importer.log"

// Options 汇集一次导入运行的全部参数。
type Options struct {
	Source      string
	Destination string
	RootDir     string
	LogDir      string

	Mode          fileops.Mode
	DryRun        bool
	ConvertVideos bool

	// FileMode 为 0 表示跟随系统 umask；GroupID 为负表示不调整属组。
	FileMode os.FileMode
	GroupID  int

	WorkerCount     int
	BatchSize       int
	MaxSeqPerSecond int
	Location        *time.Location

	ExiftoolBin string
	FfmpegBin   string
	FfprobeBin  string
}

// Importer 是导入流水线的总装配：发现、提取、解析、配对、分配、传输。
// 单个文件的失败只影响它自己，运行总是走到汇总为止。
type Importer struct {
	opts  Options
	sess  *session.Session
	stats *Stats

	extractor metadata.Extractor
	resolver  timestamp.Resolver
	detector  livephoto.Detector
	alloc     allocator.Allocator
	ops       fileops.FileOps
	conv      converter.Converter
	hist      history.Manager

	logger  *log.Logger
	logFile *os.File

	convSeq int
}

// New 组装一次运行所需的全部模块。任何一个模块初始化失败都直接放弃，
// 此时还没有碰过任何源文件。
func New(opts Options) (*Importer, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.GroupID == 0 {
		opts.GroupID = -1
	}

	logFilePath := filepath.Join(opts.LogDir, importerLogFileName)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化导入日志: %w", err)
	}
	logger := log.New(file, "IMPORTER: ", log.LstdFlags|log.Lshortfile)

	sess := session.New(opts.Source, opts.Destination, opts.Mode.String(), opts.DryRun)

	extractor, err := metadata.NewExtractor(opts.LogDir, opts.ExiftoolBin, opts.WorkerCount, opts.BatchSize)
	if err != nil {
		file.Close()
		return nil, err
	}
	resolver, err := timestamp.NewResolver(opts.LogDir, opts.Location, opts.FfprobeBin)
	if err != nil {
		file.Close()
		return nil, err
	}
	detector, err := livephoto.NewDetector(opts.LogDir, resolver)
	if err != nil {
		file.Close()
		return nil, err
	}
	alloc, err := allocator.NewAllocator(opts.LogDir, opts.Destination, opts.MaxSeqPerSecond)
	if err != nil {
		file.Close()
		return nil, err
	}
	ops, err := fileops.NewFileOps(opts.LogDir)
	if err != nil {
		file.Close()
		return nil, err
	}
	conv, err := converter.NewConverter(opts.LogDir, opts.FfmpegBin, opts.FfprobeBin)
	if err != nil {
		file.Close()
		return nil, err
	}
	hist, err := history.NewManager(opts.RootDir, opts.Destination, sess)
	if err != nil {
		file.Close()
		return nil, err
	}

	return &Importer{
		opts:      opts,
		sess:      sess,
		stats:     NewStats(),
		extractor: extractor,
		resolver:  resolver,
		detector:  detector,
		alloc:     alloc,
		ops:       ops,
		conv:      conv,
		hist:      hist,
		logger:    logger,
		logFile:   file,
	}, nil
}

func (i *Importer) Session() *session.Session { return i.sess }
func (i *Importer) Stats() *Stats             { return i.stats }
func (i *Importer) HistoryFolder() string     { return i.hist.RunFolder() }

// Close 释放所有模块持有的日志文件。
func (i *Importer) Close() {
	i.extractor.Close()
	i.resolver.Close()
	i.detector.Close()
	i.alloc.Close()
	i.ops.Close()
	i.conv.Close()
	i.hist.Close()
	if i.logFile != nil {
		i.logger.Println("================== 导入任务结束 ==================")
		i.logFile.Close()
	}
}

// Run 执行一次完整的导入。被取消时当前文件先完成校验，
// 之后的文件不再处理，但汇总和历史记录照常落盘。
func (i *Importer) Run(ctx context.Context) error {
	i.logger.Printf("================== 新的导入运行 %s ==================", i.sess.ShortID())
	i.logger.Printf("源: %s 目标: %s 模式: %s 干跑: %v", i.opts.Source, i.opts.Destination, i.opts.Mode, i.opts.DryRun)

	if err := ValidateTree(i.opts.Source, i.opts.Destination); err != nil {
		i.sess.Finish(session.StatusFailed)
		return err
	}

	i.logger.Println("--- 阶段 1/6: 扫描源目录 ---")
	discovery, err := Discover(i.opts.Source)
	if err != nil {
		i.sess.Finish(session.StatusFailed)
		return err
	}
	i.logger.Printf("发现媒体 %d 个，元数据 %d 个，无法识别 %d 个，垃圾文件 %d 个",
		len(discovery.Media), len(discovery.Metadata), len(discovery.Unknown), discovery.NuisanceCount)

	if len(discovery.Media) == 0 && len(discovery.Metadata) == 0 && len(discovery.Unknown) == 0 {
		i.logger.Println("源目录里没有可处理的文件")
		i.sess.Finish(session.StatusCompleted)
		return nil
	}

	i.logger.Println("--- 阶段 2/6: 批量提取元数据 ---")
	paths := make([]string, 0, len(discovery.Media))
	for _, f := range discovery.Media {
		paths = append(paths, f.SourcePath)
	}
	records := i.extractor.Extract(ctx, paths)
	i.logger.Printf("拿到 %d 个文件的元数据记录", len(records))

	i.logger.Println("--- 阶段 3/6: 解析时间并检测 Live Photo ---")
	unreadable := make(map[string]bool)
	for _, f := range discovery.Media {
		res, err := i.resolver.Resolve(ctx, f.SourcePath, f.Kind, records[f.SourcePath])
		if err != nil {
			i.logger.Printf("无法解析 %s 的时间: %v", f.SourcePath, err)
			unreadable[f.SourcePath] = true
			continue
		}
		f.CapturedAt = res.CapturedAt
		f.SubSec = res.SubSec
		f.HasSubSec = res.HasSubSec
		f.Confidence = res.Confidence
	}

	pairs, individuals := i.detector.Detect(ctx, discovery.Media, records)
	if len(pairs) > 0 {
		i.logger.Printf("检测到 %d 对 Live Photo", len(pairs))
	}
	for _, p := range pairs {
		// 配对成员统一使用配对共享的时间
		p.Image.CapturedAt, p.Image.SubSec = p.CapturedAt, p.SubSec
		p.Video.CapturedAt, p.Video.SubSec = p.CapturedAt, p.SubSec
	}

	for path, problem := range ScreenImages(discovery.Media, i.opts.WorkerCount) {
		i.logger.Printf("筛查提示（不拦截导入）: %s: %s", path, problem)
	}

	i.logger.Println("--- 阶段 4/6: 传输配对与独立文件 ---")
	cancelled := false
	for _, p := range pairs {
		if ctx.Err() != nil {
			cancelled = true
			break
		}
		i.processPair(ctx, p)
	}
	if !cancelled {
		for _, f := range individuals {
			if ctx.Err() != nil {
				cancelled = true
				break
			}
			i.processFile(ctx, f, unreadable[f.SourcePath])
		}
	}

	if !cancelled {
		i.logger.Println("--- 阶段 5/6: 路由元数据与未识别文件 ---")
		i.routeSidecars(ctx, discovery)
		if i.opts.Mode == fileops.ModeMove && !i.opts.DryRun {
			i.cleanupSource()
		}
		if !i.opts.DryRun && i.opts.GroupID >= 0 {
			i.applyDirectoryGroups()
		}
	}

	i.logger.Println("--- 阶段 6/6: 写入运行汇总 ---")
	summary := history.Summary{
		Success:     !i.stats.HasFailures() && !cancelled,
		Source:      i.opts.Source,
		Destination: i.opts.Destination,
		TotalFiles:  i.stats.TotalFiles(),
		Photos:      i.stats.Photos(),
		Videos:      i.stats.Videos(),
		Metadata:    i.stats.Metadata(),
		SizeMB:      i.stats.SizeMB(),
		Duplicates:  i.stats.Duplicates(),
		Unsorted:    i.stats.Unsorted(),
		Converted:   i.stats.ConvertedVideos(),
	}
	if err := i.hist.WriteSummary(summary); err != nil {
		i.logger.Printf("警告: 写入运行汇总失败: %v", err)
	}

	switch {
	case cancelled:
		i.sess.Finish(session.StatusCancelled)
		i.logger.Println("运行被取消，已处理的文件保持完成状态")
		return ctx.Err()
	case i.stats.HasFailures():
		i.sess.Finish(session.StatusFailed)
	default:
		i.sess.Finish(session.StatusCompleted)
	}
	i.logger.Printf("导入运行结束，耗时 %s 🎉", i.sess.Duration().Round(time.Millisecond))
	return nil
}

// outcomeForMode 返回当前模式下成功传输对应的结果类别。
func (i *Importer) outcomeForMode() models.Outcome {
	if i.opts.Mode == fileops.ModeMove {
		return models.OutcomeMoved
	}
	return models.OutcomeCopied
}

func (i *Importer) record(source, dest string, outcome models.Outcome, reason string) {
	i.hist.Record(models.TransferRecord{
		Source:      source,
		Destination: dest,
		Outcome:     outcome,
		Reason:      reason,
		When:        time.Now(),
	})
}

// transferTo 把一个源文件送进已分配的槽位并套用权限配置。
// 干跑模式下只做归类，不碰文件系统。
func (i *Importer) transferTo(src string, kind models.Kind, size int64, dst string) bool {
	if i.opts.DryRun {
		i.stats.RecordImported(kind, size)
		i.record(src, dst, i.outcomeForMode(), "干跑")
		return true
	}
	if err := i.ops.Transfer(src, dst, i.opts.Mode); err != nil {
		i.logger.Printf("传输 %s 失败: %v", src, err)
		i.stats.RecordFailure()
		i.record(src, dst, models.OutcomeFailed, err.Error())
		return false
	}
	if i.opts.FileMode != 0 {
		if err := i.ops.ApplyFileMode(dst, i.opts.FileMode); err != nil {
			i.logger.Printf("警告: %s: %v", dst, err)
		}
	}
	if err := i.ops.ApplyGroup(dst, i.opts.GroupID); err != nil {
		i.logger.Printf("警告: %s: %v", dst, err)
	}
	i.stats.RecordImported(kind, size)
	i.record(src, dst, i.outcomeForMode(), "")
	return true
}

// skipDuplicate 处理命中既有完全重复的文件：move 模式下源文件的内容
// 已经逐字节确认存在于归档里，可以安全回收。
func (i *Importer) skipDuplicate(f *models.MediaFile, reason string) {
	i.stats.RecordDuplicate()
	i.record(f.SourcePath, "", models.OutcomeSkippedDuplicate, reason)
	if i.opts.Mode == fileops.ModeMove && !i.opts.DryRun {
		if err := os.Remove(f.SourcePath); err != nil {
			i.logger.Printf("警告: 回收重复源文件失败: %s: %v", f.SourcePath, err)
		}
	}
}

// routeUnsorted 把无法安全入库的文件送进隔离区。隔离只复制不删除。
func (i *Importer) routeUnsorted(f *models.MediaFile, reason string) {
	i.stats.RecordUnsorted()
	if i.opts.DryRun {
		i.record(f.SourcePath, "", models.OutcomeRoutedUnsorted, reason)
		return
	}
	dir, err := i.hist.AreaDir(history.AreaUnsorted)
	if err != nil {
		i.logger.Printf("无法准备隔离区: %v", err)
		i.stats.RecordFailure()
		i.record(f.SourcePath, "", models.OutcomeFailed, err.Error())
		return
	}
	dest, err := i.ops.CopyToQuarantine(f.SourcePath, dir)
	if err != nil {
		i.logger.Printf("隔离 %s 失败: %v", f.SourcePath, err)
		i.stats.RecordFailure()
		i.record(f.SourcePath, "", models.OutcomeFailed, err.Error())
		return
	}
	i.record(f.SourcePath, dest, models.OutcomeRoutedUnsorted, reason)
}

// processPair 传输一对 Live Photo。两个成员共享同一个序号；
// 单侧命中既有重复时只传缺席的一侧，补全早先运行留下的半对。
func (i *Importer) processPair(ctx context.Context, p *models.LivePhotoPair) {
	alloc, verdict, err := i.alloc.AllocatePair(p)
	if err != nil {
		i.logger.Printf("配对 %s 分配槽位失败: %v", p.Key, err)
		i.routeUnsorted(p.Image, err.Error())
		i.routeUnsorted(p.Video, err.Error())
		return
	}
	if verdict == models.ExactDuplicate {
		i.skipDuplicate(p.Image, "配对两侧均与既有文件完全重复")
		i.skipDuplicate(p.Video, "配对两侧均与既有文件完全重复")
		return
	}

	ok := true
	if alloc.ImageDuplicate {
		i.skipDuplicate(p.Image, "图片侧与既有文件完全重复")
	} else {
		ok = i.transferTo(p.Image.SourcePath, p.Image.Kind, p.Image.Size, alloc.Image.Path) && ok
	}
	if alloc.VideoDuplicate {
		i.skipDuplicate(p.Video, "视频侧与既有文件完全重复")
	} else {
		ok = i.transferTo(p.Video.SourcePath, p.Video.Kind, p.Video.Size, alloc.Video.Path) && ok
	}
	if ok {
		i.stats.RecordLivePhotoPair()
	}
}

// processFile 按状态机处理一个独立文件：
// 解析 → 必要时转码 → 分配槽位 → 传输或跳过或隔离。
func (i *Importer) processFile(ctx context.Context, f *models.MediaFile, unreadable bool) {
	if _, err := os.Stat(f.SourcePath); os.IsNotExist(err) {
		i.logger.Printf("跳过 %s: 文件已不存在", f.SourcePath)
		return
	}
	if unreadable || !f.Resolved() {
		i.routeUnsorted(f, "无法解析拍摄时间")
		return
	}

	processing := f
	converted := false

	if f.Kind == models.KindVideo && i.opts.ConvertVideos && i.conv.NeedsConversion(ctx, f.SourcePath) {
		clone, err := i.convertVideo(ctx, f)
		if err != nil {
			i.logger.Printf("转码 %s 失败，文件保持原位: %v", f.SourcePath, err)
			i.stats.RecordFailure()
			i.record(f.SourcePath, "", models.OutcomeFailed, err.Error())
			return
		}
		processing = clone
		converted = true
	}

	slot, verdict, err := i.alloc.AllocateFile(processing)
	if err != nil {
		if converted && !i.opts.DryRun {
			os.Remove(processing.SourcePath)
		}
		i.routeUnsorted(f, err.Error())
		return
	}
	if verdict == models.ExactDuplicate {
		if converted && !i.opts.DryRun {
			os.Remove(processing.SourcePath)
		}
		i.skipDuplicate(f, "与既有文件完全重复")
		return
	}

	if converted {
		i.finishConvertedVideo(f, processing, slot)
		return
	}
	i.transferTo(f.SourcePath, f.Kind, f.Size, slot.Path)
}

// convertVideo 把旧格式视频转码到临时文件，返回指向转码产物的记录。
// 干跑模式不执行转码，只用换了扩展名的克隆参与归类。
func (i *Importer) convertVideo(ctx context.Context, f *models.MediaFile) (*models.MediaFile, error) {
	i.convSeq++
	clone := *f

	if i.opts.DryRun {
		i.stats.RecordConvertedVideo()
		clone.SourcePath = swapExt(f.SourcePath, ".mp4")
		return &clone, nil
	}

	tmp := filepath.Join(os.TempDir(), fmt.Sprintf("pics_importer_%s_%03d.mp4", i.sess.ShortID(), i.convSeq))
	if err := i.conv.Convert(ctx, f.SourcePath, tmp); err != nil {
		return nil, err
	}
	info, err := os.Stat(tmp)
	if err != nil {
		return nil, fmt.Errorf("读取转码产物失败: %w", err)
	}
	i.stats.RecordConvertedVideo()
	clone.SourcePath = tmp
	clone.Size = info.Size()
	return &clone, nil
}

// finishConvertedVideo 把转码产物送进槽位，并把原始视频归档进
// LegacyVideos 分区（保留源树相对路径）。
func (i *Importer) finishConvertedVideo(original, processing *models.MediaFile, slot *models.DestinationSlot) {
	if i.opts.DryRun {
		i.stats.RecordImported(original.Kind, original.Size)
		i.record(original.SourcePath, slot.Path, i.outcomeForMode(), "干跑（将转码为 H.265）")
		return
	}

	// 临时转码产物永远用 move 进槽位
	if err := i.ops.Transfer(processing.SourcePath, slot.Path, fileops.ModeMove); err != nil {
		i.logger.Printf("传输转码产物 %s 失败: %v", processing.SourcePath, err)
		os.Remove(processing.SourcePath)
		i.stats.RecordFailure()
		i.record(original.SourcePath, slot.Path, models.OutcomeFailed, err.Error())
		return
	}
	if i.opts.FileMode != 0 {
		if err := i.ops.ApplyFileMode(slot.Path, i.opts.FileMode); err != nil {
			i.logger.Printf("警告: %s: %v", slot.Path, err)
		}
	}
	if err := i.ops.ApplyGroup(slot.Path, i.opts.GroupID); err != nil {
		i.logger.Printf("警告: %s: %v", slot.Path, err)
	}

	legacyDir, err := i.hist.AreaDir(history.AreaLegacyVideos)
	if err != nil {
		i.logger.Printf("警告: 无法准备 LegacyVideos 分区: %v", err)
	} else if _, err := i.ops.PlaceWithStructure(original.SourcePath, i.opts.Source, legacyDir, i.opts.Mode); err != nil {
		i.logger.Printf("警告: 归档原始视频 %s 失败: %v", original.SourcePath, err)
	}

	i.stats.RecordImported(original.Kind, original.Size)
	i.record(original.SourcePath, slot.Path, i.outcomeForMode(), "已转码为 H.265")
}

// routeSidecars 处理元数据和无法识别的文件：各自进历史分区，
// 保留相对路径。
func (i *Importer) routeSidecars(ctx context.Context, d *Discovery) {
	for _, f := range d.Metadata {
		if ctx.Err() != nil {
			return
		}
		if i.opts.DryRun {
			i.stats.RecordMetadata()
			i.record(f.SourcePath, "", i.outcomeForMode(), "干跑（元数据）")
			continue
		}
		dir, err := i.hist.AreaDir(history.AreaMetadata)
		if err != nil {
			i.routeUnsorted(f, err.Error())
			continue
		}
		dest, err := i.ops.PlaceWithStructure(f.SourcePath, i.opts.Source, dir, i.opts.Mode)
		if err != nil {
			i.logger.Printf("归档元数据 %s 失败: %v", f.SourcePath, err)
			i.routeUnsorted(f, err.Error())
			continue
		}
		i.stats.RecordMetadata()
		i.record(f.SourcePath, dest, i.outcomeForMode(), "元数据")
	}

	for _, f := range d.Unknown {
		if ctx.Err() != nil {
			return
		}
		if i.opts.DryRun {
			i.stats.RecordUnknown()
			i.record(f.SourcePath, "", i.outcomeForMode(), "干跑（无法识别）")
			continue
		}
		dir, err := i.hist.AreaDir(history.AreaUnknownFiles)
		if err != nil {
			i.routeUnsorted(f, err.Error())
			continue
		}
		dest, err := i.ops.PlaceWithStructure(f.SourcePath, i.opts.Source, dir, i.opts.Mode)
		if err != nil {
			i.logger.Printf("归档未识别文件 %s 失败: %v", f.SourcePath, err)
			i.routeUnsorted(f, err.Error())
			continue
		}
		i.stats.RecordUnknown()
		i.record(f.SourcePath, dest, i.outcomeForMode(), "无法识别")
	}
}

// cleanupSource 在 move 模式的真实运行后收尾源目录：
// 删垃圾文件、清空目录、把顶层残留整体挪进 UnknownFiles。
func (i *Importer) cleanupSource() {
	removed, err := i.ops.RemoveNuisanceFiles(i.opts.Source)
	if err != nil {
		i.logger.Printf("警告: 清理垃圾文件失败: %v", err)
	}
	i.stats.AddNuisanceRemoved(removed)

	if _, err := i.ops.PruneEmptyDirs(i.opts.Source); err != nil {
		i.logger.Printf("警告: 清理空目录失败: %v", err)
	}

	entries, err := os.ReadDir(i.opts.Source)
	if err != nil {
		i.logger.Printf("警告: 读取源目录残留失败: %v", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	dir, err := i.hist.AreaDir(history.AreaUnknownFiles)
	if err != nil {
		i.logger.Printf("警告: 无法准备 UnknownFiles 分区: %v", err)
		return
	}
	i.logger.Printf("把 %d 个顶层残留挪进 UnknownFiles", len(entries))
	for _, e := range entries {
		src := filepath.Join(i.opts.Source, e.Name())
		if _, err := i.ops.MoveEntry(src, dir); err != nil {
			i.logger.Printf("警告: 挪动残留 %s 失败: %v", src, err)
		}
	}
}

// applyDirectoryGroups 把配置的属组套到目标库的所有目录上。
func (i *Importer) applyDirectoryGroups() {
	err := filepath.Walk(i.opts.Destination, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if chErr := os.Chown(path, -1, i.opts.GroupID); chErr != nil {
				i.logger.Printf("警告: 设置目录属组失败: %s: %v", path, chErr)
			}
		}
		return nil
	})
	if err != nil {
		i.logger.Printf("警告: 遍历目标目录失败: %v", err)
	}
}

// swapExt 把路径的扩展名换成 newExt。
func swapExt(path, newExt string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + newExt
}
