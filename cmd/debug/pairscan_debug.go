//go:build ignore
// +build ignore

// ^^^ 在运行 go run pairscan_debug.go 之前，请注释掉上面这两行

package main

import (
	"PICs_Importer/pkg/importer"
	"PICs_Importer/pkg/livephoto"
	"PICs_Importer/pkg/metadata"
	"PICs_Importer/pkg/timestamp"
	"context"
	"fmt"
	"log"
	"os"
	"time"
)

func main() {
	log.Println("========================================")
	log.Println("===     Live Photo 配对诊断工具      ===")
	log.Println("========================================")

	// 1. 检查命令行参数
	if len(os.Args) != 2 {
		log.Fatalf("错误: 需要提供一个源目录。\n用法: go run pairscan_debug.go <源目录>")
	}
	sourceDir := os.Args[1]

	logDir, err := os.MkdirTemp("", "pairscan_debug_")
	if err != nil {
		log.Fatalf("错误: 无法创建临时日志目录: %v", err)
	}
	defer os.RemoveAll(logDir)

	// 2. 扫描并提取元数据
	discovery, err := importer.Discover(sourceDir)
	if err != nil {
		log.Fatalf("错误: 扫描失败: %v", err)
	}
	fmt.Printf("发现 %d 个媒体文件\n", len(discovery.Media))

	extractor, err := metadata.NewExtractor(logDir, "", 0, 100)
	if err != nil {
		log.Fatalf("错误: 无法创建提取器: %v", err)
	}
	defer extractor.Close()

	paths := make([]string, 0, len(discovery.Media))
	for _, f := range discovery.Media {
		paths = append(paths, f.SourcePath)
	}
	ctx := context.Background()
	records := extractor.Extract(ctx, paths)

	// 3. 跑一遍真实的配对检测
	resolver, err := timestamp.NewResolver(logDir, time.Local, "")
	if err != nil {
		log.Fatalf("错误: 无法创建解析器: %v", err)
	}
	defer resolver.Close()

	detector, err := livephoto.NewDetector(logDir, resolver)
	if err != nil {
		log.Fatalf("错误: 无法创建配对检测器: %v", err)
	}
	defer detector.Close()

	pairs, remaining := detector.Detect(ctx, discovery.Media, records)

	fmt.Printf("\n检测到 %d 对 Live Photo:\n", len(pairs))
	for _, p := range pairs {
		fmt.Printf("  [%s]\n    图片: %s\n    视频: %s\n    时间: %s (毫秒 %03d)\n",
			p.Key, p.Image.SourcePath, p.Video.SourcePath,
			p.CapturedAt.Format("2006-01-02 15:04:05 -07:00"), p.SubSec)
	}
	fmt.Printf("\n%d 个文件保持独立处理\n", len(remaining))
	for _, f := range remaining {
		id := records[f.SourcePath].ContentIdentifier
		if id != "" {
			fmt.Printf("  %s (ContentIdentifier %s 未配齐)\n", f.SourcePath, id)
		}
	}
}
