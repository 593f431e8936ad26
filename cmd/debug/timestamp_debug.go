//go:build ignore
// +build ignore

// ^^^ 在运行 go run timestamp_debug.go 之前，请注释掉上面这两行

package main

import (
	"PICs_Importer/internal/models"
	"PICs_Importer/pkg/importer"
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
	log.Println("===     拍摄时间解析诊断工具         ===")
	log.Println("========================================")

	// 1. 检查命令行参数
	if len(os.Args) != 2 && len(os.Args) != 3 {
		log.Fatalf("错误: 需要一个文件路径，可选第二个参数为 IANA 时区。\n用法: go run timestamp_debug.go <文件路径> [时区]")
	}
	path := os.Args[1]
	tzName := "Asia/Shanghai"
	if len(os.Args) == 3 {
		tzName = os.Args[2]
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		log.Fatalf("错误: 无效的时区 %q: %v", tzName, err)
	}

	kind := importer.ClassifyPath(path)
	if kind != models.KindPhoto && kind != models.KindVideo {
		log.Fatalf("错误: %s 不是可识别的照片或视频", path)
	}
	fmt.Printf("文件类别: %v\n", kind)

	logDir, err := os.MkdirTemp("", "timestamp_debug_")
	if err != nil {
		log.Fatalf("错误: 无法创建临时日志目录: %v", err)
	}
	defer os.RemoveAll(logDir)

	// 2. 先看 exiftool 给出的原始标签
	extractor, err := metadata.NewExtractor(logDir, "", 1, 10)
	if err != nil {
		log.Fatalf("错误: 无法创建提取器: %v", err)
	}
	defer extractor.Close()

	ctx := context.Background()
	records := extractor.Extract(ctx, []string{path})
	rec := records[path]
	fmt.Println("\nexiftool 标签:")
	fmt.Printf("  SubSecCreateDate:  %q\n", rec.SubSecCreateDate)
	fmt.Printf("  DateTimeOriginal:  %q\n", rec.DateTimeOriginal)
	fmt.Printf("  CreationDate:      %q\n", rec.CreationDate)
	fmt.Printf("  CreateDate:        %q\n", rec.CreateDate)
	fmt.Printf("  ContentIdentifier: %q\n", rec.ContentIdentifier)

	// 3. 再看解析器的最终裁决
	resolver, err := timestamp.NewResolver(logDir, loc, "")
	if err != nil {
		log.Fatalf("错误: 无法创建解析器: %v", err)
	}
	defer resolver.Close()

	res, err := resolver.Resolve(ctx, path, kind, rec)
	if err != nil {
		log.Fatalf("错误: 解析失败: %v", err)
	}
	fmt.Println("\n最终裁决:")
	fmt.Printf("  拍摄时间: %s\n", res.CapturedAt.Format("2006-01-02 15:04:05 -07:00"))
	fmt.Printf("  毫秒值:   %03d (有效: %v)\n", res.SubSec, res.HasSubSec)
	fmt.Printf("  可信度:   %v\n", res.Confidence)
	fmt.Printf("  目标名:   %s\n", models.SlotBase(res.CapturedAt, res.SubSec))
}
