package timestamp

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"PICs_Importer/internal/models"
	"PICs_Importer/pkg/metadata"
)

func mustLoadLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("无法加载时区 %s: %v", name, err)
	}
	return loc
}

func TestParsePermissive(t *testing.T) {
	shanghai := mustLoadLocation(t, "Asia/Shanghai")

	tests := []struct {
		name       string
		input      string
		wantLocal  string // 期望的墙上时间，格式 20060102_150405
		wantSubSec int
		wantHas    bool
		wantOK     bool
	}{
		{"EXIF无时区视为UTC并转换", "2024:03:05 02:00:00", "20240305_100000", 0, false, true},
		{"ISO带Z转换到配置时区", "2024-03-05T02:00:00Z", "20240305_100000", 0, false, true},
		{"零偏移等同UTC", "2024:03:05 02:00:00+00:00", "20240305_100000", 0, false, true},
		{"显式偏移按原样采信", "2024:03:05 10:00:00+09:00", "20240305_100000", 0, false, true},
		{"无冒号偏移", "2025-05-06T19:41:34-0400", "20250506_194134", 0, false, true},
		{"小数秒取前三位", "2024:03:05 10:00:00.745+08:00", "20240305_100000", 745, true, true},
		{"小数秒不足补零", "2024:03:05 10:00:00.7+08:00", "20240305_100000", 700, true, true},
		{"非法字符串", "yesterday", "", 0, false, false},
		{"只有日期", "2024:03:05", "", 0, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, subsec, hasSubsec, ok := ParsePermissive(tt.input, shanghai)
			if ok != tt.wantOK {
				t.Fatalf("ok 不匹配: got %v, want %v", ok, tt.wantOK)
			}
			if !ok {
				return
			}
			if formatted := got.Format("20060102_150405"); formatted != tt.wantLocal {
				t.Errorf("墙上时间不匹配: got %s, want %s", formatted, tt.wantLocal)
			}
			if subsec != tt.wantSubSec || hasSubsec != tt.wantHas {
				t.Errorf("毫秒不匹配: got (%d,%v), want (%d,%v)", subsec, hasSubsec, tt.wantSubSec, tt.wantHas)
			}
		})
	}
}

// UTC 到配置时区的换算必须包含夏令时规则。
func TestParsePermissiveDST(t *testing.T) {
	newYork := mustLoadLocation(t, "America/New_York")

	summer, _, _, ok := ParsePermissive("2024-07-01T12:00:00Z", newYork)
	if !ok || summer.Format("15:04") != "08:00" {
		t.Errorf("夏令时换算错误: %v", summer)
	}

	winter, _, _, ok := ParsePermissive("2024-01-15T12:00:00Z", newYork)
	if !ok || winter.Format("15:04") != "07:00" {
		t.Errorf("冬季换算错误: %v", winter)
	}
}

func TestParseProbeFormat(t *testing.T) {
	raw := []byte(`{
  "format": {
    "filename": "IMG_001.MOV",
    "tags": {
      "com.apple.quicktime.creationdate": "2024-03-05T10:00:00+0800",
      "creation_time": "2024-03-05T02:00:00.000000Z"
    }
  }
}`)

	tags, err := ParseProbeFormat(raw)
	if err != nil {
		t.Fatalf("ParseProbeFormat 返回错误: %v", err)
	}
	if tags["com.apple.quicktime.creationdate"] != "2024-03-05T10:00:00+0800" {
		t.Errorf("厂商标签不匹配: %q", tags["com.apple.quicktime.creationdate"])
	}

	empty, err := ParseProbeFormat([]byte(`{"format":{}}`))
	if err != nil || len(empty) != 0 {
		t.Fatalf("无标签时应返回空表: tags=%v err=%v", empty, err)
	}

	if _, err := ParseProbeFormat([]byte("garbage")); err == nil {
		t.Fatal("非法 JSON 应当返回错误")
	}
}

func newTestResolver(t *testing.T, loc *time.Location) Resolver {
	t.Helper()
	r, err := NewResolver(t.TempDir(), loc, "ffprobe-definitely-not-installed")
	if err != nil {
		t.Fatalf("NewResolver 返回错误: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func TestResolveRecordPriority(t *testing.T) {
	shanghai := mustLoadLocation(t, "Asia/Shanghai")
	r := newTestResolver(t, shanghai)

	dir := t.TempDir()
	path := filepath.Join(dir, "IMG_001.jpg")
	if err := os.WriteFile(path, []byte("not a real jpeg"), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	rec := metadata.Record{
		SourceFile:       path,
		SubSecCreateDate: "2024:03:05 10:00:00.745+08:00",
		CreateDate:       "2020:01:01 00:00:00",
	}

	res, err := r.Resolve(context.Background(), path, models.KindPhoto, rec)
	if err != nil {
		t.Fatalf("Resolve 返回错误: %v", err)
	}
	if res.Confidence != models.ConfidenceHigh {
		t.Errorf("元数据来源的可信度应为 High: %v", res.Confidence)
	}
	if got := res.CapturedAt.Format("20060102_150405"); got != "20240305_100000" {
		t.Errorf("SubSecCreateDate 应当优先: got %s", got)
	}
	if res.SubSec != 745 || !res.HasSubSec {
		t.Errorf("毫秒值不匹配: %d %v", res.SubSec, res.HasSubSec)
	}
}

func TestResolveFallbackToModTime(t *testing.T) {
	shanghai := mustLoadLocation(t, "Asia/Shanghai")
	r := newTestResolver(t, shanghai)

	dir := t.TempDir()
	path := filepath.Join(dir, "no_metadata.png")
	if err := os.WriteFile(path, []byte("png without exif"), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}
	mtime := time.Date(2023, 6, 15, 8, 30, 0, 0, time.UTC)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("设置修改时间失败: %v", err)
	}

	res, err := r.Resolve(context.Background(), path, models.KindPhoto, metadata.Record{})
	if err != nil {
		t.Fatalf("Resolve 返回错误: %v", err)
	}
	if res.Confidence != models.ConfidenceLow {
		t.Errorf("文件时间来源的可信度应为 Low: %v", res.Confidence)
	}
	if !res.CapturedAt.Equal(mtime) {
		t.Errorf("应当退回修改时间: got %v, want %v", res.CapturedAt, mtime)
	}

	// 解析结果按路径缓存：改动文件时间后第二次解析必须返回旧值
	later := mtime.Add(48 * time.Hour)
	if err := os.Chtimes(path, later, later); err != nil {
		t.Fatalf("设置修改时间失败: %v", err)
	}
	again, err := r.Resolve(context.Background(), path, models.KindPhoto, metadata.Record{})
	if err != nil {
		t.Fatalf("第二次 Resolve 返回错误: %v", err)
	}
	if !again.CapturedAt.Equal(res.CapturedAt) {
		t.Errorf("缓存未生效: got %v, want %v", again.CapturedAt, res.CapturedAt)
	}
}

func TestResolveMissingFile(t *testing.T) {
	r := newTestResolver(t, time.UTC)

	if _, err := r.Resolve(context.Background(), "/does/not/exist.jpg", models.KindPhoto, metadata.Record{}); err == nil {
		t.Fatal("不可读文件应当返回错误")
	}
}

// 视频在 ffprobe 缺席时退回 exiftool 标签，再不行才用文件时间。
func TestResolveVideoDegradesToRecord(t *testing.T) {
	r := newTestResolver(t, time.UTC)

	dir := t.TempDir()
	path := filepath.Join(dir, "clip.mov")
	if err := os.WriteFile(path, []byte("fake mov"), 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	rec := metadata.Record{SourceFile: path, CreateDate: "2024:03:05 10:00:00"}
	res, err := r.Resolve(context.Background(), path, models.KindVideo, rec)
	if err != nil {
		t.Fatalf("Resolve 返回错误: %v", err)
	}
	if res.Confidence != models.ConfidenceHigh {
		t.Errorf("exiftool 标签来源应为 High: %v", res.Confidence)
	}
	if got := res.CapturedAt.Format("20060102_150405"); got != "20240305_100000" {
		t.Errorf("视频退路时间不匹配: %s", got)
	}
}
