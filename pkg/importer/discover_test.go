package importer

import (
	"PICs_Importer/internal/models"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
)

func TestClassifyPath(t *testing.T) {
	cases := []struct {
		path string
		want models.Kind
	}{
		{"IMG_0001.JPG", models.KindPhoto},
		{"raw/DSC_0042.nef", models.KindPhoto},
		{"screenshot.PNG", models.KindPhoto},
		{"portrait.heic", models.KindPhoto},
		{"clip.MOV", models.KindVideo},
		{"legacy.avi", models.KindVideo},
		{"subtitles.srt", models.KindVideo},
		{"edit.aae", models.KindMetadata},
		{"sidecar.XMP", models.KindMetadata},
		{"manifest.json", models.KindMetadata},
		{"archive.zip", models.KindUnknown},
		{"noext", models.KindUnknown},
		// .stx 同时出现在照片表和视频表里，照片表优先
		{"scan.stx", models.KindPhoto},
	}
	for _, c := range cases {
		if got := ClassifyPath(c.path); got != c.want {
			t.Errorf("ClassifyPath(%q) = %v, 期待 %v", c.path, got, c.want)
		}
	}
}

func TestDiscoverBucketsAndNuisance(t *testing.T) {
	source := t.TempDir()
	layout := map[string]string{
		"DCIM/IMG_0001.jpg": "photo",
		"DCIM/IMG_0001.mov": "video",
		"DCIM/IMG_0001.aae": "edit",
		"random.bin":        "junk",
		".DS_Store":         "finder",
		"DCIM/Thumbs.db":    "explorer",
	}
	for rel, content := range layout {
		path := filepath.Join(source, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("创建目录失败: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("写入文件失败: %v", err)
		}
	}

	d, err := Discover(source)
	if err != nil {
		t.Fatalf("扫描失败: %v", err)
	}
	if len(d.Media) != 2 {
		t.Errorf("媒体文件应为 2，得到 %d", len(d.Media))
	}
	if len(d.Metadata) != 1 {
		t.Errorf("元数据文件应为 1，得到 %d", len(d.Metadata))
	}
	if len(d.Unknown) != 1 {
		t.Errorf("未识别文件应为 1，得到 %d", len(d.Unknown))
	}
	if d.NuisanceCount != 2 {
		t.Errorf("垃圾文件应为 2，得到 %d", d.NuisanceCount)
	}
	// 结果必须按路径排好序
	for i := 1; i < len(d.Media); i++ {
		if d.Media[i-1].SourcePath > d.Media[i].SourcePath {
			t.Error("媒体文件未按路径排序")
		}
	}
}

func TestValidateTree(t *testing.T) {
	source := t.TempDir()
	dest := t.TempDir()

	if err := ValidateTree(source, dest); err != nil {
		t.Errorf("独立的两个目录应通过校验: %v", err)
	}
	if err := ValidateTree(filepath.Join(source, "missing"), dest); err == nil {
		t.Error("不存在的源目录应被拒绝")
	}
	if err := ValidateTree(source, source); err == nil {
		t.Error("源目标同目录应被拒绝")
	}
	nested := filepath.Join(source, "archive")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatalf("创建嵌套目录失败: %v", err)
	}
	if err := ValidateTree(source, nested); err == nil {
		t.Error("目标嵌套在源里应被拒绝")
	}
	if err := ValidateTree(nested, source); err == nil {
		t.Error("源嵌套在目标里应被拒绝")
	}

	filePath := filepath.Join(source, "not_a_dir")
	if err := os.WriteFile(filePath, []byte("x"), 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}
	if err := ValidateTree(filePath, dest); err == nil {
		t.Error("源是普通文件应被拒绝")
	}
}

func TestScreenImagesAdvisoryOnly(t *testing.T) {
	dir := t.TempDir()

	// 一张真实可解码的 PNG
	good := filepath.Join(dir, "good.png")
	f, err := os.Create(good)
	if err != nil {
		t.Fatalf("创建文件失败: %v", err)
	}
	if err := png.Encode(f, image.NewRGBA(image.Rect(0, 0, 4, 4))); err != nil {
		t.Fatalf("编码 PNG 失败: %v", err)
	}
	f.Close()

	// 一个顶着 .jpg 扩展名的坏文件
	bad := filepath.Join(dir, "bad.jpg")
	if err := os.WriteFile(bad, []byte("definitely not a jpeg"), 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	// HEIC 解码器不认识，但不该出现在提示里
	heic := filepath.Join(dir, "portrait.heic")
	if err := os.WriteFile(heic, []byte("heic payload"), 0644); err != nil {
		t.Fatalf("写入文件失败: %v", err)
	}

	files := []*models.MediaFile{
		{SourcePath: good, Kind: models.KindPhoto},
		{SourcePath: bad, Kind: models.KindPhoto},
		{SourcePath: heic, Kind: models.KindPhoto},
	}
	advisories := ScreenImages(files, 2)

	if _, ok := advisories[good]; ok {
		t.Error("可解码的 PNG 不应有提示")
	}
	if _, ok := advisories[bad]; !ok {
		t.Error("坏的 JPEG 应有提示")
	}
	if _, ok := advisories[heic]; ok {
		t.Error("解码器不认识的 HEIC 不应有提示")
	}
}
