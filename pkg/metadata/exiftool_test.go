package metadata

import (
	"context"
	"testing"
)

func TestParseOutput(t *testing.T) {
	raw := []byte(`[
  {
    "SourceFile": "/photos/IMG_001.HEIC",
    "SubSecCreateDate": "2024:03:05 10:00:00.745+08:00",
    "CreateDate": "2024:03:05 10:00:00",
    "ContentIdentifier": "8FD27023-4F1A-4B2C-9D11-2B1A5E1A7C55"
  },
  {
    "SourceFile": "/photos/IMG_001.MOV",
    "CreationDate": "2024:03:05 10:00:01+08:00",
    "CreateDate": "2024:03:05 02:00:01",
    "ContentIdentifier": "8FD27023-4F1A-4B2C-9D11-2B1A5E1A7C55"
  },
  {
    "SourceFile": "/photos/random.png"
  }
]`)

	recs, err := ParseOutput(raw)
	if err != nil {
		t.Fatalf("ParseOutput 返回错误: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("记录数不匹配: got %d, want 3", len(recs))
	}

	img := recs[0]
	if img.SourceFile != "/photos/IMG_001.HEIC" {
		t.Errorf("SourceFile 不匹配: %s", img.SourceFile)
	}
	if img.SubSecCreateDate != "2024:03:05 10:00:00.745+08:00" {
		t.Errorf("SubSecCreateDate 不匹配: %s", img.SubSecCreateDate)
	}
	if img.ContentIdentifier != recs[1].ContentIdentifier {
		t.Errorf("配对键应当一致: %s vs %s", img.ContentIdentifier, recs[1].ContentIdentifier)
	}
	if !img.HasDate() {
		t.Error("带有时间标签的记录 HasDate 应为 true")
	}

	bare := recs[2]
	if bare.HasDate() {
		t.Error("无时间标签的记录 HasDate 应为 false")
	}
	if bare.ContentIdentifier != "" {
		t.Errorf("缺失的配对键应为空串: %q", bare.ContentIdentifier)
	}
}

func TestParseOutputInvalid(t *testing.T) {
	if _, err := ParseOutput([]byte("not json")); err == nil {
		t.Fatal("非法 JSON 应当返回错误")
	}
	recs, err := ParseOutput(nil)
	if err != nil || recs != nil {
		t.Fatalf("空输出应当返回空结果: recs=%v err=%v", recs, err)
	}
}

func TestSplitBatches(t *testing.T) {
	paths := []string{"a", "b", "c", "d", "e"}

	batches := splitBatches(paths, 2)
	if len(batches) != 3 {
		t.Fatalf("批次数不匹配: got %d, want 3", len(batches))
	}
	if len(batches[0]) != 2 || len(batches[2]) != 1 {
		t.Errorf("批次大小划分错误: %v", batches)
	}

	if got := splitBatches(nil, 2); got != nil {
		t.Errorf("空输入应当得到空批次: %v", got)
	}
}

// exiftool 缺席时提取必须整体降级为空结果，而不是报错中断。
func TestExtractUnavailable(t *testing.T) {
	ex, err := NewExtractor(t.TempDir(), "exiftool-definitely-not-installed", 2, 10)
	if err != nil {
		t.Fatalf("NewExtractor 返回错误: %v", err)
	}
	defer ex.Close()

	if ex.Available() {
		t.Fatal("不存在的二进制不应报告可用")
	}

	got := ex.Extract(context.Background(), []string{"/a.jpg", "/b.jpg"})
	if len(got) != 0 {
		t.Errorf("不可用时应返回空结果: %v", got)
	}
}
