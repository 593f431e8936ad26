package fileops

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestFileOps(t *testing.T) FileOps {
	t.Helper()
	f, err := NewFileOps(t.TempDir())
	if err != nil {
		t.Fatalf("创建文件操作失败: %v", err)
	}
	t.Cleanup(f.Close)
	return f
}

func writeFile(t *testing.T, path string, content []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}
}

func TestTransferCopyKeepsSource(t *testing.T) {
	f := newTestFileOps(t)
	srcDir, destDir := t.TempDir(), t.TempDir()

	src := filepath.Join(srcDir, "a.jpg")
	dst := filepath.Join(destDir, "2024", "03", "20240305_100000_000.jpg")
	writeFile(t, src, []byte("photo-bytes"))

	if err := f.Transfer(src, dst, ModeCopy); err != nil {
		t.Fatalf("复制传输失败: %v", err)
	}
	got, err := os.ReadFile(dst)
	if err != nil || string(got) != "photo-bytes" {
		t.Fatalf("目标内容不对: %q, %v", got, err)
	}
	if _, err := os.Stat(src); err != nil {
		t.Errorf("复制模式不应动源文件: %v", err)
	}
}

func TestTransferMoveReclaimsSource(t *testing.T) {
	f := newTestFileOps(t)
	srcDir, destDir := t.TempDir(), t.TempDir()

	src := filepath.Join(srcDir, "b.mov")
	dst := filepath.Join(destDir, "b.mov")
	writeFile(t, src, []byte("video-bytes"))

	if err := f.Transfer(src, dst, ModeMove); err != nil {
		t.Fatalf("移动传输失败: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("移动模式应在校验通过后回收源文件: %v", err)
	}
	if got, _ := os.ReadFile(dst); string(got) != "video-bytes" {
		t.Errorf("目标内容不对: %q", got)
	}
}

func TestTransferVerificationFailurePreservesSource(t *testing.T) {
	f := newTestFileOps(t)
	srcDir, destDir := t.TempDir(), t.TempDir()

	src := filepath.Join(srcDir, "c.jpg")
	dst := filepath.Join(destDir, "c.jpg")
	writeFile(t, src, []byte("full-content-of-the-photo"))

	// 注入截断写入：落盘内容比源少一半
	original := copyFileFn
	copyFileFn = func(src, dst string) error {
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data[:len(data)/2], 0644)
	}
	defer func() { copyFileFn = original }()

	err := f.Transfer(src, dst, ModeMove)
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("期望校验失败，得到 %v", err)
	}
	// 安全不变量：校验不通过，源文件必须原样保留
	if _, statErr := os.Stat(src); statErr != nil {
		t.Errorf("校验失败后源文件必须保留: %v", statErr)
	}
	if _, statErr := os.Stat(dst); !os.IsNotExist(statErr) {
		t.Errorf("校验失败后不应留下目标文件")
	}
	entries, _ := os.ReadDir(destDir)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".importing_") {
			t.Errorf("校验失败后不应残留临时文件: %s", e.Name())
		}
	}
}

func TestTransferSameSizeCorruption(t *testing.T) {
	f := newTestFileOps(t)
	srcDir, destDir := t.TempDir(), t.TempDir()

	src := filepath.Join(srcDir, "d.jpg")
	dst := filepath.Join(destDir, "d.jpg")
	writeFile(t, src, []byte("AAAABBBB"))

	// 注入同大小位翻转：大小检查过不掉这种损坏，必须靠全文件哈希兜底
	original := copyFileFn
	copyFileFn = func(src, dst string) error {
		data, err := os.ReadFile(src)
		if err != nil {
			return err
		}
		data[0] ^= 0xFF
		return os.WriteFile(dst, data, 0644)
	}
	defer func() { copyFileFn = original }()

	if err := f.Transfer(src, dst, ModeMove); !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("同大小损坏必须被哈希校验拦住，得到 %v", err)
	}
	if _, statErr := os.Stat(src); statErr != nil {
		t.Errorf("源文件必须保留: %v", statErr)
	}
}

func TestCopyToQuarantineNeverOverwrites(t *testing.T) {
	f := newTestFileOps(t)
	srcDir, quarantine := t.TempDir(), filepath.Join(t.TempDir(), "Unsorted")

	first := filepath.Join(srcDir, "one", "clip.dat")
	second := filepath.Join(srcDir, "two", "clip.dat")
	writeFile(t, first, []byte("first"))
	writeFile(t, second, []byte("second"))

	got1, err := f.CopyToQuarantine(first, quarantine)
	if err != nil {
		t.Fatalf("首次隔离失败: %v", err)
	}
	got2, err := f.CopyToQuarantine(second, quarantine)
	if err != nil {
		t.Fatalf("二次隔离失败: %v", err)
	}
	if filepath.Base(got1) != "clip.dat" {
		t.Errorf("首个隔离名不对: %s", got1)
	}
	if filepath.Base(got2) != "clip_001.dat" {
		t.Errorf("同名隔离应追加计数器，得到 %s", got2)
	}
	// 隔离只复制，两个源文件都必须还在
	for _, src := range []string{first, second} {
		if _, err := os.Stat(src); err != nil {
			t.Errorf("隔离不应删除源文件 %s: %v", src, err)
		}
	}
}

func TestPlaceWithStructure(t *testing.T) {
	f := newTestFileOps(t)
	srcRoot, area := t.TempDir(), filepath.Join(t.TempDir(), "Metadata")

	src := filepath.Join(srcRoot, "album", "2020", "a.xmp")
	writeFile(t, src, []byte("<xmp/>"))

	got, err := f.PlaceWithStructure(src, srcRoot, area, ModeMove)
	if err != nil {
		t.Fatalf("归档失败: %v", err)
	}
	want := filepath.Join(area, "album", "2020", "a.xmp")
	if got != want {
		t.Errorf("应保留相对路径，得到 %s", got)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Errorf("移动模式应回收源文件")
	}
}

func TestMoveEntry(t *testing.T) {
	f := newTestFileOps(t)
	srcRoot, area := t.TempDir(), filepath.Join(t.TempDir(), "UnknownFiles")

	// 散落的文件和整个目录都要能整体挪走
	writeFile(t, filepath.Join(srcRoot, "stray.bin"), []byte("data"))
	writeFile(t, filepath.Join(srcRoot, "leftover", "inner", "x.dat"), []byte("x"))

	got, err := f.MoveEntry(filepath.Join(srcRoot, "stray.bin"), area)
	if err != nil {
		t.Fatalf("挪动文件失败: %v", err)
	}
	if filepath.Base(got) != "stray.bin" {
		t.Errorf("目标名不对: %s", got)
	}

	got, err = f.MoveEntry(filepath.Join(srcRoot, "leftover"), area)
	if err != nil {
		t.Fatalf("挪动目录失败: %v", err)
	}
	if _, err := os.Stat(filepath.Join(got, "inner", "x.dat")); err != nil {
		t.Errorf("目录内容应整体跟着走: %v", err)
	}
	if _, err := os.Stat(filepath.Join(srcRoot, "leftover")); !os.IsNotExist(err) {
		t.Errorf("源目录应已清空")
	}

	// 同名冲突追加计数器
	writeFile(t, filepath.Join(srcRoot, "stray.bin"), []byte("again"))
	got, err = f.MoveEntry(filepath.Join(srcRoot, "stray.bin"), area)
	if err != nil {
		t.Fatalf("二次挪动失败: %v", err)
	}
	if filepath.Base(got) != "stray_001.bin" {
		t.Errorf("同名挪动应追加计数器，得到 %s", got)
	}
}

func TestIsNuisanceName(t *testing.T) {
	for name, want := range map[string]bool{
		".DS_Store":   true,
		"Thumbs.db":   true,
		".Thumbs.db":  true,
		"desktop.ini": false,
		"photo.jpg":   false,
	} {
		if got := IsNuisanceName(name); got != want {
			t.Errorf("IsNuisanceName(%q) = %v, 期望 %v", name, got, want)
		}
	}
}

func TestRemoveNuisanceFiles(t *testing.T) {
	f := newTestFileOps(t)
	root := t.TempDir()

	writeFile(t, filepath.Join(root, ".DS_Store"), []byte("x"))
	writeFile(t, filepath.Join(root, "sub", "Thumbs.db"), []byte("x"))
	writeFile(t, filepath.Join(root, "sub", "keeper.jpg"), []byte("photo"))

	removed, err := f.RemoveNuisanceFiles(root)
	if err != nil {
		t.Fatalf("清理失败: %v", err)
	}
	if removed != 2 {
		t.Errorf("期望删除 2 个垃圾文件，得到 %d", removed)
	}
	if _, err := os.Stat(filepath.Join(root, "sub", "keeper.jpg")); err != nil {
		t.Errorf("正常文件不应被删除: %v", err)
	}
}

func TestPruneEmptyDirs(t *testing.T) {
	f := newTestFileOps(t)
	root := t.TempDir()

	if err := os.MkdirAll(filepath.Join(root, "a", "b", "c"), 0755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	writeFile(t, filepath.Join(root, "keep", "file.txt"), []byte("x"))

	pruned, err := f.PruneEmptyDirs(root)
	if err != nil {
		t.Fatalf("清理空目录失败: %v", err)
	}
	if pruned != 3 {
		t.Errorf("期望删除 3 个空目录，得到 %d", pruned)
	}
	if _, err := os.Stat(filepath.Join(root, "keep", "file.txt")); err != nil {
		t.Errorf("非空目录不应被动: %v", err)
	}
	if _, err := os.Stat(root); err != nil {
		t.Errorf("根目录必须保留: %v", err)
	}
}

func TestModeString(t *testing.T) {
	if ModeMove.String() != "move" || ModeCopy.String() != "copy" {
		t.Errorf("模式名称错误: %s / %s", ModeMove, ModeCopy)
	}
}
