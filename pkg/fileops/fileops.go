package fileops

import (
	"PICs_Importer/pkg/hasher"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const fileOpsLogFileName = "fileops.log"

// ErrVerificationFailed 表示落盘内容与源文件校验不一致，源文件保持原样
var ErrVerificationFailed = errors.New("目标文件校验失败")

// 测试时可替换，用于注入截断写入等故障
var copyFileFn = copyFileContents

// Mode 决定传输完成后是否回收源文件
type Mode int

const (
	ModeCopy Mode = iota
	ModeMove
)

func (m Mode) String() string {
	if m == ModeMove {
		return "move"
	}
	return "copy"
}

// 这些系统垃圾文件在清理源目录时直接删除
var nuisanceFileNames = map[string]bool{
	".ds_store":    true,
	".thumbs.db":   true,
	".desktop.ini": true,
	"thumbs.db":    true,
}

// IsNuisanceName 按小写文件名判断是否是系统垃圾文件。
func IsNuisanceName(name string) bool {
	return nuisanceFileNames[strings.ToLower(name)]
}

// FileOps 承载所有会触碰文件系统的传输操作。核心约束：
// 任何对源文件的破坏性动作都发生在目标内容校验通过之后。
type FileOps interface {
	Transfer(src, dst string, mode Mode) error
	CopyToQuarantine(src, quarantineDir string) (string, error)
	PlaceWithStructure(src, srcRoot, areaDir string, mode Mode) (string, error)
	MoveEntry(src, dstDir string) (string, error)
	RemoveNuisanceFiles(root string) (int, error)
	PruneEmptyDirs(root string) (int, error)
	ApplyFileMode(path string, mode os.FileMode) error
	ApplyGroup(path string, gid int) error
	Close()
}

type defaultFileOps struct {
	logger  *log.Logger
	logFile *os.File
}

func NewFileOps(logDir string) (FileOps, error) {
	logFilePath := filepath.Join(logDir, fileOpsLogFileName)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化文件操作日志: %w", err)
	}
	logger := log.New(file, "FILEOPS: ", log.LstdFlags|log.Lshortfile)

	return &defaultFileOps{logger: logger, logFile: file}, nil
}

func (f *defaultFileOps) Close() {
	if f.logFile != nil {
		f.logger.Println("================== 文件操作任务结束 ==================")
		f.logFile.Close()
	}
}

// copyFileContents 把源文件完整写入目标路径并落盘。
func copyFileContents(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("打开源文件失败: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("创建目标文件失败: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("写入目标文件失败: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		return fmt.Errorf("同步目标文件失败: %w", err)
	}
	return out.Close()
}

// Transfer 执行带校验的传输：先写入同目录的临时文件，逐字节校验与源
// 一致后再改名到最终路径；只有校验通过后 move 模式才删除源文件。
// 校验失败时清掉临时文件、保留源文件，返回 ErrVerificationFailed。
func (f *defaultFileOps) Transfer(src, dst string, mode Mode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("创建目标目录失败: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dst), ".importing_"+filepath.Base(dst))
	if err := copyFileFn(src, tmp); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("复制 %s 失败: %w", src, err)
	}

	if err := f.verify(src, tmp); err != nil {
		os.Remove(tmp)
		f.logger.Printf("校验失败，已丢弃临时文件，源文件未动: %s: %v", src, err)
		return err
	}

	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("移动临时文件到最终路径失败: %w", err)
	}
	f.logger.Printf("传输完成 (%s): %s -> %s", mode, src, dst)

	if mode == ModeMove {
		if err := os.Remove(src); err != nil {
			// 目标已经校验落地，回收失败只降级为警告
			f.logger.Printf("警告: 源文件回收失败: %s: %v", src, err)
			return fmt.Errorf("源文件回收失败: %w", err)
		}
	}
	return nil
}

// verify 对比大小和全文件哈希。大文件也必须完整校验，
// 按大小抄近路是已知的数据丢失隐患。
func (f *defaultFileOps) verify(src, dst string) error {
	srcInfo, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("读取源文件信息失败: %w", err)
	}
	dstInfo, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("读取落盘文件信息失败: %w", err)
	}
	if srcInfo.Size() != dstInfo.Size() {
		return fmt.Errorf("大小不一致 (%d != %d): %w", srcInfo.Size(), dstInfo.Size(), ErrVerificationFailed)
	}

	srcHash, err := hasher.CalculateSHA256(src)
	if err != nil {
		return fmt.Errorf("计算源文件哈希失败: %w", err)
	}
	dstHash, err := hasher.CalculateSHA256(dst)
	if err != nil {
		return fmt.Errorf("计算落盘文件哈希失败: %w", err)
	}
	if srcHash != dstHash {
		return fmt.Errorf("哈希不一致: %w", ErrVerificationFailed)
	}
	return nil
}

// uniquePath 在目标已存在时追加三位计数器，从 001 起。
func uniquePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	stem := strings.TrimSuffix(filepath.Base(path), ext)
	for counter := 1; ; counter++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s_%03d%s", stem, counter, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// CopyToQuarantine 把文件复制进隔离区。隔离永远只复制，绝不删除源，
// 同名时追加计数器避免覆盖。返回实际落盘路径。
func (f *defaultFileOps) CopyToQuarantine(src, quarantineDir string) (string, error) {
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return "", fmt.Errorf("创建隔离目录失败: %w", err)
	}
	dst := uniquePath(filepath.Join(quarantineDir, filepath.Base(src)))
	if err := f.Transfer(src, dst, ModeCopy); err != nil {
		return "", err
	}
	f.logger.Printf("已隔离: %s -> %s", src, dst)
	return dst, nil
}

// PlaceWithStructure 把文件搬进区域目录并保留它在源树里的相对路径，
// 用于元数据和无法识别文件的归档。返回实际落盘路径。
func (f *defaultFileOps) PlaceWithStructure(src, srcRoot, areaDir string, mode Mode) (string, error) {
	rel, err := filepath.Rel(srcRoot, src)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = filepath.Base(src)
	}
	dst := uniquePath(filepath.Join(areaDir, rel))
	if err := f.Transfer(src, dst, mode); err != nil {
		return "", err
	}
	return dst, nil
}

// MoveEntry 把一个文件或整个目录挪进目标目录，同名时追加计数器。
// 优先直接改名，跨文件系统时退化为逐文件带校验的搬运。
func (f *defaultFileOps) MoveEntry(src, dstDir string) (string, error) {
	if err := os.MkdirAll(dstDir, 0755); err != nil {
		return "", fmt.Errorf("创建目标目录失败: %w", err)
	}
	dst := uniquePath(filepath.Join(dstDir, filepath.Base(src)))

	if err := os.Rename(src, dst); err == nil {
		f.logger.Printf("已挪动: %s -> %s", src, dst)
		return dst, nil
	}

	info, err := os.Stat(src)
	if err != nil {
		return "", fmt.Errorf("读取待挪动条目失败: %w", err)
	}
	if !info.IsDir() {
		if err := f.Transfer(src, dst, ModeMove); err != nil {
			return "", err
		}
		return dst, nil
	}

	// 跨文件系统的目录：逐文件带校验搬运，完成后清掉残壳
	err = filepath.Walk(src, func(path string, fi os.FileInfo, walkErr error) error {
		if walkErr != nil || fi.IsDir() {
			return walkErr
		}
		rel, relErr := filepath.Rel(src, path)
		if relErr != nil {
			return relErr
		}
		return f.Transfer(path, filepath.Join(dst, rel), ModeMove)
	})
	if err != nil {
		return "", fmt.Errorf("搬运目录 %s 失败: %w", src, err)
	}
	if err := os.RemoveAll(src); err != nil {
		f.logger.Printf("警告: 清理已搬空的目录失败: %s: %v", src, err)
	}
	f.logger.Printf("已挪动目录: %s -> %s", src, dst)
	return dst, nil
}

// RemoveNuisanceFiles 删除源树里的系统垃圾文件，按小写文件名匹配。
func (f *defaultFileOps) RemoveNuisanceFiles(root string) (int, error) {
	removed := 0
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if nuisanceFileNames[strings.ToLower(info.Name())] {
			if rmErr := os.Remove(path); rmErr != nil {
				f.logger.Printf("警告: 删除垃圾文件失败: %s: %v", path, rmErr)
				return nil
			}
			f.logger.Printf("已删除垃圾文件: %s", path)
			removed++
		}
		return nil
	})
	return removed, err
}

// PruneEmptyDirs 自底向上删除空目录，root 本身保留。
func (f *defaultFileOps) PruneEmptyDirs(root string) (int, error) {
	var dirs []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() && path != root {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	// 深目录在前，保证子目录先于父目录被清掉
	sort.Slice(dirs, func(i, j int) bool { return len(dirs[i]) > len(dirs[j]) })

	pruned := 0
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			continue
		}
		if err := os.Remove(dir); err == nil {
			f.logger.Printf("已删除空目录: %s", dir)
			pruned++
		}
	}
	return pruned, nil
}

// ApplyFileMode 设置目标文件权限，失败由调用方决定是否忽略。
func (f *defaultFileOps) ApplyFileMode(path string, mode os.FileMode) error {
	if err := os.Chmod(path, mode); err != nil {
		return fmt.Errorf("设置权限失败: %w", err)
	}
	return nil
}

// ApplyGroup 只调整属组，属主保持不变。gid 为负值时什么都不做。
func (f *defaultFileOps) ApplyGroup(path string, gid int) error {
	if gid < 0 {
		return nil
	}
	if err := os.Chown(path, -1, gid); err != nil {
		return fmt.Errorf("设置属组失败: %w", err)
	}
	return nil
}
