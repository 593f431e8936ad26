package importer

import (
	"PICs_Importer/internal/models"
	"PICs_Importer/pkg/fileops"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// 照片扩展名：jpg 家族加上各家 RAW 和 HEIC
var photoExtensions = buildExtSet(
	".jpg", ".jpeg", ".jpe",
	".3fr", ".3pr", ".arw", ".ce1", ".ce2", ".cib", ".cmt", ".cr2", ".craw",
	".crw", ".dc2", ".dcr", ".dng", ".erf", ".exf", ".fff", ".fpx", ".gray",
	".grey", ".gry", ".heic", ".iiq", ".kc2", ".kdc", ".mdc", ".mef", ".mfw",
	".mos", ".mrw", ".ndd", ".nef", ".nop", ".nrw", ".nwb", ".orf", ".pcd",
	".pef", ".png", ".ptx", ".ra2", ".raf", ".raw", ".rw2", ".rwl", ".rwz",
	".sd0", ".sd1", ".sr2", ".srf", ".srw", ".st4", ".st5", ".st6", ".st7",
	".st8", ".stx", ".x3f", ".ycbcra",
)

// 视频扩展名：现代容器加上一大批遗留格式
var videoExtensions = buildExtSet(
	".3g2", ".3gp", ".asf", ".asx", ".avi", ".flv", ".m4v", ".mov", ".mp4",
	".mpg", ".rm", ".srt", ".swf", ".vob", ".wmv", ".aepx", ".ale", ".avp",
	".avs", ".bdm", ".bik", ".bin", ".bsf", ".camproj", ".cpi", ".dash",
	".divx", ".dmsm", ".dream", ".dvdmedia", ".dvr-ms", ".dzm", ".dzp",
	".edl", ".f4v", ".fbr", ".fcproject", ".hdmov", ".imovieproj", ".ism",
	".ismv", ".m2p", ".mkv", ".mod", ".moi", ".mpeg", ".mts", ".mxf", ".ogv",
	".otrkey", ".pds", ".prproj", ".psh", ".r3d", ".rcproject", ".rmvb",
	".scm", ".smil", ".snagproj", ".sqz", ".stx", ".swi", ".tix", ".trp",
	".ts", ".veg", ".vf", ".vro", ".webm", ".wlmp", ".wtv", ".xvid", ".yuv",
)

// 随媒体一起出现的元数据、配置类文件
var metadataExtensions = buildExtSet(
	".aae", ".dat", ".ini", ".cfg", ".xml", ".plist", ".json", ".txt", ".log",
	".info", ".meta", ".properties", ".conf", ".config", ".xmp",
)

func buildExtSet(exts ...string) map[string]bool {
	set := make(map[string]bool, len(exts))
	for _, e := range exts {
		set[e] = true
	}
	return set
}

// ClassifyPath 按扩展名判定文件类别。照片表优先于视频表（.stx 两边都有）。
func ClassifyPath(path string) models.Kind {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case photoExtensions[ext]:
		return models.KindPhoto
	case videoExtensions[ext]:
		return models.KindVideo
	case metadataExtensions[ext]:
		return models.KindMetadata
	default:
		return models.KindUnknown
	}
}

// Discovery 是一次源目录扫描的结果，三类文件各自按路径排好序。
type Discovery struct {
	Media    []*models.MediaFile
	Metadata []*models.MediaFile
	Unknown  []*models.MediaFile

	// NuisanceCount 是扫描中遇到的系统垃圾文件数，它们不参与导入。
	NuisanceCount int
}

// Discover 递归扫描源目录并按类别归档文件记录。
// 垃圾文件只计数不收录，单个文件的读取失败跳过该文件而不是中断扫描。
func Discover(sourceRoot string) (*Discovery, error) {
	d := &Discovery{}

	err := filepath.Walk(sourceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			// 根目录不可读是致命的，单个条目的失败只跳过它自己
			if path == sourceRoot {
				return err
			}
			return nil
		}
		if info.IsDir() {
			return nil
		}
		if fileops.IsNuisanceName(info.Name()) {
			d.NuisanceCount++
			return nil
		}

		f := &models.MediaFile{
			SourcePath: path,
			Size:       info.Size(),
			Kind:       ClassifyPath(path),
		}
		switch f.Kind {
		case models.KindPhoto, models.KindVideo:
			d.Media = append(d.Media, f)
		case models.KindMetadata:
			d.Metadata = append(d.Metadata, f)
		default:
			d.Unknown = append(d.Unknown, f)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("扫描源目录失败: %w", err)
	}

	sortByPath(d.Media)
	sortByPath(d.Metadata)
	sortByPath(d.Unknown)
	return d, nil
}

func sortByPath(files []*models.MediaFile) {
	sort.Slice(files, func(i, j int) bool { return files[i].SourcePath < files[j].SourcePath })
}

// ValidateTree 校验源和目标目录的合法性：源必须是已存在的目录，
// 并且源和目标不能互相嵌套，否则导入会吞掉自己的输出。
func ValidateTree(source, dest string) error {
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("源目录不存在: %s", source)
	}
	if !info.IsDir() {
		return fmt.Errorf("源路径不是目录: %s", source)
	}

	absSource, err := filepath.Abs(source)
	if err != nil {
		return fmt.Errorf("解析源路径失败: %w", err)
	}
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return fmt.Errorf("解析目标路径失败: %w", err)
	}

	if absSource == absDest {
		return fmt.Errorf("源和目标不能是同一个目录: %s", absSource)
	}
	if isSubPath(absSource, absDest) || isSubPath(absDest, absSource) {
		return fmt.Errorf("源和目标不能互相嵌套: %s 与 %s", absSource, absDest)
	}
	return nil
}

// isSubPath 报告 child 是否位于 parent 之下。
func isSubPath(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && rel != "."
}
