package converter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const converterLogFileName = "converter.log"

// ErrConversionFailed 表示转码命令执行失败或没有产出有效文件
var ErrConversionFailed = errors.New("视频转码失败")

// 这些编码不需要转码，直接入库
var modernVideoCodecs = map[string]bool{
	"h264": true,
	"hevc": true,
	"h265": true,
	"av1":  true,
	"vp9":  true,
}

// Converter 负责旧格式视频的编码识别和 H.265/MP4 转码。
// 转码是可能失败的外部步骤，失败绝不触碰原始文件。
type Converter interface {
	Available() bool
	Codec(ctx context.Context, path string) (string, error)
	NeedsConversion(ctx context.Context, path string) bool
	Convert(ctx context.Context, src, dst string) error
	Close()
}

type defaultConverter struct {
	ffmpegBin  string
	ffprobeBin string
	available  bool
	logger     *log.Logger
	logFile    *os.File
}

// NewConverter 创建转码器。两个外部命令缺任何一个都按不可用降级，
// 不可用时所有视频按原样入库。
func NewConverter(logDir, ffmpegBin, ffprobeBin string) (Converter, error) {
	logFilePath := filepath.Join(logDir, converterLogFileName)
	file, err := os.OpenFile(logFilePath, os.O_TRUNC|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, fmt.Errorf("无法初始化转码器日志: %w", err)
	}
	logger := log.New(file, "CONVERTER: ", log.LstdFlags|log.Lshortfile)

	available := true
	if _, err := exec.LookPath(ffmpegBin); err != nil {
		logger.Printf("警告: 找不到 %s，视频转码不可用: %v", ffmpegBin, err)
		available = false
	}
	if _, err := exec.LookPath(ffprobeBin); err != nil {
		logger.Printf("警告: 找不到 %s，视频转码不可用: %v", ffprobeBin, err)
		available = false
	}

	return &defaultConverter{
		ffmpegBin:  ffmpegBin,
		ffprobeBin: ffprobeBin,
		available:  available,
		logger:     logger,
		logFile:    file,
	}, nil
}

func (c *defaultConverter) Available() bool {
	return c.available
}

func (c *defaultConverter) Close() {
	if c.logFile != nil {
		c.logger.Println("================== 转码任务结束 ==================")
		c.logFile.Close()
	}
}

// probeStreams 对应 ffprobe -show_streams 的输出结构
type probeStreams struct {
	Streams []struct {
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

// ParseProbeOutput 从 ffprobe 的 JSON 输出里取出首个视频流的编码名。
func ParseProbeOutput(output []byte) (string, error) {
	var parsed probeStreams
	if err := json.Unmarshal(output, &parsed); err != nil {
		return "", fmt.Errorf("解析 ffprobe 输出失败: %w", err)
	}
	if len(parsed.Streams) == 0 {
		return "", fmt.Errorf("ffprobe 输出里没有视频流")
	}
	return strings.ToLower(parsed.Streams[0].CodecName), nil
}

// IsModernCodec 判断编码是否已经是现代格式。
func IsModernCodec(codec string) bool {
	return modernVideoCodecs[strings.ToLower(codec)]
}

// Codec 识别视频首个视频流的编码。
func (c *defaultConverter) Codec(ctx context.Context, path string) (string, error) {
	if !c.available {
		return "", fmt.Errorf("转码工具不可用")
	}
	cmd := exec.CommandContext(ctx, c.ffprobeBin,
		"-v", "quiet", "-print_format", "json",
		"-show_streams", "-select_streams", "v:0", path)
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("ffprobe 执行失败: %w", err)
	}
	return ParseProbeOutput(output)
}

// NeedsConversion 判断视频是否需要转码。识别失败一律按不需要处理，
// 宁可原样入库也不能卡住流水线。
func (c *defaultConverter) NeedsConversion(ctx context.Context, path string) bool {
	if !c.available {
		return false
	}
	codec, err := c.Codec(ctx, path)
	if err != nil {
		c.logger.Printf("无法识别 %s 的编码，按原样入库: %v", path, err)
		return false
	}
	need := !IsModernCodec(codec)
	if need {
		c.logger.Printf("%s 使用旧编码 %s，需要转码", path, codec)
	}
	return need
}

// Convert 把视频转码为 H.265/MP4。先写目标目录里的临时文件，
// 成功后改名到最终路径，中途失败时清掉临时产物。
func (c *defaultConverter) Convert(ctx context.Context, src, dst string) error {
	if !c.available {
		return fmt.Errorf("转码工具不可用: %w", ErrConversionFailed)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("创建转码输出目录失败: %w", err)
	}

	tmp := filepath.Join(filepath.Dir(dst), ".converting_"+filepath.Base(dst))
	defer os.Remove(tmp)

	cmd := exec.CommandContext(ctx, c.ffmpegBin,
		"-i", src,
		"-c:v", "libx265",
		"-preset", "medium",
		"-crf", "28",
		"-c:a", "aac",
		"-movflags", "+faststart",
		"-map_metadata", "0:g",
		"-y",
		"-f", "mp4",
		tmp)
	c.logger.Printf("开始转码: %s -> %s", src, dst)
	if output, err := cmd.CombinedOutput(); err != nil {
		c.logger.Printf("ffmpeg 转码 %s 失败: %v\n%s", src, err, output)
		return fmt.Errorf("ffmpeg 执行失败: %w", ErrConversionFailed)
	}

	info, err := os.Stat(tmp)
	if err != nil || info.Size() == 0 {
		c.logger.Printf("转码 %s 没有产出有效文件", src)
		return fmt.Errorf("转码没有产出有效文件: %w", ErrConversionFailed)
	}

	if err := os.Rename(tmp, dst); err != nil {
		return fmt.Errorf("移动转码产物失败: %w", err)
	}
	c.logger.Printf("转码完成: %s -> %s ✅", src, dst)
	return nil
}
