package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ImporterConfig 是导入引擎本体的配置。
type ImporterConfig struct {
	WorkerCount          int    `mapstructure:"workerCount"`
	BatchSize            int    `mapstructure:"batchSize"`
	MaxSequencePerSecond int    `mapstructure:"maxSequencePerSecond"`
	Timezone             string `mapstructure:"timezone"`
	FileMode             string `mapstructure:"fileMode"`
	GroupID              int    `mapstructure:"groupID"`
	ConvertVideos        bool   `mapstructure:"convertVideos"`
	ExiftoolBin          string `mapstructure:"exiftoolBin"`
	FfmpegBin            string `mapstructure:"ffmpegBin"`
	FfprobeBin           string `mapstructure:"ffprobeBin"`
}

// HistoryConfig 保存跨运行记忆的路径与偏好，成功导入后写回配置文件。
type HistoryConfig struct {
	LastSource      string `mapstructure:"lastSource"`
	LastDestination string `mapstructure:"lastDestination"`
	LastFileMode    string `mapstructure:"lastFileMode"`
	LastGroup       string `mapstructure:"lastGroup"`
	LastTimezone    string `mapstructure:"lastTimezone"`
}

type Config struct {
	Logger struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		Path   string `mapstructure:"path"`
	} `mapstructure:"logger"`

	Importer ImporterConfig `mapstructure:"importer"`
	History  HistoryConfig  `mapstructure:"history"`
}

var C *Config

// rootDir 记住本次加载使用的程序根目录，写回配置时复用。
var rootDir string

// DefaultRootDir 返回程序根目录的默认位置（~/.pics_importer）。
func DefaultRootDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".pics_importer"
	}
	return filepath.Join(home, ".pics_importer")
}

// LoadConfig 从程序根目录读取 config.yaml 并填充全局 C。
// 配置文件不存在时使用默认值，不视为错误。
func LoadConfig(path string) (err error) {
	if path == "" {
		path = DefaultRootDir()
	}
	rootDir = path

	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AutomaticEnv()

	setDefaults(v)

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return
		}
		err = nil
	}

	err = v.Unmarshal(&C)
	return
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "text")
	v.SetDefault("logger.path", "logs")

	v.SetDefault("importer.workerCount", 0) // 0 表示使用 CPU 核数
	v.SetDefault("importer.batchSize", 100)
	v.SetDefault("importer.maxSequencePerSecond", 1000)
	v.SetDefault("importer.timezone", "Asia/Shanghai")
	v.SetDefault("importer.fileMode", "")
	v.SetDefault("importer.groupID", -1)
	v.SetDefault("importer.convertVideos", true)
	v.SetDefault("importer.exiftoolBin", "exiftool")
	v.SetDefault("importer.ffmpegBin", "ffmpeg")
	v.SetDefault("importer.ffprobeBin", "ffprobe")
}

// RootDir 返回本次加载使用的程序根目录。
func RootDir() string {
	if rootDir == "" {
		return DefaultRootDir()
	}
	return rootDir
}

// SaveRemembered 把本次运行的路径与偏好写回程序根目录下的 config.yaml，
// 供下次运行作为默认值。写回失败只向调用方报告，不影响已完成的导入。
func SaveRemembered(h HistoryConfig) error {
	if C == nil {
		return fmt.Errorf("配置尚未加载")
	}
	C.History = h

	dir := RootDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("无法创建程序根目录: %w", err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.Set("logger", map[string]string{
		"level":  C.Logger.Level,
		"format": C.Logger.Format,
		"path":   C.Logger.Path,
	})
	v.Set("importer", map[string]interface{}{
		"workerCount":          C.Importer.WorkerCount,
		"batchSize":            C.Importer.BatchSize,
		"maxSequencePerSecond": C.Importer.MaxSequencePerSecond,
		"timezone":             C.Importer.Timezone,
		"fileMode":             C.Importer.FileMode,
		"groupID":              C.Importer.GroupID,
		"convertVideos":        C.Importer.ConvertVideos,
		"exiftoolBin":          C.Importer.ExiftoolBin,
		"ffmpegBin":            C.Importer.FfmpegBin,
		"ffprobeBin":           C.Importer.FfprobeBin,
	})
	v.Set("history", map[string]string{
		"lastSource":      h.LastSource,
		"lastDestination": h.LastDestination,
		"lastFileMode":    h.LastFileMode,
		"lastGroup":       h.LastGroup,
		"lastTimezone":    h.LastTimezone,
	})

	if err := v.WriteConfigAs(filepath.Join(dir, "config.yaml")); err != nil {
		return fmt.Errorf("无法写回配置文件: %w", err)
	}
	return nil
}
