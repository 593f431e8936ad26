package main

import (
	"PICs_Importer/config"
	"PICs_Importer/pkg/fileops"
	"PICs_Importer/pkg/importer"
	"PICs_Importer/pkg/logger"
	"PICs_Importer/pkg/maintenance"
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"os/user"
	"path/filepath"
	"regexp"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
)

const program = "PICs_Importer"
const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	// --- 1. 定义命令行参数 ---
	action := flag.String("action", "import", "要执行的操作: import, manifest")

	var source, dest string
	flag.StringVar(&source, "source", "", "导入源目录（省略时使用上次记住的路径）")
	flag.StringVar(&source, "s", "", "-source 的简写")
	flag.StringVar(&dest, "dest", "", "归档目标目录（省略时使用上次记住的路径）")
	flag.StringVar(&dest, "d", "", "-dest 的简写")

	var dryRun, copyMode, verbose, showVersion bool
	flag.BoolVar(&dryRun, "dry-run", false, "演练模式：只归类统计，不碰任何文件")
	flag.BoolVar(&dryRun, "n", false, "-dry-run 的简写")
	flag.BoolVar(&copyMode, "copy", false, "复制而非移动源文件")
	flag.BoolVar(&copyMode, "c", false, "-copy 的简写")
	flag.BoolVar(&verbose, "verbose", false, "输出调试级别日志")
	flag.BoolVar(&verbose, "v", false, "-verbose 的简写")
	flag.BoolVar(&showVersion, "version", false, "显示版本号并退出")
	flag.BoolVar(&showVersion, "V", false, "-version 的简写")

	fileModeArg := flag.String("mode", "", "入库文件的八进制权限，例如 0644")
	groupArg := flag.String("group", "", "入库文件的属组（组名或 GID）")
	var timezoneArg string
	flag.StringVar(&timezoneArg, "timezone", "", "无时区时间戳使用的 IANA 时区，例如 Asia/Shanghai")
	flag.StringVar(&timezoneArg, "tz", "", "-timezone 的简写")
	noConvert := flag.Bool("no-convert", false, "禁用旧格式视频到 H.265/MP4 的自动转码")
	workers := flag.Int("workers", 0, "并发工作协程数（0 表示 CPU 核数）")
	rootArg := flag.String("config", "", "程序根目录（配置与导入历史，默认 ~/.pics_importer）")

	flag.Parse()

	// --- 2. 加载配置与初始化日志 ---
	// .env 缺席不算错误，只是没有环境注入
	_ = godotenv.Load()

	if err := config.LoadConfig(*rootArg); err != nil {
		log.Fatalf("FATAL: 无法加载配置: %v", err)
	}
	if verbose {
		config.C.Logger.Level = "debug"
	}
	if err := logger.InitLogger(); err != nil {
		log.Fatalf("FATAL: 无法初始化日志: %v", err)
	}

	if showVersion {
		if verbose {
			fmt.Printf("%s version %s\n", program, version)
			fmt.Printf("程序根目录: %s\n", config.RootDir())
			return 0
		}
		fmt.Println(version)
		return 0
	}

	logDir := config.C.Logger.Path
	if !filepath.IsAbs(logDir) {
		logDir = filepath.Join(config.RootDir(), logDir)
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		slog.Error("无法创建日志目录", "path", logDir, "error", err)
		return 1
	}

	// Ctrl-C 转换为上下文取消，让进行中的校验先收尾
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- 3. 根据 action 参数执行相应的功能 ---
	switch *action {
	case "import":
		return runImport(ctx, logDir, source, dest, dryRun, copyMode, *fileModeArg, *groupArg, timezoneArg, *noConvert, *workers)
	case "manifest":
		return runManifest(ctx, logDir, dest)
	default:
		fmt.Printf("错误: 未知的 action '%s'\n", *action)
		flag.Usage()
		return 1
	}
}

func runImport(ctx context.Context, logDir, source, dest string, dryRun, copyMode bool, fileModeArg, groupArg, timezoneArg string, noConvert bool, workers int) int {
	// --- 4. 解析路径：命令行优先，其次上次记住的路径 ---
	if source == "" {
		source = config.C.History.LastSource
	}
	if dest == "" {
		dest = config.C.History.LastDestination
	}
	if source == "" || dest == "" {
		fmt.Println("错误: 必须提供源目录和目标目录（-source / -dest）")
		flag.Usage()
		return 1
	}
	source = expandUser(source)
	dest = expandUser(dest)
	if abs, err := filepath.Abs(source); err == nil {
		source = abs
	}
	if abs, err := filepath.Abs(dest); err == nil {
		dest = abs
	}

	if err := importer.ValidateTree(source, dest); err != nil {
		fmt.Printf("错误: %v\n", err)
		return 1
	}

	// --- 5. 解析权限、属组和时区 ---
	fileMode, modeStr, err := resolveFileMode(fileModeArg, config.C.History.LastFileMode)
	if err != nil {
		fmt.Printf("错误: %v\n", err)
		return 1
	}
	gid, groupStr, err := resolveGroup(groupArg, config.C.History.LastGroup)
	if err != nil {
		fmt.Printf("错误: %v\n", err)
		return 1
	}
	tzName := timezoneArg
	if tzName == "" {
		tzName = config.C.History.LastTimezone
	}
	if tzName == "" {
		tzName = config.C.Importer.Timezone
	}
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		fmt.Printf("错误: 无效的时区 %q: %v\n", tzName, err)
		return 1
	}

	mode := fileops.ModeMove
	if copyMode {
		mode = fileops.ModeCopy
	}
	if workers == 0 {
		workers = config.C.Importer.WorkerCount
	}

	// --- 6. 组装并运行导入器 ---
	imp, err := importer.New(importer.Options{
		Source:          source,
		Destination:     dest,
		RootDir:         config.RootDir(),
		LogDir:          logDir,
		Mode:            mode,
		DryRun:          dryRun,
		ConvertVideos:   config.C.Importer.ConvertVideos && !noConvert,
		FileMode:        fileMode,
		GroupID:         gid,
		WorkerCount:     workers,
		BatchSize:       config.C.Importer.BatchSize,
		MaxSeqPerSecond: config.C.Importer.MaxSequencePerSecond,
		Location:        loc,
		ExiftoolBin:     config.C.Importer.ExiftoolBin,
		FfmpegBin:       config.C.Importer.FfmpegBin,
		FfprobeBin:      config.C.Importer.FfprobeBin,
	})
	if err != nil {
		slog.Error("无法组装导入器", "error", err)
		return 1
	}
	defer imp.Close()

	if dryRun {
		fmt.Println("演练模式 - 不会移动任何文件")
	}
	fmt.Printf("源目录:     %s\n", source)
	fmt.Printf("目标目录:   %s\n", dest)
	fmt.Printf("传输模式:   %s\n", mode)

	err = imp.Run(ctx)
	switch {
	case errors.Is(err, context.Canceled):
		fmt.Println("\n操作被用户取消")
		imp.Stats().RenderSummary(os.Stdout)
		return 1
	case err != nil:
		slog.Error("导入失败", "error", err)
		return 1
	}

	imp.Stats().RenderSummary(os.Stdout)
	fmt.Printf("导入历史: %s\n", imp.HistoryFolder())

	if imp.Stats().HasFailures() {
		problems := imp.Stats().Failed() + imp.Stats().Unsorted()
		fmt.Printf("\n⚠ 处理完成，但有 %d 个文件未能入库\n", problems)
		return 1
	}

	// --- 7. 成功后记住本次参数，供下次运行作为默认值 ---
	if !dryRun {
		remembered := config.HistoryConfig{
			LastSource:      source,
			LastDestination: dest,
			LastFileMode:    modeStr,
			LastGroup:       groupStr,
			LastTimezone:    tzName,
		}
		if err := config.SaveRemembered(remembered); err != nil {
			slog.Warn("无法写回记住的路径", "error", err)
		}
	}

	fmt.Println("\n✓ 处理成功完成！")
	return 0
}

func runManifest(ctx context.Context, logDir, dest string) int {
	if dest == "" {
		dest = config.C.History.LastDestination
	}
	if dest == "" {
		fmt.Println("错误: manifest 操作需要归档目录（-dest）")
		return 1
	}
	dest = expandUser(dest)

	m, err := maintenance.NewMaintenance(logDir, config.C.Importer.WorkerCount)
	if err != nil {
		slog.Error("无法创建维护模块", "error", err)
		return 1
	}
	defer m.Close()

	slog.Info("开始生成归档完整性清单", "library", dest)
	manifestPath, err := m.GenerateArchiveManifest(ctx, dest, config.RootDir())
	if err != nil {
		slog.Error("生成清单失败", "error", err)
		return 1
	}
	fmt.Printf("清单已生成: %s\n", manifestPath)
	return 0
}

var octalModePattern = regexp.MustCompile(`^[0-7]{3,4}$`)

// resolveFileMode 解析 -mode 参数：命令行给出的非法值直接报错，
// 记住的非法值静默忽略（跟随系统默认）。
func resolveFileMode(arg, remembered string) (os.FileMode, string, error) {
	if arg != "" {
		mode, err := parseFileMode(arg)
		if err != nil {
			return 0, "", err
		}
		return mode, arg, nil
	}
	if remembered != "" {
		if mode, err := parseFileMode(remembered); err == nil {
			return mode, remembered, nil
		}
	}
	return 0, "", nil
}

func parseFileMode(s string) (os.FileMode, error) {
	if !octalModePattern.MatchString(s) {
		return 0, fmt.Errorf("无效的权限 %q，需要 3-4 位八进制，例如 0644", s)
	}
	v, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("无效的权限 %q: %w", s, err)
	}
	return os.FileMode(v), nil
}

// resolveGroup 解析 -group 参数，接受组名或数字 GID。
// 返回 -1 表示不调整属组。
func resolveGroup(arg, remembered string) (int, string, error) {
	if arg != "" {
		gid, err := parseGroup(arg)
		if err != nil {
			return -1, "", err
		}
		return gid, arg, nil
	}
	if remembered != "" {
		if gid, err := parseGroup(remembered); err == nil {
			return gid, remembered, nil
		}
	}
	return -1, "", nil
}

func parseGroup(s string) (int, error) {
	if gid, err := strconv.Atoi(s); err == nil {
		return gid, nil
	}
	grp, err := user.LookupGroup(s)
	if err != nil {
		return -1, fmt.Errorf("找不到属组 %q: %w", s, err)
	}
	gid, err := strconv.Atoi(grp.Gid)
	if err != nil {
		return -1, fmt.Errorf("属组 %q 的 GID 无法解析: %w", s, err)
	}
	return gid, nil
}

// expandUser 展开路径开头的 ~。
func expandUser(path string) string {
	if path == "~" || len(path) > 1 && path[0] == '~' && os.IsPathSeparator(path[1]) {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[1:])
	}
	return path
}
