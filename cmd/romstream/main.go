package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/John-Robertt/romstream/internal/app/stream"
	"github.com/John-Robertt/romstream/internal/catalog"
	"github.com/John-Robertt/romstream/internal/config"
	"github.com/John-Robertt/romstream/internal/domain"
	"github.com/John-Robertt/romstream/internal/extract"
	"github.com/John-Robertt/romstream/internal/infra/cache"
	"github.com/John-Robertt/romstream/internal/infra/httpx"
	"github.com/John-Robertt/romstream/internal/playlist"
)

// errCodeEmulatorMissing 用于模拟器不可执行时合成的致命条目。
const errCodeEmulatorMissing = "emulator_missing"

func main() {
	os.Exit(runCmd(os.Args[1:]))
}

func runCmd(args []string) int {
	ra, err := parseArgs(args)
	if errors.Is(err, pflag.ErrHelp) {
		printUsage(os.Stdout)
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "参数错误：%v\n\n", err)
		printUsage(os.Stderr)
		return 2
	}

	cwd, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取当前目录失败：%v\n", err)
		return 1
	}

	runID := uuid.NewString()
	eff, err := config.LoadEffective(cwd, ra.CLI)
	if err != nil {
		emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), reportForError(runID, ra.CLI.CatalogURL, err))
		return 1
	}

	logger, err := newLogger(ra.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败：%v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progressW, interactive := pickProgressWriter()
	var obs stream.Observer
	if interactive {
		obs = newProgressUI(progressW)
	} else {
		obs = newPlainUI(os.Stderr)
	}

	sess, err := buildSession(eff, runID, logger, obs)
	if err != nil {
		emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), reportForError(runID, eff.CatalogURL, err))
		return 1
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go readControls(os.Stdin, sess.Skip, cancel)

	rr, err := sess.Run(ctx)
	if err != nil {
		logger.Error("session failed", zap.Error(err))
		rr.Items = append(rr.Items, fatalItem(err))
		rr.Finalize()
		emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), rr)
		return 1
	}
	emitReport(os.Stdout, os.Stderr, isTTY(os.Stdout), rr)
	return 0
}

type runArgs struct {
	CLI     config.CLIArgs
	Verbose bool
}

func newFlagSet(ra *runArgs) *pflag.FlagSet {
	fs := pflag.NewFlagSet("romstream", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&ra.CLI.CatalogURL, "url", "", "目录 URL（也可作为位置参数）")
	fs.StringVar(&ra.CLI.GamesDir, "games-dir", "", "本地缓存目录（默认 ./games）")
	fs.StringVar(&ra.CLI.System, "system", config.DefaultSystem, "平台："+strings.Join(config.Systems(), "|"))
	fs.StringVar(&ra.CLI.Region, "region", "", "只保留标题标签包含该地区的条目，例如 USA")
	fs.StringVar(&ra.CLI.Emulator, "emulator", "", "模拟器可执行文件（覆盖平台默认）")
	fs.IntVar(&ra.CLI.LookAhead, "look-ahead", config.DefaultLookAhead, "预先准备的游戏数")
	fs.IntVar(&ra.CLI.RateLimitKBps, "rate-limit", 0, "下载限速 KB/s（0 表示不限速）")
	fs.BoolVar(&ra.CLI.Reset, "reset", false, "丢弃播放列表并重新洗牌")
	fs.BoolVar(&ra.CLI.ResetProgress, "reset-progress", false, "保留顺序，从头开始播放")
	fs.BoolVarP(&ra.Verbose, "verbose", "v", false, "输出调试日志")
	return fs
}

func parseArgs(args []string) (runArgs, error) {
	ra := runArgs{}
	fs := newFlagSet(&ra)
	if err := fs.Parse(args); err != nil {
		return runArgs{}, err
	}

	ra.CLI.SystemSet = fs.Changed("system")
	ra.CLI.RegionSet = fs.Changed("region")
	ra.CLI.EmulatorSet = fs.Changed("emulator")
	ra.CLI.LookAheadSet = fs.Changed("look-ahead")
	ra.CLI.RateLimitSet = fs.Changed("rate-limit")

	switch rest := fs.Args(); len(rest) {
	case 0:
	case 1:
		if ra.CLI.CatalogURL != "" && ra.CLI.CatalogURL != rest[0] {
			return runArgs{}, fmt.Errorf("重复的目录 URL：%q 与 %q", ra.CLI.CatalogURL, rest[0])
		}
		ra.CLI.CatalogURL = rest[0]
	default:
		return runArgs{}, fmt.Errorf("多余的参数：%q", rest[1:])
	}

	if ra.CLI.Reset && ra.CLI.ResetProgress {
		return runArgs{}, fmt.Errorf("--reset 与 --reset-progress 不能同时使用")
	}
	if ra.CLI.RegionSet && strings.TrimSpace(ra.CLI.Region) == "" {
		return runArgs{}, fmt.Errorf("--region 不能为空")
	}
	return ra, nil
}

func printUsage(w io.Writer) {
	var ra runArgs
	fmt.Fprint(w, `用法：
  romstream [url] [flags]

从远程目录随机串流游戏：后台预先下载/解压，前台依次启动模拟器。
运行中输入 n 回车跳到下一个，输入 q 回车结束。

参数：
`)
	fmt.Fprint(w, newFlagSet(&ra).FlagUsages())
}

// buildSession 根据最终配置组装各组件。
func buildSession(eff config.EffectiveConfig, runID string, logger *zap.Logger, obs stream.Observer) (*stream.Session, error) {
	store := cache.New(eff.GamesDir)
	if err := store.Prepare(); err != nil {
		return nil, fmt.Errorf("创建缓存目录失败：%w", err)
	}
	statePath, err := store.StatePath(eff.System.Name)
	if err != nil {
		return nil, err
	}

	hs, err := httpx.NewSession(httpx.Options{
		ProxyURL:  eff.ProxyURL,
		UserAgent: eff.UserAgent,
		RateLimit: eff.RateLimit,
		Logger:    logger.Named("httpx"),
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 HTTP 会话失败：%w", err)
	}

	var progress func(string, int64, int64)
	if obs != nil {
		progress = obs.OnDownloadProgress
	}

	return &stream.Session{
		Config: eff,
		RunID:  runID,
		Catalog: &catalog.Loader{
			Fetcher: hs,
			Profile: eff.System,
			Region:  eff.Region,
			Logger:  logger.Named("catalog"),
		},
		Playlist: playlist.New(playlist.Options{
			Path:   statePath,
			Logger: logger.Named("playlist"),
		}),
		Preparer: &stream.EntryPreparer{
			Store:      store,
			Profile:    eff.System,
			Downloader: hs,
			Extractor: &extract.Extractor{
				Profile:    eff.System,
				HelperPath: eff.Helper7z,
				Logger:     logger.Named("extract"),
			},
			Logger:   logger.Named("prepare"),
			Progress: progress,
		},
		Launcher: stream.ExecLauncher{
			Emulator: eff.Emulator,
			Args:     eff.EmulatorArgs,
			Logger:   logger.Named("launcher"),
		},
		Logger:   logger,
		Observer: obs,
	}, nil
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stderr"}
		return cfg.Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Sampling = nil
	return cfg.Build()
}

// readControls 逐行读取控制命令：n 跳过当前游戏，q 结束会话。
// 输入结束（EOF）不会结束会话。
func readControls(r io.Reader, skip func(), quit func()) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		switch strings.ToLower(strings.TrimSpace(sc.Text())) {
		case "n", "next":
			skip()
		case "q", "quit":
			quit()
			return
		}
	}
}

func fatalItem(err error) domain.ItemResult {
	code := config.Code(err)
	switch {
	case code != "":
	case errors.Is(err, stream.ErrEmulatorMissing):
		code = errCodeEmulatorMissing
	case catalog.IsFetchError(err):
		code = domain.ErrCodeCatalogFetch
	default:
		code = domain.ErrCodeIOFailed
	}
	return domain.ItemResult{
		Status:    domain.StatusFailed,
		ErrorCode: code,
		ErrorMsg:  err.Error(),
	}
}

func reportForError(runID, catalogURL string, err error) domain.SessionReport {
	now := time.Now().UTC()
	rr := domain.SessionReport{
		RunID:      runID,
		CatalogURL: catalogURL,
		StartedAt:  now,
		FinishedAt: now,
		Items:      []domain.ItemResult{fatalItem(err)},
	}
	rr.Finalize()
	return rr
}

func emitReport(stdout, stderr io.Writer, tty bool, rr domain.SessionReport) {
	summary := fmt.Sprintf("完成：prepared=%d cache_hits=%d failed=%d played=%d skipped=%d\n",
		rr.Summary.Prepared, rr.Summary.CacheHits, rr.Summary.Failed, rr.Summary.Played, rr.Summary.Skipped,
	)
	if tty {
		fmt.Fprint(stdout, summary)
		for _, it := range rr.Items {
			if it.Status != domain.StatusFailed {
				continue
			}
			key := it.FileName
			if key == "" {
				key = "<session>"
			}
			fmt.Fprintf(stderr, "%s %s: %s\n", key, it.ErrorCode, it.ErrorMsg)
		}
		return
	}

	// stdout 非 TTY：stdout 只输出一个 SessionReport JSON，摘要走 stderr。
	_ = json.NewEncoder(stdout).Encode(rr)
	fmt.Fprint(stderr, summary)
}

func isTTY(f *os.File) bool {
	fi, err := f.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func pickProgressWriter() (io.Writer, bool) {
	if isTTY(os.Stderr) {
		return os.Stderr, true
	}
	if isTTY(os.Stdout) {
		return os.Stdout, true
	}
	return nil, false
}
