package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/John-Robertt/romstream/internal/domain"
)

const (
	// ErrCodeInvalid 表示配置文件无法读取/解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
	// ErrCodeMissingCatalog 表示 CLI 与配置文件都没有给出目录 URL。
	ErrCodeMissingCatalog = "config_missing_catalog"
	// ErrCodeMissingEmulator 表示所选平台没有可用的模拟器配置。
	ErrCodeMissingEmulator = "config_missing_emulator"
)

// FileName 是配置文件名（位于 games 目录或 cwd）。
const FileName = "romstream.json"

const (
	DefaultGamesDir     = "games"
	DefaultLookAhead    = 2
	DefaultPollInterval = 500 * time.Millisecond
	DefaultGracePeriod  = 5 * time.Second

	maxLookAhead    = 8
	minPollInterval = 50 * time.Millisecond
)

// CLIArgs 是 CLI 暴露的入口参数，并保留"是否显式指定"的信息。
// 例如 --look-ahead=0 之类的非法值需要能与"未指定"区分开。
type CLIArgs struct {
	CatalogURL string
	GamesDir   string

	System    string
	SystemSet bool

	Region    string
	RegionSet bool

	Emulator    string
	EmulatorSet bool

	LookAhead    int
	LookAheadSet bool

	RateLimitKBps int
	RateLimitSet  bool

	Reset         bool
	ResetProgress bool
}

// FileConfig 对应 romstream.json 的解析结构。
type FileConfig struct {
	CatalogURL     string                   `json:"catalog_url"`
	GamesDir       string                   `json:"games_dir"`
	System         string                   `json:"system"`
	Emulator       string                   `json:"emulator"`
	EmulatorArgs   *string                  `json:"emulator_args"`
	Helper7z       string                   `json:"helper_7z"`
	Region         string                   `json:"region"`
	LookAhead      int                      `json:"look_ahead"`
	PollIntervalMS int                      `json:"poll_interval_ms"`
	GracePeriodMS  int                      `json:"grace_period_ms"`
	RateLimitKBps  int                      `json:"rate_limit_kbps"`
	UserAgent      string                   `json:"user_agent"`
	Proxy          *ProxyConfig             `json:"proxy"`
	Systems        map[string]ProfileConfig `json:"systems"`
}

type ProxyConfig struct {
	URL string `json:"url"`
}

// EffectiveConfig 是合并并做最小规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	CatalogURL string
	GamesDir   string

	System domain.SystemProfile

	Emulator string
	// EmulatorArgs 是已按 shell 规则拆分的参数模板（可能含 {rom} 占位符）。
	EmulatorArgs []string

	Helper7z string
	Region   string

	LookAhead    int
	PollInterval time.Duration
	GracePeriod  time.Duration
	// RateLimit 单位为字节/秒；0 表示不限速。
	RateLimit int

	UserAgent string
	ProxyURL  string

	ForceReset    bool
	ResetProgress bool

	// ConfigPath 是实际查找的配置文件路径；ConfigFound 表示它是否存在。
	ConfigPath  string
	ConfigFound bool
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeMissingCatalog:
		return fmt.Sprintf("%s：未指定目录 URL（参数 --url 或配置文件 %q 的 catalog_url）", e.Code, e.Path)
	case ErrCodeMissingEmulator:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return fmt.Sprintf("%s：未指定模拟器", e.Code)
	case ErrCodeInvalid:
		if e.Err != nil {
			return fmt.Sprintf("%s：配置文件 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置文件 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LoadEffective 发现并读取配置文件，然后与 CLI 参数合并为最终配置。
//
// 发现规则（固定）：
// 1) CLI 提供 games-dir：读取 <games-dir>/romstream.json（可选）
// 2) 否则读取 <cwd>/romstream.json（可选）
//
// 覆盖优先级（固定）：CLI > 配置文件 > 内置默认。
func LoadEffective(cwd string, cli CLIArgs) (EffectiveConfig, error) {
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	cfgDir := cwdAbs
	if strings.TrimSpace(cli.GamesDir) != "" {
		cfgDir = absCleanFrom(cwdAbs, cli.GamesDir)
	}
	cfgPath := filepath.Join(cfgDir, FileName)

	fc, exists, err := readFileConfig(cfgPath)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}

	eff, err := merge(cwdAbs, cli, fc, cfgPath)
	if err != nil {
		return EffectiveConfig{}, err
	}
	eff.ConfigPath = cfgPath
	eff.ConfigFound = exists
	return eff, nil
}

func merge(cwdAbs string, cli CLIArgs, fc FileConfig, cfgPath string) (EffectiveConfig, error) {
	invalid := func(format string, args ...any) error {
		return &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: fmt.Errorf(format, args...)}
	}

	if cli.Reset && cli.ResetProgress {
		return EffectiveConfig{}, invalid("--reset 与 --reset-progress 不能同时使用")
	}

	// catalog：CLI > config
	catalogURL := strings.TrimSpace(cli.CatalogURL)
	if catalogURL == "" {
		catalogURL = strings.TrimSpace(fc.CatalogURL)
	}
	if catalogURL == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingCatalog, Path: cfgPath}
	}
	if err := validateHTTPURL(catalogURL); err != nil {
		return EffectiveConfig{}, invalid("目录 URL 无效：%w", err)
	}

	// games_dir：CLI > config（相对 cwd）> 默认 <cwd>/games
	gamesDir := filepath.Join(cwdAbs, DefaultGamesDir)
	if strings.TrimSpace(cli.GamesDir) != "" {
		gamesDir = absCleanFrom(cwdAbs, cli.GamesDir)
	} else if strings.TrimSpace(fc.GamesDir) != "" {
		gamesDir = absCleanFrom(cwdAbs, fc.GamesDir)
	}

	system := DefaultSystem
	if cli.SystemSet {
		system = cli.System
	} else if strings.TrimSpace(fc.System) != "" {
		system = fc.System
	}
	profile, ok := resolveProfile(system, fc.Systems)
	if !ok {
		return EffectiveConfig{}, invalid("未知 system %q（内置：%s）", system, strings.Join(Systems(), ", "))
	}
	if len(profile.PlayableExts) == 0 {
		return EffectiveConfig{}, invalid("system %q 缺少 playable_exts", profile.Name)
	}

	// emulator：CLI > config > 平台默认
	emulator := profile.Emulator
	if cli.EmulatorSet {
		emulator = strings.TrimSpace(cli.Emulator)
	} else if strings.TrimSpace(fc.Emulator) != "" {
		emulator = strings.TrimSpace(fc.Emulator)
	}
	if emulator == "" {
		return EffectiveConfig{}, &Error{Code: ErrCodeMissingEmulator, Path: cfgPath, Err: fmt.Errorf("system %q 没有默认模拟器，请通过 --emulator 或配置文件指定", profile.Name)}
	}

	argsTemplate := profile.EmulatorArgs
	if fc.EmulatorArgs != nil {
		argsTemplate = strings.TrimSpace(*fc.EmulatorArgs)
	}
	emuArgs, err := shlex.Split(argsTemplate)
	if err != nil {
		return EffectiveConfig{}, invalid("emulator_args 无法解析：%w", err)
	}
	profile.EmulatorArgs = argsTemplate

	region := strings.TrimSpace(fc.Region)
	if cli.RegionSet {
		region = strings.TrimSpace(cli.Region)
	}

	lookAhead := DefaultLookAhead
	if cli.LookAheadSet {
		lookAhead = cli.LookAhead
	} else if fc.LookAhead != 0 {
		lookAhead = fc.LookAhead
	}
	if lookAhead < 1 || lookAhead > maxLookAhead {
		return EffectiveConfig{}, invalid("look_ahead 必须在 [1, %d] 范围内，实际 %d", maxLookAhead, lookAhead)
	}

	poll := DefaultPollInterval
	if fc.PollIntervalMS > 0 {
		poll = time.Duration(fc.PollIntervalMS) * time.Millisecond
	}
	if poll < minPollInterval {
		poll = minPollInterval
	}

	grace := DefaultGracePeriod
	if fc.GracePeriodMS > 0 {
		grace = time.Duration(fc.GracePeriodMS) * time.Millisecond
	}

	rateKBps := fc.RateLimitKBps
	if cli.RateLimitSet {
		rateKBps = cli.RateLimitKBps
	}
	if rateKBps < 0 {
		return EffectiveConfig{}, invalid("rate_limit_kbps 不能为负数：%d", rateKBps)
	}

	proxyURL := ""
	if fc.Proxy != nil {
		proxyURL = strings.TrimSpace(fc.Proxy.URL)
	}
	if proxyURL != "" {
		if _, err := url.Parse(proxyURL); err != nil {
			return EffectiveConfig{}, invalid("proxy.url 无效：%w", err)
		}
	}

	return EffectiveConfig{
		CatalogURL:    catalogURL,
		GamesDir:      gamesDir,
		System:        profile.SystemProfile,
		Emulator:      emulator,
		EmulatorArgs:  emuArgs,
		Helper7z:      strings.TrimSpace(fc.Helper7z),
		Region:        region,
		LookAhead:     lookAhead,
		PollInterval:  poll,
		GracePeriod:   grace,
		RateLimit:     rateKBps * 1024,
		UserAgent:     strings.TrimSpace(fc.UserAgent),
		ProxyURL:      proxyURL,
		ForceReset:    cli.Reset,
		ResetProgress: cli.ResetProgress,
	}, nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("必须是 http/https：%q", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("缺少主机名：%q", raw)
	}
	return nil
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 JSON 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	if err := json.Unmarshal(b, &fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
