package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/app/stream"
	"github.com/John-Robertt/romstream/internal/catalog"
	"github.com/John-Robertt/romstream/internal/config"
	"github.com/John-Robertt/romstream/internal/domain"
)

func TestParseArgs_PositionalURLAndSetFlags(t *testing.T) {
	ra, err := parseArgs([]string{"https://example.org/download/set/", "--system", "gba", "--look-ahead=3", "-v"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ra.CLI.CatalogURL != "https://example.org/download/set/" {
		t.Fatalf("CatalogURL 不符合预期：%q", ra.CLI.CatalogURL)
	}
	if !ra.CLI.SystemSet || ra.CLI.System != "gba" {
		t.Fatalf("system 应被显式设置为 gba：%+v", ra.CLI)
	}
	if !ra.CLI.LookAheadSet || ra.CLI.LookAhead != 3 {
		t.Fatalf("look-ahead 应被显式设置为 3：%+v", ra.CLI)
	}
	if ra.CLI.RegionSet || ra.CLI.EmulatorSet || ra.CLI.RateLimitSet {
		t.Fatalf("未指定的参数不应标记为已设置：%+v", ra.CLI)
	}
	if !ra.Verbose {
		t.Fatalf("期望 verbose=true")
	}
}

func TestParseArgs_DefaultsAreNotMarkedSet(t *testing.T) {
	ra, err := parseArgs([]string{"--url", "https://example.org/x/"})
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if ra.CLI.SystemSet || ra.CLI.LookAheadSet {
		t.Fatalf("默认值不应标记为已设置：%+v", ra.CLI)
	}
	if ra.CLI.System != config.DefaultSystem {
		t.Fatalf("默认 system 应为 %q，实际 %q", config.DefaultSystem, ra.CLI.System)
	}
}

func TestParseArgs_UsageErrors(t *testing.T) {
	cases := [][]string{
		{"--reset", "--reset-progress", "https://a/b"},
		{"https://a/b", "https://c/d"},
		{"--url", "https://a/b", "https://c/d"},
		{"--region", " "},
		{"--unknown"},
		{"--look-ahead", "x"},
	}
	for _, args := range cases {
		if _, err := parseArgs(args); err == nil {
			t.Fatalf("期望参数错误：%q", args)
		}
	}
}

func TestParseArgs_SameURLTwiceIsFine(t *testing.T) {
	if _, err := parseArgs([]string{"--url", "https://a/b", "https://a/b"}); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
}

func TestParseArgs_Help(t *testing.T) {
	_, err := parseArgs([]string{"--help"})
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("期望 pflag.ErrHelp，实际 %v", err)
	}
}

func TestPrintUsage_ListsFlags(t *testing.T) {
	var buf bytes.Buffer
	printUsage(&buf)
	for _, f := range []string{"--url", "--games-dir", "--system", "--reset-progress", "--rate-limit"} {
		if !strings.Contains(buf.String(), f) {
			t.Fatalf("用法说明缺少 %s：\n%s", f, buf.String())
		}
	}
}

func TestReadControls(t *testing.T) {
	var skips, quits int
	readControls(strings.NewReader("n\n  N \nhello\nq\nn\n"), func() { skips++ }, func() { quits++ })
	if skips != 2 {
		t.Fatalf("期望 2 次跳过，实际 %d", skips)
	}
	if quits != 1 {
		t.Fatalf("期望 1 次结束，实际 %d", quits)
	}
}

func TestReadControls_EOFDoesNotQuit(t *testing.T) {
	quits := 0
	readControls(strings.NewReader(""), func() {}, func() { quits++ })
	if quits != 0 {
		t.Fatalf("EOF 不应结束会话")
	}
}

func TestFatalItem_Codes(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&config.Error{Code: config.ErrCodeMissingCatalog}, config.ErrCodeMissingCatalog},
		{fmt.Errorf("%w：duckstation-qt", stream.ErrEmulatorMissing), errCodeEmulatorMissing},
		{&catalog.FetchError{URL: "https://a/b", Op: "fetch", Err: errors.New("boom")}, domain.ErrCodeCatalogFetch},
		{errors.New("disk full"), domain.ErrCodeIOFailed},
	}
	for _, c := range cases {
		it := fatalItem(c.err)
		if it.Status != domain.StatusFailed || it.ErrorCode != c.want {
			t.Fatalf("错误 %v 期望 %s，实际 %+v", c.err, c.want, it)
		}
	}
}

func TestEmitReport_NoTTY_StdoutOnlyJSON(t *testing.T) {
	rr := reportForError("run-1", "https://a/b", &config.Error{Code: config.ErrCodeMissingCatalog})

	var stdout, stderr bytes.Buffer
	emitReport(&stdout, &stderr, false, rr)

	var back domain.SessionReport
	if err := json.Unmarshal(stdout.Bytes(), &back); err != nil {
		t.Fatalf("stdout 不是合法的 SessionReport JSON：%v\nstdout=%q", err, stdout.String())
	}
	if back.RunID != "run-1" || back.Summary.Failed != 1 {
		t.Fatalf("报告内容不符合预期：%+v", back)
	}
	if !strings.Contains(stderr.String(), "完成：prepared=") {
		t.Fatalf("stderr 缺少完成摘要：%q", stderr.String())
	}
}

func TestEmitReport_TTY_SummaryAndFailures(t *testing.T) {
	rr := domain.SessionReport{Items: []domain.ItemResult{
		{FileName: "a.zip", Status: domain.StatusPlayed},
		{FileName: "b.7z", Status: domain.StatusFailed, ErrorCode: domain.ErrCodeExtraction, ErrorMsg: "crc"},
	}}
	rr.Finalize()

	var stdout, stderr bytes.Buffer
	emitReport(&stdout, &stderr, true, rr)

	if !strings.Contains(stdout.String(), "played=1") || !strings.Contains(stdout.String(), "failed=1") {
		t.Fatalf("摘要不符合预期：%q", stdout.String())
	}
	if strings.Contains(stdout.String(), "{") {
		t.Fatalf("TTY 模式不应输出 JSON：%q", stdout.String())
	}
	if !strings.Contains(stderr.String(), "b.7z extraction_failed: crc") {
		t.Fatalf("stderr 缺少失败条目：%q", stderr.String())
	}
}

func TestBuildSession_WiresComponents(t *testing.T) {
	eff := config.EffectiveConfig{
		CatalogURL: "https://example.org/download/set/",
		GamesDir:   t.TempDir(),
		System:     domain.SystemProfile{Name: "psx"},
		Emulator:   "duckstation-qt",
		LookAhead:  2,
	}
	sess, err := buildSession(eff, "run-1", zap.NewNop(), nil)
	if err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	if sess.Catalog == nil || sess.Playlist == nil || sess.Preparer == nil || sess.Launcher == nil {
		t.Fatalf("组件未装配完整：%+v", sess)
	}
	if sess.RunID != "run-1" {
		t.Fatalf("RunID 不符合预期：%q", sess.RunID)
	}
}

func TestBuildSession_InvalidSystemName(t *testing.T) {
	eff := config.EffectiveConfig{
		GamesDir: t.TempDir(),
		System:   domain.SystemProfile{Name: "../x"},
	}
	if _, err := buildSession(eff, "run-1", zap.NewNop(), nil); err == nil {
		t.Fatalf("期望非法的状态文件名报错")
	}
}
