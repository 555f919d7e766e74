package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/domain"
	"github.com/John-Robertt/romstream/internal/infra/fsx"
	"github.com/John-Robertt/romstream/internal/scan"
)

const maxToolOutput = 16 << 10

var (
	// lookPath/knownHelperPaths 可在测试中替换。
	lookPath         = exec.LookPath
	knownHelperPaths = []string{
		"/usr/bin/7z",
		"/usr/local/bin/7z",
		"/opt/homebrew/bin/7z",
		"/usr/lib/p7zip/7z",
		`C:\Program Files\7-Zip\7z.exe`,
		`C:\Program Files (x86)\7-Zip\7z.exe`,
	}
	helperNames = []string{"7z", "7za", "7zz"}
)

// Extractor 把归档解压到条目目录，并选出可玩文件。
type Extractor struct {
	Profile domain.SystemProfile
	// HelperPath 是配置指定的 7z 可执行文件；为空时自动查找。
	HelperPath string
	Logger     *zap.Logger
}

// Extract 解压 archivePath 到 destDir，返回选中的可玩文件路径。
//
// 解压先落到同级临时目录，成功后整体替换 destDir：中途失败不会留下"看起来像缓存命中"的半成品。
func (x Extractor) Extract(ctx context.Context, archivePath, destDir string) (string, error) {
	log := x.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	destDir = filepath.Clean(destDir)
	ext := archiveExt(archivePath)

	if err := fsx.EnsureDir(filepath.Dir(destDir)); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(filepath.Dir(destDir), "."+filepath.Base(destDir)+".extract-*")
	if err != nil {
		return "", err
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.RemoveAll(tmp)
		}
	}()

	tool, err := x.unpack(ctx, ext, archivePath, tmp)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", err
	}

	// destDir 此时不含可玩文件（否则是缓存命中，不会走到这里），可以直接替换。
	if err := os.RemoveAll(destDir); err != nil {
		return "", err
	}
	if err := fsx.Rename(tmp, destDir); err != nil {
		return "", err
	}
	keep = true
	log.Debug("archive extracted", zap.String("archive", archivePath), zap.String("dir", destDir), zap.String("tool", tool))

	return scan.SelectPlayable(destDir, x.Profile)
}

func (x Extractor) unpack(ctx context.Context, ext, archivePath, dest string) (string, error) {
	switch ext {
	case ".zip":
		if err := extractZip(ctx, archivePath, dest); err != nil {
			return "zip", wrapBuiltin(archivePath, "zip", err)
		}
		return "zip", nil
	case ".7z", ".rar":
		if helper := x.findHelper(); helper != "" {
			return helper, runHelper(ctx, helper, archivePath, dest)
		}
		if ext == ".7z" {
			if err := extract7z(ctx, archivePath, dest); err != nil {
				return "sevenzip", wrapBuiltin(archivePath, "sevenzip", err)
			}
			return "sevenzip", nil
		}
		return "", &ExtractionError{Archive: archivePath, Tool: "7z", Err: ErrMissingTool}
	default:
		return "", &ExtractionError{Archive: archivePath, Err: fmt.Errorf("%w：%s", ErrUnsupportedFormat, ext)}
	}
}

// findHelper 顺序：配置路径 → 常见安装位置 → PATH 中的 7z/7za/7zz。
func (x Extractor) findHelper() string {
	if p := strings.TrimSpace(x.HelperPath); p != "" {
		if isExecutable(p) {
			return p
		}
		if lp, err := lookPath(p); err == nil {
			return lp
		}
	}
	for _, p := range knownHelperPaths {
		if isExecutable(p) {
			return p
		}
	}
	for _, n := range helperNames {
		if lp, err := lookPath(n); err == nil {
			return lp
		}
	}
	return ""
}

func isExecutable(p string) bool {
	st, err := os.Stat(p)
	return err == nil && st.Mode().IsRegular()
}

func runHelper(ctx context.Context, helper, archivePath, dest string) error {
	cmd := exec.CommandContext(ctx, helper, "x", "-y", "-o"+dest, archivePath)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ee := &ExtractionError{Archive: archivePath, Tool: helper, Output: truncate(out.String(), maxToolOutput)}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		ee.ExitCode = exitErr.ExitCode()
	} else {
		ee.Err = err
	}
	return ee
}

func wrapBuiltin(archivePath, tool string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return &ExtractionError{Archive: archivePath, Tool: tool, Err: err}
}

func extractZip(ctx context.Context, archivePath, dest string) error {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()
	for _, f := range r.File {
		f := f
		if err := writeEntry(ctx, dest, f.Name, f.FileInfo().IsDir(), f.Open); err != nil {
			return err
		}
	}
	return nil
}

func extract7z(ctx context.Context, archivePath, dest string) error {
	r, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return err
	}
	defer r.Close()
	for _, f := range r.File {
		f := f
		if err := writeEntry(ctx, dest, f.Name, f.FileInfo().IsDir(), f.Open); err != nil {
			return err
		}
	}
	return nil
}

// writeEntry 写出归档中的单个条目；拒绝逃逸出 dest 的路径（zip-slip）。
func writeEntry(ctx context.Context, dest, name string, isDir bool, open func() (io.ReadCloser, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel := filepath.FromSlash(strings.ReplaceAll(name, `\`, "/"))
	if !filepath.IsLocal(rel) {
		return fmt.Errorf("归档条目路径非法：%q", name)
	}
	target := filepath.Join(dest, rel)
	if isDir {
		return fsx.EnsureDir(target)
	}
	if err := fsx.EnsureDir(filepath.Dir(target)); err != nil {
		return err
	}
	rc, err := open()
	if err != nil {
		return err
	}
	defer rc.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, ctxReader{ctx: ctx, r: rc}); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// archiveExt 返回归档扩展名；下载暂存文件的 .part 后缀会被忽略。
func archiveExt(p string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSuffix(p, ".part")))
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[len(s)-max:]
}
