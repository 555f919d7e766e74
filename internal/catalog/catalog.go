package catalog

import (
	"context"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/John-Robertt/romstream/internal/domain"
	"github.com/John-Robertt/romstream/internal/title"
)

// Fetcher 是目录加载所需的最小 HTTP 能力（httpx.Session 实现它）。
type Fetcher interface {
	GetBytes(ctx context.Context, rawURL string) ([]byte, string, error)
}

// DefaultExcludes 是辅助条目的子串黑名单（大小写不敏感）。
var DefaultExcludes = []string{
	"torrent",
	"bios",
	"firmware",
	"_thumbs",
	"thumbs.",
	".sqlite",
	"_meta",
	"_files.xml",
}

// Loader 把远端目录转换为过滤后的 CatalogEntry 列表。
type Loader struct {
	Fetcher Fetcher
	Profile domain.SystemProfile
	// Region 为空表示不过滤。
	Region   string
	Excludes []string
	Logger   *zap.Logger
}

type rawFile struct {
	Name string
	Size int64
}

// Load 拉取并过滤目录。
//
// URL 含 /download/ 段时走元数据接口（JSON）；否则把 URL 当作 HTML 目录索引解析。
// 过滤后为空不是错误。
func (l Loader) Load(ctx context.Context, catalogURL string) ([]domain.CatalogEntry, error) {
	log := l.Logger
	if log == nil {
		log = zap.NewNop()
	}
	catalogURL = strings.TrimSpace(catalogURL)
	if u, err := url.Parse(catalogURL); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, &FetchError{URL: catalogURL, Op: "fetch", Err: errInvalidURL}
	}

	var files []rawFile
	if metaURL, ok := MetadataURL(catalogURL); ok {
		b, _, err := l.Fetcher.GetBytes(ctx, metaURL)
		if err != nil {
			return nil, &FetchError{URL: metaURL, Op: "fetch", Err: err}
		}
		files, err = parseMetadata(b)
		if err != nil {
			return nil, &FetchError{URL: metaURL, Op: "parse", Err: err}
		}
	} else {
		b, final, err := l.Fetcher.GetBytes(ctx, catalogURL)
		if err != nil {
			return nil, &FetchError{URL: catalogURL, Op: "fetch", Err: err}
		}
		files, err = parseIndex(b, final)
		if err != nil {
			return nil, &FetchError{URL: catalogURL, Op: "parse", Err: err}
		}
	}

	excludes := l.Excludes
	if excludes == nil {
		excludes = DefaultExcludes
	}

	out := make([]domain.CatalogEntry, 0, len(files))
	seen := make(map[string]struct{}, len(files))
	dropped := 0
	for _, f := range files {
		name := strings.TrimSpace(f.Name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		ext := strings.ToLower(filepath.Ext(name))
		if !l.Profile.AcceptsInCatalog(ext) || isExcluded(name, excludes) {
			dropped++
			continue
		}
		if l.Region != "" && !title.MatchRegion(name, l.Region) {
			dropped++
			continue
		}
		seen[name] = struct{}{}
		out = append(out, domain.CatalogEntry{
			FileName:     name,
			URL:          EntryURL(catalogURL, name),
			SizeBytes:    f.Size,
			Title:        title.Derive(name),
			IsCompressed: l.Profile.IsArchive(ext),
		})
	}
	log.Info("catalog loaded",
		zap.String("url", catalogURL),
		zap.Int("files", len(files)),
		zap.Int("entries", len(out)),
		zap.Int("dropped", dropped),
	)
	return out, nil
}

// MetadataURL 把第一个 /download/ 段替换为 /metadata/。
func MetadataURL(catalogURL string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(catalogURL))
	if err != nil {
		return "", false
	}
	i := strings.Index(u.Path+"/", "/download/")
	if i < 0 {
		return "", false
	}
	u.Path = strings.TrimRight(u.Path[:i]+"/metadata"+u.Path[i+len("/download"):], "/")
	u.RawPath = ""
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), true
}

// EntryURL = 目录 base URL + "/" + 已转义的文件名。
func EntryURL(catalogURL, fileName string) string {
	base := strings.TrimRight(strings.TrimSpace(catalogURL), "/")
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = strings.TrimRight(base[:i], "/")
	}
	parts := strings.Split(fileName, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return base + "/" + path.Join(parts...)
}

func isExcluded(name string, excludes []string) bool {
	low := strings.ToLower(name)
	for _, s := range excludes {
		if s != "" && strings.Contains(low, strings.ToLower(s)) {
			return true
		}
	}
	return false
}
