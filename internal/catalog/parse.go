package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	errInvalidURL = errors.New("目录 URL 不合法")
	errNoFiles    = errors.New("元数据缺少 files 数组")
)

type metadataDoc struct {
	Files *[]metadataFile `json:"files"`
}

type metadataFile struct {
	Name string    `json:"name"`
	Size flexInt64 `json:"size"`
}

// flexInt64 兼容 "123" 与 123 两种写法；缺失或无法解析时为 0。
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		s = strings.TrimSpace(str)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fv, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			*f = 0
			return nil
		}
		n = int64(fv)
	}
	*f = flexInt64(n)
	return nil
}

func parseMetadata(b []byte) ([]rawFile, error) {
	var doc metadataDoc
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, err
	}
	if doc.Files == nil {
		return nil, errNoFiles
	}
	out := make([]rawFile, 0, len(*doc.Files))
	for _, f := range *doc.Files {
		out = append(out, rawFile{Name: f.Name, Size: int64(f.Size)})
	}
	return out, nil
}

var sizeRE = regexp.MustCompile(`(?i)^\s*([0-9]+(?:\.[0-9]+)?)\s*([KMGT]i?B?|B)?\s*$`)

// parseIndex 解析 HTML 目录索引：取页面内指向当前目录下文件的 <a href>。
// 表格布局时，同一行中能解析为大小的单元格作为 Size。
func parseIndex(html []byte, pageURL string) ([]rawFile, error) {
	if len(bytes.TrimSpace(html)) == 0 {
		return nil, errors.New("目录页为空")
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return nil, err
	}
	dir := base.Path
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}

	var out []rawFile
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "?") || strings.HasPrefix(href, "#") {
			return
		}
		u, err := base.Parse(href)
		if err != nil || u.Host != base.Host {
			return
		}
		if !strings.HasPrefix(u.Path, dir) || strings.HasSuffix(u.Path, "/") {
			return
		}
		name := strings.TrimPrefix(u.Path, dir)
		if name == "" || strings.Contains(name, "/") {
			return
		}
		out = append(out, rawFile{Name: path.Clean(name), Size: rowSize(a)})
	})
	if len(out) == 0 && doc.Find("a[href]").Length() == 0 {
		return nil, fmt.Errorf("目录页中没有链接")
	}
	return out, nil
}

func rowSize(a *goquery.Selection) int64 {
	row := a.Closest("tr")
	if row.Length() == 0 {
		return 0
	}
	var size int64
	row.Find("td").EachWithBreak(func(_ int, td *goquery.Selection) bool {
		if td.Find("a").Length() > 0 {
			return true
		}
		if n, ok := parseSize(td.Text()); ok {
			size = n
			return false
		}
		return true
	})
	return size
}

// parseSize 解析 "1234"、"1.5M"、"700 MiB" 之类的大小文本。
func parseSize(s string) (int64, bool) {
	m := sizeRE.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	mult := float64(1)
	switch strings.ToUpper(strings.TrimSuffix(strings.TrimSuffix(strings.ToUpper(m[2]), "B"), "I")) {
	case "K":
		mult = 1 << 10
	case "M":
		mult = 1 << 20
	case "G":
		mult = 1 << 30
	case "T":
		mult = 1 << 40
	}
	return int64(v * mult), true
}
