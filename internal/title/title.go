package title

import (
	"crypto/sha1"
	"encoding/hex"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxFolderNameLen 是缓存目录名的字节上限（含 hash 后缀；多数文件系统单段上限为 255，这里留足余量）。
const MaxFolderNameLen = 80

// hashLen 是目录名后缀中 FileName hash 的十六进制位数。
const hashLen = 8

var (
	// 区域/版本标签：(USA)、(En,Fr,De)、[!]、[b1] 等。
	tagRE   = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	spaceRE = regexp.MustCompile(`\s+`)
	// Windows 与 unix 下都不安全的字符。
	unsafeRE = regexp.MustCompile(`[<>:"/\\|?*]`)
)

// Derive 从文件名得到展示标题：去扩展名、去掉括号标签、规范化空白。
// 纯展示用途；身份永远是 FileName。
func Derive(fileName string) string {
	base := stem(filepath.Base(strings.TrimSpace(fileName)))
	t := tagRE.ReplaceAllString(base, " ")
	t = strings.ReplaceAll(t, "_", " ")
	t = strings.TrimSpace(spaceRE.ReplaceAllString(t, " "))
	if t == "" {
		return strings.TrimSpace(base)
	}
	return t
}

// FolderName 把文件名变为可直接落盘的目录名（保留标签，避免不同区域版本落到同一目录）。
//
// 规则：
// - 去扩展名
// - 不安全字符与控制字符替换为 '_'
// - 去掉首尾空格与 '.'
// - 按字节截断（不切断 UTF-8 字符），总长不超过 MaxFolderNameLen
// - 追加 "-<FileName 的短 hash>"：扩展名不同、截断后相同或清洗后相同的条目仍各占一个目录
func FolderName(fileName string) string {
	s := sanitize(stem(fileName))
	s = truncateBytes(s, MaxFolderNameLen-hashLen-1)
	s = strings.Trim(s, " .")
	if s == "" {
		s = "untitled"
	}
	return s + "-" + shortHash(fileName)
}

// StagingName 返回下载暂存文件名：<FolderName><扩展名>.part。
// 保留原扩展名，解压时按它分派格式。
func StagingName(fileName string) string {
	ext := sanitize(filepath.Ext(strings.TrimSpace(fileName)))
	return FolderName(fileName) + ext + ".part"
}

func sanitize(s string) string {
	s = unsafeRE.ReplaceAllString(s, "_")
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return '_'
		}
		return r
	}, s)
	return strings.TrimSpace(spaceRE.ReplaceAllString(s, " "))
}

func shortHash(fileName string) string {
	sum := sha1.Sum([]byte(strings.TrimSpace(fileName)))
	return hex.EncodeToString(sum[:])[:hashLen]
}

// MatchRegion 判断文件名是否包含指定区域标签，例如 region=USA 匹配 "(USA)"、"(USA, Europe)"、"(Japan, USA)"。
// region 为空时总是匹配。
func MatchRegion(fileName, region string) bool {
	region = strings.ToLower(strings.TrimSpace(region))
	if region == "" {
		return true
	}
	for _, tag := range tagRE.FindAllString(fileName, -1) {
		inner := strings.ToLower(strings.Trim(tag, "()[]"))
		for _, part := range strings.Split(inner, ",") {
			if strings.TrimSpace(part) == region {
				return true
			}
		}
	}
	return false
}

func stem(fileName string) string {
	s := strings.TrimSpace(fileName)
	return strings.TrimSuffix(s, filepath.Ext(s))
}

func truncateBytes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
