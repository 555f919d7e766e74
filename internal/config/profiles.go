package config

import (
	"sort"
	"strings"

	"github.com/John-Robertt/romstream/internal/domain"
)

// DefaultSystem 是 CLI 与配置文件都未指定 system 时的默认平台。
const DefaultSystem = "psx"

var discArchives = []string{".zip", ".7z", ".rar"}

// builtinProfiles 是内置平台；romstream.json 的 systems 字段可以覆盖或新增。
var builtinProfiles = map[string]Profile{
	"psx": {
		SystemProfile: domain.SystemProfile{
			Name:         "psx",
			ArchiveExts:  discArchives,
			PlayableExts: []string{".chd", ".pbp", ".cue", ".iso", ".bin"},
			EmulatorArgs: "-batch -fullscreen -- {rom}",
		},
		Emulator: "duckstation-qt",
	},
	"ps2": {
		SystemProfile: domain.SystemProfile{
			Name:         "ps2",
			ArchiveExts:  discArchives,
			PlayableExts: []string{".chd", ".cso", ".iso", ".cue", ".bin"},
			EmulatorArgs: "-batch -fullscreen -- {rom}",
		},
		Emulator: "pcsx2-qt",
	},
	"saturn": {
		SystemProfile: domain.SystemProfile{
			Name:         "saturn",
			ArchiveExts:  discArchives,
			PlayableExts: []string{".chd", ".cue", ".iso", ".bin"},
		},
		Emulator: "mednafen",
	},
	"dreamcast": {
		SystemProfile: domain.SystemProfile{
			Name:         "dreamcast",
			ArchiveExts:  discArchives,
			PlayableExts: []string{".chd", ".gdi", ".cdi", ".cue", ".bin"},
		},
		Emulator: "flycast",
	},
	"gba": {
		SystemProfile: domain.SystemProfile{
			Name:         "gba",
			ArchiveExts:  discArchives,
			PlayableExts: []string{".gba", ".gbc", ".gb"},
			EmulatorArgs: "-f {rom}",
		},
		Emulator: "mgba-qt",
	},
	"snes": {
		SystemProfile: domain.SystemProfile{
			Name:         "snes",
			ArchiveExts:  discArchives,
			PlayableExts: []string{".sfc", ".smc"},
		},
		Emulator: "snes9x-gtk",
	},
	"generic": {
		SystemProfile: domain.SystemProfile{
			Name:        "generic",
			ArchiveExts: discArchives,
			PlayableExts: []string{
				".chd", ".gdi", ".cdi", ".cue", ".pbp", ".cso", ".rvz", ".gcm", ".wbfs", ".iso", ".bin",
				".nds", ".3ds", ".gba", ".gbc", ".gb", ".nes", ".sfc", ".smc",
				".md", ".gen", ".sms", ".gg", ".pce", ".n64", ".z64", ".v64",
			},
		},
	},
}

// Profile 是平台描述加上该平台的默认模拟器。
type Profile struct {
	domain.SystemProfile
	Emulator string
}

// ProfileConfig 对应 romstream.json 中 systems.<name> 的覆盖项；空字段表示沿用内置值。
type ProfileConfig struct {
	ArchiveExts  []string `json:"archive_exts"`
	PlayableExts []string `json:"playable_exts"`
	CatalogExts  []string `json:"catalog_exts"`
	Emulator     string   `json:"emulator"`
	EmulatorArgs *string  `json:"emulator_args"`
}

// Systems 返回内置平台名（排序）。
func Systems() []string {
	out := make([]string, 0, len(builtinProfiles))
	for k := range builtinProfiles {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func resolveProfile(name string, overrides map[string]ProfileConfig) (Profile, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	p, ok := builtinProfiles[name]
	p = cloneProfile(p)
	o, hasOverride := overrides[name]
	if !ok && !hasOverride {
		return Profile{}, false
	}
	p.Name = name
	if len(o.ArchiveExts) > 0 {
		p.ArchiveExts = normExts(o.ArchiveExts)
	}
	if len(o.PlayableExts) > 0 {
		p.PlayableExts = normExts(o.PlayableExts)
	}
	if len(o.CatalogExts) > 0 {
		p.CatalogExts = normExts(o.CatalogExts)
	}
	if s := strings.TrimSpace(o.Emulator); s != "" {
		p.Emulator = s
	}
	if o.EmulatorArgs != nil {
		p.EmulatorArgs = strings.TrimSpace(*o.EmulatorArgs)
	}
	return p, true
}

func cloneProfile(p Profile) Profile {
	p.ArchiveExts = append([]string(nil), p.ArchiveExts...)
	p.PlayableExts = append([]string(nil), p.PlayableExts...)
	p.CatalogExts = append([]string(nil), p.CatalogExts...)
	return p
}

// normExts 统一为小写并补齐前导 '.'，去重保序。
func normExts(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, e := range in {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}
