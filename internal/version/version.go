// Package version отдаёт сведения о сборке. Значения проставляются через
// -ldflags "-X github.com/vladislavdragonenkov/mall/internal/version.version=...";
// без них commit и дата берутся из VCS-меток go build.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"
)

const unknown = "unknown"

var (
	version = "dev"
	commit  = ""
	date    = ""
)

// Build описывает собранный бинарник.
type Build struct {
	Version string
	Commit  string
	Date    string
	// Modified - сборка из рабочей копии с незакоммиченными изменениями.
	Modified bool
}

// String возвращает строку для логов и -version.
func (b Build) String() string {
	s := fmt.Sprintf("mall %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
	if b.Modified {
		s += " dirty"
	}
	return s
}

var (
	once    sync.Once
	current Build
)

// Current возвращает сведения о текущей сборке.
func Current() Build {
	once.Do(func() {
		info, _ := debug.ReadBuildInfo()
		current = resolve(version, commit, date, info)
	})
	return current
}

// resolve дополняет значения из ldflags метками vcs.* из info.
func resolve(v, c, d string, info *debug.BuildInfo) Build {
	b := Build{Version: v, Commit: c, Date: d}
	if info != nil {
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if b.Commit == "" {
					b.Commit = shortRevision(setting.Value)
				}
			case "vcs.time":
				if b.Date == "" {
					b.Date = setting.Value
				}
			case "vcs.modified":
				b.Modified = setting.Value == "true"
			}
		}
	}

	if b.Version == "" {
		b.Version = "dev"
	}
	if b.Commit == "" {
		b.Commit = unknown
	}
	if b.Date == "" {
		b.Date = unknown
	}
	return b
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}
