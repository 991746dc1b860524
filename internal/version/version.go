package version

import (
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Заполняются через -ldflags "-X github.com/vladislavdragonenkov/ordercrud/internal/version.version=...".
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var resolveOnce sync.Once

// resolve подставляет данные VCS из сборки, если ldflags не заданы.
func resolve() {
	resolveOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, setting := range info.Settings {
			switch setting.Key {
			case "vcs.revision":
				if commit == "unknown" && setting.Value != "" {
					commit = setting.Value
				}
			case "vcs.time":
				if date == "unknown" && setting.Value != "" {
					date = setting.Value
				}
			}
		}
	})
}

// Info returns version information populated via -ldflags.
func Info() (v, c, d string) {
	resolve()
	return version, commit, date
}

func GetVersion() string {
	v, _, _ := Info()
	return v
}

func GetCommit() string {
	_, c, _ := Info()
	return c
}

func GetDate() string {
	_, _, d := Info()
	return d
}

func String() string {
	v, c, d := Info()
	return fmt.Sprintf("version=%s commit=%s date=%s", v, c, d)
}

// Fields возвращает сведения о сборке для стартового лога.
func Fields() log.Fields {
	v, c, d := Info()
	return log.Fields{
		"version": v,
		"commit":  c,
		"date":    d,
	}
}
