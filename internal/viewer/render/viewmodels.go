// internal/viewer/render/viewmodels.go

package render

import (
	"sort"
	"time"

	"github.com/petervdpas/livepad/internal/lua"
	"github.com/petervdpas/livepad/internal/sitetemplates"
)

type BaseVM struct {
	Title       string
	Active      string
	ContentTmpl string
	BaseURL     string
	Version     string
}

// ---------- Home ----------

type ProjectRow struct {
	ID       string
	Open     bool
	Seq      uint64
	Pending  int
	Modified time.Time
}

type HomeVM struct {
	BaseVM
	Projects  []ProjectRow
	Templates []sitetemplates.TemplateMeta
	Plugins   []lua.PluginInfo
	Default   string // template preselected in the create form
}

// SortProjects orders rows by id.
func SortProjects(rows []ProjectRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
}

// ---------- Preview shell ----------

type ShellVM struct {
	Project string
	Entry   string
	Src     string // current entry executable, empty until it builds
}

// ---------- Logs ----------

type LogsVM struct {
	BaseVM
	Level string // minimum level shown, "" for all
}
