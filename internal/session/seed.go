package session

import (
	"github.com/petervdpas/livepad/internal/doc"
	"github.com/petervdpas/livepad/internal/sitetemplates"
)

// DemoProject is the tree a new project starts with when no template is
// named.
func DemoProject() doc.FileTree {
	return sitetemplates.MustTree(sitetemplates.Default)
}
