// internal/app/helpers.go
package app

import (
	"fmt"
	"net"
	"time"

	"github.com/petervdpas/livepad/internal/log"
)

// WaitTCP polls addr until it accepts connections.
func WaitTCP(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		c, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = c.Close()
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for %s", addr)
}

func logBanner(dir, cfgPath string) {
	log.Info("────────────────────────────────────────")
	log.Info("livepad workspace")
	log.Info(" Folder      : %s", dir)
	log.Info(" Config file : %s", cfgPath)
	log.Info("")
	log.Info(" Projects, plugins and the database live")
	log.Info(" below this folder.")
	log.Info("────────────────────────────────────────")
}
