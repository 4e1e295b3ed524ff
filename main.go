// main.go
package main

import (
	"fmt"
	"os"

	"github.com/petervdpas/livepad/internal/cli"
)

// appVersion is set at build time via -ldflags "-X main.appVersion=x.y.z"
var appVersion = "dev"

func main() {
	cli.SetVersion(appVersion)

	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
