package main

import (
	"context"
	"os"

	"github.com/dshills/apisurface/internal/cli"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	os.Exit(cli.Execute(context.Background(), cli.BuildInfo{
		Version:   version,
		BuildTime: buildTime,
	}))
}
