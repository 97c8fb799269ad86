package main

import (
	"flag"
	"fmt"
	"os"

	"file-server-go/internal/app"
)

func main() {
	configPath := flag.String("config", "", "path to config.json (default: ./config.json)")
	flag.Parse()

	if err := app.Run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "server failed: %v\n", err)
		os.Exit(1)
	}
}
