package main

import (
	"context"
	"fmt"
	"os"

	"github.com/understudy-ai/understudy-backend/internal/app"
	"github.com/understudy-ai/understudy-backend/internal/platform/shutdown"
)

func main() {
	cfg, err := app.LoadServer(os.Args[1:])
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	srv, err := app.NewServer(cfg)
	if err != nil {
		fmt.Printf("failed to initialize server: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	if err := srv.Run(ctx); err != nil {
		fmt.Printf("server exited: %v\n", err)
		os.Exit(1)
	}
}
