package main

import (
	"context"
	"fmt"
	"os"

	"github.com/understudy-ai/understudy-backend/internal/app"
	"github.com/understudy-ai/understudy-backend/internal/platform/shutdown"
)

func main() {
	cfg, err := app.LoadLearner(os.Args[1:])
	if err != nil {
		fmt.Printf("invalid configuration: %v\n", err)
		os.Exit(1)
	}

	l, err := app.NewLearner(cfg)
	if err != nil {
		fmt.Printf("failed to initialize learner: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := shutdown.NotifyContext(context.Background())
	defer stop()

	if err := l.Run(ctx); err != nil {
		fmt.Printf("learner exited: %v\n", err)
		os.Exit(1)
	}
}
