// Medicare Claims Auditor - explainable claim adjudication service.
// Copyright (c) 2025 Sophie Xue Zhang
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/SophieXueZhang/medicare-claims-auditor/internal/cli"
)

// Version is set via ldflags
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.Execute(ctx, Version); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}
