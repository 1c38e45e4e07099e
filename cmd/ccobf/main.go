package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/apex/log"

	"github.com/rollno10/crossContractObfuscation/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := app.BuildRoot().ExecuteContext(ctx); err != nil {
		log.WithError(err).Error("ccobf failed")
		stop()
		os.Exit(1)
	}
}
