package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/tryitout/internal/client/cli"
	"github.com/dmitrijs2005/tryitout/internal/client/config"
)

func main() {

	ctx := context.Background()
	cfg := config.LoadConfig()
	app, err := cli.NewApp(ctx, cfg)

	if err != nil {
		log.Fatalf("%v", err)
		return
	}

	err = app.Execute(ctx)
	_ = app.Close()
	if err != nil {
		os.Exit(1)
	}

}
