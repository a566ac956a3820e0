// Package main provides the skillrun-mcp binary, an MCP server that
// lets AI agents list, validate, and run skills.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/viper"

	"github.com/ormasoftchile/skillrun/pkg/catalog"
	smcp "github.com/ormasoftchile/skillrun/pkg/ecosystem/mcp"
	"github.com/ormasoftchile/skillrun/pkg/memory"
	"github.com/ormasoftchile/skillrun/pkg/runtime"
	"github.com/ormasoftchile/skillrun/pkg/tools"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	viper.SetEnvPrefix("SKILLRUN")
	viper.AutomaticEnv()
	viper.SetDefault("skills_dir", "./skills")

	cat, err := catalog.NewDirCatalog(viper.GetString("skills_dir"))
	if err != nil {
		return err
	}

	engine := runtime.NewEngine(tools.NewMemoryRegistry())
	engine.Catalog = cat
	engine.Sink = memory.NopSink{}

	ctx := context.Background()
	if dbPath, err := memory.DefaultDBPath(); err == nil {
		if sink, err := memory.OpenSQLite(ctx, dbPath); err == nil {
			engine.Sink = sink
			defer sink.Close()
		}
	}

	s := smcp.NewServer(version, &smcp.Handlers{Engine: engine})
	return server.ServeStdio(s)
}
