package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"colloquy/internal/adapter/llm"
	"colloquy/internal/domain"
)

const modelListTimeout = 10 * time.Second

func newModelsCommand(g *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "Show the configured providers and the models the local provider serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig(cmd)
			if err != nil {
				return err
			}
			cfg.History.Backend = "none"

			rt, err := initRuntime(cmd.Context(), cfg, runtimeOptions{})
			defer rt.close()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), modelListTimeout)
			defer cancel()
			return printModels(ctx, cmd.OutOrStdout(), rt.llm.Backend)
		},
	}
}

func printModels(ctx context.Context, w io.Writer, b *llm.Backend) error {
	active := b.RemoteProvider()
	fmt.Fprintln(w, "Providers:")
	for _, name := range b.Providers() {
		marker := " "
		if name == active {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %s\n", marker, name)
	}

	tag := domain.ModeTag(b)
	if tag == "" {
		tag = "(none)"
	}
	fmt.Fprintf(w, "\nLocal mode: %t\nReplies tagged: %s\n", b.LocalMode(), tag)

	names, err := b.LocalModels(ctx)
	if err != nil {
		fmt.Fprintf(w, "\nLocal models unavailable: %v\n", err)
		return nil
	}
	local := b.LocalModel()
	fmt.Fprintln(w, "\nLocal models:")
	for _, name := range names {
		marker := " "
		if name == local {
			marker = "*"
		}
		fmt.Fprintf(w, "  %s %s\n", marker, name)
	}
	return nil
}
