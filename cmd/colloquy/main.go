package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"colloquy/internal/infra/config"
)

// GlobalFlags are shared by every command.
type GlobalFlags struct {
	ConfigPath string
	LogLevel   string
	Local      bool
	Provider   string
	Model      string
}

// BindFlags registers the flags on fs.
func (f *GlobalFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.ConfigPath, "config", "", "Config file path (default $COLLOQUY_CONFIG or ~/.colloquy/config.yaml)")
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.BoolVar(&f.Local, "local", false, "Generate with the local model instead of the remote provider")
	fs.StringVar(&f.Provider, "provider", "", "Remote provider name")
	fs.StringVar(&f.Model, "model", "", "Local model name")
}

// configPath resolves the config file location: flag, then env, then default.
func (f *GlobalFlags) configPath() string {
	if f.ConfigPath != "" {
		return f.ConfigPath
	}
	if p := os.Getenv("COLLOQUY_CONFIG"); p != "" {
		return p
	}
	return config.DefaultPath()
}

// apply copies explicitly set flags over cfg.
func (f *GlobalFlags) apply(cfg *config.Config, fs *pflag.FlagSet) {
	if f.LogLevel != "" {
		cfg.Logger.Level = f.LogLevel
	}
	if fs.Changed("local") {
		cfg.LLM.LocalMode = f.Local
	}
	if f.Provider != "" {
		cfg.LLM.RemoteProvider = f.Provider
	}
	if f.Model != "" {
		cfg.LLM.LocalModel = f.Model
	}
}

// loadConfig reads the config file and applies the global flags.
func (f *GlobalFlags) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(f.configPath())
	if err != nil {
		return nil, err
	}
	f.apply(cfg, cmd.Flags())
	return cfg, nil
}

func newRootCommand() *cobra.Command {
	f := &GlobalFlags{}

	rootCmd := &cobra.Command{
		Use:   "colloquy",
		Short: "Terminal chat client for local and remote language models",
		Long: `colloquy keeps a list of conversations and asks a language model for
the next reply. Replies come from a local Ollama model in local mode and
from the selected remote provider otherwise. A reply being generated can
be cancelled at any time.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, f)
		},
	}
	f.BindFlags(rootCmd.PersistentFlags())
	rootCmd.Flags().String("conversation", "", "Open the conversation with this ID")

	rootCmd.AddCommand(
		newAskCommand(f),
		newModelsCommand(f),
		newHistoryCommand(f),
		newEncryptCommand(),
	)
	return rootCmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "colloquy: %v\n", err)
		os.Exit(1)
	}
}
