package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"colloquy/internal/adapter/notify"
	"colloquy/internal/adapter/tui/chat"
)

// runChat starts the full-screen chat. Ctrl+C reaches the screen as a key,
// so only SIGTERM ends the program from outside.
func runChat(cmd *cobra.Command, f *GlobalFlags) error {
	cfg, err := f.loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	rt, err := initRuntime(ctx, cfg, runtimeOptions{terminalUI: true, serveMetrics: true})
	defer func() {
		if cerr := rt.close(); cerr != nil && rt.log != nil {
			rt.log.Warn("shutdown", "error", cerr)
		}
	}()
	if err != nil {
		return err
	}

	prog := chat.NewProgram(rt.log)
	ctrl := rt.newController(prog, notify.Tee(prog, notify.NewLog(rt.log)), nil)
	defer rt.stopController(ctrl)

	conv, _ := cmd.Flags().GetString("conversation")
	model := chat.NewModel(chat.ModelDeps{
		Store:        rt.store,
		Controller:   ctrl,
		Backend:      rt.llm.Backend,
		Notice:       prog.Notice(),
		Logger:       rt.log,
		Markdown:     cfg.UI.Markdown,
		WrapAt:       cfg.UI.WordWrap,
		Speed:        chat.ParseStreamSpeed(cfg.UI.StreamSpeed),
		Conversation: conv,
	})

	rt.log.Info("chat started", "conversations", rt.store.Len())
	return prog.Run(ctx, model)
}
