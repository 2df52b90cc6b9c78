package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"colloquy/internal/adapter/notify"
	"colloquy/internal/domain"
	"colloquy/internal/usecase/conversation"
	"colloquy/internal/usecase/mainloop"
	"colloquy/internal/usecase/request"
)

// errCancelled is returned by ask when the user cancels the request.
var errCancelled = errors.New("request cancelled")

// AskFlags configure a one-shot question.
type AskFlags struct {
	Conversation string
	Title        string
	Quiet        bool
}

// BindFlags registers the flags on fs.
func (f *AskFlags) BindFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&f.Conversation, "conversation", "c", "", "Continue the conversation with this ID or list number")
	fs.StringVar(&f.Title, "title", "", "Title of the new conversation (default: first line of the prompt)")
	fs.BoolVarP(&f.Quiet, "quiet", "q", false, "Do not print the generating notice")
}

func newAskCommand(g *GlobalFlags) *cobra.Command {
	f := &AskFlags{}
	cmd := &cobra.Command{
		Use:   "ask [prompt...]",
		Short: "Ask one question and print the reply",
		Long: `Ask sends a single prompt and prints the reply on stdout. Without
arguments, or with "-", the prompt is read from stdin. Ctrl+C cancels the
reply being generated; a second Ctrl+C exits.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, g, f, args)
		},
	}
	f.BindFlags(cmd.Flags())
	return cmd
}

func runAsk(cmd *cobra.Command, g *GlobalFlags, f *AskFlags, args []string) error {
	prompt, err := readPrompt(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg, err := g.loadConfig(cmd)
	if err != nil {
		return err
	}

	rt, err := initRuntime(cmd.Context(), cfg, runtimeOptions{})
	defer func() {
		if cerr := rt.close(); cerr != nil && rt.log != nil {
			rt.log.Warn("shutdown", "error", cerr)
		}
	}()
	if err != nil {
		return err
	}

	loop := mainloop.New(rt.log)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go loop.Run(loopCtx)

	noticeOut := cmd.ErrOrStderr()
	if f.Quiet {
		noticeOut = io.Discard
	}
	term := notify.NewTerminal(noticeOut, rt.log)
	ctrl := rt.newController(loop, term, nil)
	defer rt.stopController(ctrl)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	go cancelOnSignal(ctx, term, cancel)

	var (
		h         *request.Handle
		submitErr error
	)
	err = loop.Do(ctx, func() {
		convID, err := resolveConversation(rt.store, f, prompt)
		if err != nil {
			submitErr = err
			return
		}
		h, submitErr = ctrl.Submit(convID, prompt)
	})
	if err != nil {
		return err
	}
	if submitErr != nil {
		return submitErr
	}
	if h == nil {
		return fmt.Errorf("empty prompt: %w", domain.ErrInvalidInput)
	}

	res, err := h.Wait(ctx)
	if err != nil {
		return err
	}
	switch res.Outcome {
	case request.OutcomeCompleted:
		fmt.Fprintln(cmd.OutOrStdout(), res.Reply)
		return nil
	case request.OutcomeCancelled:
		return errCancelled
	default:
		return res.Err
	}
}

// cancelOnSignal cancels the request on the first interrupt and stops the
// command on the next one.
func cancelOnSignal(ctx context.Context, term *notify.Terminal, stop context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			if !term.Cancel() {
				stop()
				return
			}
		}
	}
}

// readPrompt joins args, or reads stdin when there are none or the only
// argument is "-".
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	return string(data), nil
}

// resolveConversation returns the conversation the prompt goes to, creating
// one when none was named.
func resolveConversation(store *conversation.Store, f *AskFlags, prompt string) (string, error) {
	if f.Conversation == "" {
		title := f.Title
		if title == "" {
			title = conversation.TitleFrom(prompt)
		}
		return store.Create(title).ID, nil
	}
	return lookupConversation(store, f.Conversation)
}
