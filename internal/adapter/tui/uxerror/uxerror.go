// Package uxerror translates raw errors into user-friendly messages with
// recovery hints for the TUI.
package uxerror

import (
	"errors"
	"fmt"
	"strings"

	"colloquy/internal/adapter/tui/theme"
	"colloquy/internal/domain"
)

// FriendlyError is a user-facing error with suggestions for recovery.
type FriendlyError struct {
	Title   string   // short heading, e.g. "Connection Failed"
	Message string   // one-liner explanation
	Hints   []string // actionable recovery suggestions
	Raw     string   // original error text (for debug)
}

// Render formats the FriendlyError for display in the message list.
func (fe FriendlyError) Render() string {
	var sb strings.Builder
	sb.WriteString(fe.Title)
	if fe.Message != "" {
		sb.WriteString("\n  ")
		sb.WriteString(fe.Message)
	}
	if len(fe.Hints) > 0 {
		sb.WriteString("\n  Suggestions:")
		for _, h := range fe.Hints {
			sb.WriteString(fmt.Sprintf("\n    %s %s", theme.SymbolBullet, h))
		}
	}
	return sb.String()
}

type errorPattern struct {
	match   func(err error) bool
	produce func(err error) FriendlyError
}

// patterns are checked in order. Sentinels come first so wrapped errors are
// classified by errors.Is before any string matching.
var patterns = []errorPattern{
	{
		match: is(domain.ErrBusy),
		produce: constantError("Request In Progress",
			"A reply is still being generated.",
			[]string{"Wait for the reply", "Press Ctrl+X to cancel it"}),
	},
	{
		match: is(domain.ErrNoActiveBackend),
		produce: constantError("No Backend Selected",
			"Neither a local model nor a remote provider is active.",
			[]string{"Pick a provider with /provider <name>", "Enable local mode with /local on"}),
	},
	{
		match: is(domain.ErrProviderNotFound),
		produce: constantError("Unknown Provider",
			"The selected provider is not configured.",
			[]string{"List configured providers with /provider", "Add the provider under llm.providers in config"}),
	},
	{
		match: is(domain.ErrConversationNotFound),
		produce: constantError("Conversation Gone",
			"The conversation was removed before the reply arrived.",
			[]string{"Start a new conversation with /new"}),
	},
	{
		match: is(domain.ErrEmptyResponse),
		produce: constantError("Empty Reply",
			"The backend answered with no text.",
			[]string{"Try again", "Rephrase the prompt"}),
	},
	{
		match: is(domain.ErrContextOverflow),
		produce: constantError("Conversation Too Long",
			"The conversation no longer fits in the model's context window.",
			[]string{"Clear the conversation with /clear", "Lower llm.max_context_tokens in config"}),
	},
	{
		match: is(domain.ErrTimeout),
		produce: constantError("Request Timed Out",
			"The backend took too long to answer.",
			[]string{"Try a shorter prompt", "Increase request.timeout in config"}),
	},
	{
		match: is(domain.ErrAuthInvalid),
		produce: constantError("Authentication Failed",
			"The API key or credentials were rejected.",
			[]string{"Check the provider's api_key in config", "Set COLLOQUY_LLM_PROVIDER_<NAME>_API_KEY"}),
	},
	{
		match: is(domain.ErrRateLimit),
		produce: constantError("Rate Limited",
			"Too many requests were sent to the provider.",
			[]string{"Wait a moment before retrying", "Lower llm.rate_limit.requests_per_minute"}),
	},
	{
		match: is(domain.ErrServerError),
		produce: constantError("Provider Error",
			"The provider failed to handle the request.",
			[]string{"Try again in a moment", "Switch provider with /provider <name>"}),
	},
	{
		match: containsAny("circuit open"),
		produce: constantError("Provider Paused",
			"Recent calls to this provider kept failing, so calls are paused for a while.",
			[]string{"Wait and try again", "Switch provider with /provider <name>"}),
	},

	// Errors from outside the domain layer are matched on their text.
	{
		match: containsAny("connection refused", "dial tcp", "no such host"),
		produce: constantError("Connection Failed",
			"Could not reach the backend.",
			[]string{"Check your internet connection", "For local mode, check that Ollama is running", "Verify base_url in config"}),
	},
	{
		match: containsAny("deadline exceeded", "timeout"),
		produce: constantError("Request Timed Out",
			"The request took too long to complete.",
			[]string{"Try a shorter prompt", "Check your network connection"}),
	},
	{
		match: containsAny("402", "quota", "billing", "insufficient"),
		produce: constantError("Quota Exceeded",
			"Your API quota or billing limit has been reached.",
			[]string{"Check your provider's billing dashboard"}),
	},
}

// Humanize converts a raw error into a FriendlyError with recovery hints.
func Humanize(err error) FriendlyError {
	if err == nil {
		return FriendlyError{Title: "Unknown Error", Raw: "nil"}
	}

	for _, p := range patterns {
		if p.match(err) {
			return p.produce(err)
		}
	}

	return FriendlyError{
		Title:   "Unexpected Error",
		Message: err.Error(),
		Hints:   []string{"Try again", "Run with COLLOQUY_LOGGER_LEVEL=debug and check the log file"},
		Raw:     err.Error(),
	}
}

func is(target error) func(error) bool {
	return func(err error) bool { return errors.Is(err, target) }
}

// containsAny returns a match func that checks if the error string contains
// any of the given substrings (case-insensitive).
func containsAny(substrs ...string) func(error) bool {
	return func(err error) bool {
		lower := strings.ToLower(err.Error())
		for _, s := range substrs {
			if strings.Contains(lower, s) {
				return true
			}
		}
		return false
	}
}

// constantError returns a produce func that always returns the same FriendlyError.
func constantError(title, message string, hints []string) func(error) FriendlyError {
	return func(err error) FriendlyError {
		return FriendlyError{
			Title:   title,
			Message: message,
			Hints:   hints,
			Raw:     err.Error(),
		}
	}
}
