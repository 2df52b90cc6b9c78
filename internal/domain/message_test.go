package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageJSONOmitsEmptyModel(t *testing.T) {
	msg := Message{
		Role:      RoleUser,
		Content:   "hello",
		Timestamp: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	data, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"model"`)

	tagged := NewAssistantMessage("hi", "llama3")
	data, err = json.Marshal(tagged)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"model":"llama3"`)
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		wantErr bool
	}{
		{"user", NewUserMessage("Hello"), false},
		{"blank user", NewUserMessage("   "), true},
		{"user with tag", Message{Role: RoleUser, Content: "x", Model: "gpt"}, true},
		{"assistant", NewAssistantMessage("Hi", "openai"), false},
		{"empty assistant", NewAssistantMessage(" ", "openai"), true},
		{"untagged assistant", NewAssistantMessage("Hi", ""), false},
		{"system", Message{Role: RoleSystem, Content: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.msg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidInput)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConversationCloneDoesNotAlias(t *testing.T) {
	conv := Conversation{ID: "c1", Messages: []Message{NewUserMessage("a")}}
	cp := conv.Clone()
	cp.Messages[0].Content = "changed"
	cp.Messages = append(cp.Messages, NewUserMessage("b"))

	assert.Equal(t, "a", conv.Messages[0].Content)
	assert.Len(t, conv.Messages, 1)
}

type stubMode struct {
	local    bool
	model    string
	provider string
}

func (s stubMode) LocalMode() bool        { return s.local }
func (s stubMode) LocalModel() string     { return s.model }
func (s stubMode) RemoteProvider() string { return s.provider }

func TestModeTag(t *testing.T) {
	assert.Equal(t, "llama3", ModeTag(stubMode{local: true, model: "llama3", provider: "openai"}))
	assert.Equal(t, "openai", ModeTag(stubMode{local: false, model: "llama3", provider: "openai"}))
	assert.Equal(t, "openai", ModeTag(stubMode{local: true, provider: "openai"}), "local mode without a model falls back to the provider")
	assert.Equal(t, "", ModeTag(stubMode{local: true}))
	assert.Equal(t, "", ModeTag(stubMode{}))
	assert.Equal(t, "", ModeTag(nil))
}
