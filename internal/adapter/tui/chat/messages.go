// Package chat is the interactive chat screen: conversations in tabs, a
// prompt editor, and the "generating" notice with its cancel shortcut.
package chat

// postedMsg carries a function posted to the main context.
type postedMsg struct {
	fn func()
}

// noticeMsg reports that the generating notice was shown or dismissed.
type noticeMsg struct{}

// cancelDoneMsg is returned once a cancel triggered from the screen returns.
type cancelDoneMsg struct {
	ran bool
}

// modelsMsg carries the result of a local model listing.
type modelsMsg struct {
	names []string
	err   error
}

// QuitMsg asks the program to exit.
type QuitMsg struct{}

// StreamTickMsg advances the progressive reveal of a reply.
type StreamTickMsg struct{}
