package domain

// Notifier surfaces the "generating" state to the user together with a cancel affordance.
// Both calls are fire-and-forget.
type Notifier interface {
	Show(title string, cancel func())
	Dismiss()
}

// Dispatcher runs functions on the main context that owns conversation state.
// Post must queue fn and return without running it on the caller's goroutine.
type Dispatcher interface {
	Post(fn func())
}
