// Package notify delivers formatted notifications to chat recipients.
package notify

// Message is one formatted notification. MediaURL is optional; when set the
// text is sent as the media caption.
type Message struct {
	Text     string
	MediaURL string
}
