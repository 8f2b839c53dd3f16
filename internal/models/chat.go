package models

// MaxChatRunes caps the text of one chat message
const MaxChatRunes = 300

// ChatBackfill is how many recent messages a new chat subscriber receives
const ChatBackfill = 50

// MediaKind is the type of rich content attached to a message
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaGIF   MediaKind = "gif"
)

// Media is a structured attachment; it is rendered by URL, never as markup
type Media struct {
	Kind MediaKind `json:"kind"`
	URL  string    `json:"url"`
}

// ChatMessage is one entry under rooms/<code>/chat
type ChatMessage struct {
	ID         string `json:"-"`
	SenderID   string `json:"senderId"`
	SenderName string `json:"senderName"`
	Text       string `json:"text,omitempty"`
	Media      *Media `json:"media,omitempty"`
	Timestamp  int64  `json:"timestamp"`
}
