package chat

import "time"

// ---------------------------------------------
// Database & API Models
// ---------------------------------------------

type Message struct {
	ID         int64     `json:"id"`
	SenderID   int64     `json:"senderId"`
	ReceiverID int64     `json:"receiverId"`
	Text       *string   `json:"text,omitempty"`
	Image      *string   `json:"image,omitempty"`
	Seen       bool      `json:"seen"`
	DeletedBy  []int64   `json:"deletedBy"`
	CreatedAt  time.Time `json:"createdAt"`
}

// DeletedFor reports whether userID has soft-deleted this message.
func (m *Message) DeletedFor(userID int64) bool {
	for _, id := range m.DeletedBy {
		if id == userID {
			return true
		}
	}
	return false
}

// Between reports whether the message belongs to the conversation {a, b}.
func (m *Message) Between(a, b int64) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}

// UserSummary is a counterpart entry of the conversation list.
type UserSummary struct {
	ID          int64  `json:"id"`
	Username    string `json:"username"`
	FullName    string `json:"fullName"`
	ProfilePic  string `json:"profilePic"`
	UnseenCount int    `json:"unseenCount"`
}

// SendRequest is the body of POST /messages/send/{userId}.
// Image is a data URL; it is replaced by the hosted URL before storage.
type SendRequest struct {
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type DeleteChatResponse struct {
	Message      string `json:"message"`
	UpdatedCount int64  `json:"updatedCount"`
}
