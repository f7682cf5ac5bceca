// Package models defines data structures shared by the craftchat sync engine.
package models

import "time"

// Message is a single direct message between two marketplace users.
// ID is assigned by the server once the message is persisted; a locally
// created optimistic message carries a nil ID until the send is confirmed.
type Message struct {
	ID           *int64    `json:"id"`
	SenderID     int64     `json:"senderId"`
	SenderName   string    `json:"senderName,omitempty"`
	ReceiverID   int64     `json:"receiverId"`
	ReceiverName string    `json:"receiverName,omitempty"`
	Content      string    `json:"content"`
	CreatedAt    time.Time `json:"createdAt"`
	IsRead       bool      `json:"isRead"`
}

// Counterpart returns the participant that is not the local user.
func (m Message) Counterpart(localID int64) int64 {
	if m.SenderID == localID {
		return m.ReceiverID
	}
	return m.SenderID
}

// CounterpartName returns the display name of the other participant,
// or empty if the frame did not carry one.
func (m Message) CounterpartName(localID int64) string {
	if m.SenderID == localID {
		return m.ReceiverName
	}
	return m.SenderName
}

// Inbound reports whether the message is addressed to the local user.
func (m Message) Inbound(localID int64) bool {
	return m.ReceiverID == localID
}

// Conversation is the derived summary of all messages exchanged with one
// counterpart. It is never stored; the engine rebuilds it from snapshots
// and live events.
type Conversation struct {
	OtherUserID         int64     `json:"otherUserId"`
	OtherUserName       string    `json:"otherUserName"`
	LastMessage         string    `json:"lastMessage"`
	LastMessageAt       time.Time `json:"lastMessageAt"`
	UnreadCount         int       `json:"unreadCount"`
	IsLastMessageFromMe bool      `json:"isLastMessageFromMe"`
}
