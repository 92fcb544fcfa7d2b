package domain

import (
	"context"
	"time"
)

// DropRepository defines persistence operations for drops.
type DropRepository interface {
	// CreateDropWithShares inserts the drop and one locked share per recipient
	// in a single transaction. Either everything is written or nothing is.
	CreateDropWithShares(ctx context.Context, drop *Drop, recipientIDs []string) ([]Share, error)

	// GetDrop returns ErrNotFound if the drop does not exist.
	GetDrop(ctx context.Context, id string) (*Drop, error)

	// DeleteDrop removes the drop and its shares.
	DeleteDrop(ctx context.Context, id string) error

	// ListDropsByOwner returns the owner's drops, newest first.
	ListDropsByOwner(ctx context.Context, ownerID string) ([]Drop, error)

	// ListDropsSharedWith returns drops shared with the recipient together
	// with the recipient's share record, newest share first.
	ListDropsSharedWith(ctx context.Context, recipientID string) ([]SharedDrop, error)

	// ListDropsVisibleTo returns drops the user owns or has been shared.
	ListDropsVisibleTo(ctx context.Context, userID string) ([]Drop, error)

	// RecipientsForDrops returns recipient IDs keyed by drop ID.
	RecipientsForDrops(ctx context.Context, dropIDs []string) (map[string][]string, error)
}

// ShareRepository defines persistence operations for share records.
type ShareRepository interface {
	// CreateShares creates a locked share per recipient that does not already
	// have one. Existing (drop, recipient) pairs are left untouched. Only the
	// newly created records are returned.
	CreateShares(ctx context.Context, dropID string, recipientIDs []string) ([]Share, error)

	// GetShare returns ErrNotFound if no share exists for the pair.
	GetShare(ctx context.Context, dropID, recipientID string) (*Share, error)

	// SharesForViewer returns the viewer's shares for the given drops keyed by
	// drop ID.
	SharesForViewer(ctx context.Context, viewerID string, dropIDs []string) (map[string]Share, error)

	// SetUnlocked atomically moves a locked share to unlocked. It reports
	// whether this call performed the transition; an already unlocked share
	// is left as is and false is returned.
	SetUnlocked(ctx context.Context, shareID string, at time.Time) (bool, error)

	// TouchLastChecked records an unlock attempt regardless of its outcome.
	TouchLastChecked(ctx context.Context, shareID string, at time.Time) error
}

// UserDirectory resolves user profiles.
type UserDirectory interface {
	// GetUser returns ErrNotFound if the user does not exist.
	GetUser(ctx context.Context, id string) (*User, error)
	UpsertUser(ctx context.Context, user *User) error
}

// FriendGraph answers friendship questions.
type FriendGraph interface {
	// IsFriend reports whether a and b have an accepted friendship.
	IsFriend(ctx context.Context, a, b string) (bool, error)
}

// FriendRepository manages the friend graph.
type FriendRepository interface {
	FriendGraph

	// RequestFriend records a pending request from requester to addressee and
	// reports whether a new request was stored. Repeating a request is a
	// no-op.
	RequestFriend(ctx context.Context, requesterID, addresseeID string, at time.Time) (bool, error)

	// AcceptFriend accepts a pending request. It returns ErrNotFound if no
	// pending request from requester to addressee exists.
	AcceptFriend(ctx context.Context, requesterID, addresseeID string, at time.Time) error

	// DeleteRequest removes a pending request between a and b in either
	// direction. It returns ErrNotFound if there is none.
	DeleteRequest(ctx context.Context, a, b string) error

	// RemoveFriend removes an accepted friendship between a and b. It returns
	// ErrNotFound if they are not friends.
	RemoveFriend(ctx context.Context, a, b string) error

	// ListFriends returns the accepted friends of the user.
	ListFriends(ctx context.Context, userID string) ([]User, error)

	// ListFriendRequests returns pending requests addressed to the user,
	// oldest first.
	ListFriendRequests(ctx context.Context, addresseeID string) ([]FriendRequest, error)
}

// DeviceRegistry stores push targets.
type DeviceRegistry interface {
	// RegisterDevice upserts by token and marks the device active.
	RegisterDevice(ctx context.Context, device *Device) error

	// UnregisterDevice deactivates the user's device with the given token.
	UnregisterDevice(ctx context.Context, userID, token string) error

	// ActiveDevices returns the user's active devices.
	ActiveDevices(ctx context.Context, userID string) ([]Device, error)

	// DeactivateDevice marks a single device inactive.
	DeactivateDevice(ctx context.Context, deviceID string) error

	// DeleteInactiveDevices removes devices that have been inactive for
	// longer than maxAge. Returns the number of rows deleted.
	DeleteInactiveDevices(ctx context.Context, maxAge time.Duration) (int64, error)
}

// ConversationRepository defines persistence operations for chat.
type ConversationRepository interface {
	CreateConversation(ctx context.Context, conv *Conversation) error
	IsParticipant(ctx context.Context, conversationID, userID string) (bool, error)

	// GetConversation returns ErrNotFound if the conversation does not exist.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// ListConversations returns the user's conversations, most recently
	// active first.
	ListConversations(ctx context.Context, userID string) ([]Conversation, error)

	// RemoveParticipant drops the user from the conversation and deletes the
	// conversation once nobody is left. It returns ErrNotFound if the user
	// is not a participant.
	RemoveParticipant(ctx context.Context, conversationID, userID string) error

	// Participants returns ErrNotFound if the conversation does not exist.
	Participants(ctx context.Context, conversationID string) ([]string, error)
	CreateMessage(ctx context.Context, msg *Message) error

	// ListMessages returns up to limit messages older than before (zero means
	// no bound), newest first.
	ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]Message, error)
}

// Publisher delivers an event to every live subscriber of a topic. Delivery
// is best effort and never blocks the caller on slow subscribers.
type Publisher interface {
	Publish(topic, event string, payload any)
}

// TopicEvictor is implemented by publishers that can drop a user's live
// subscriptions to a topic.
type TopicEvictor interface {
	Evict(topic, userID string)
}

// Notifier dispatches a push notification in the background. It returns
// immediately and never reports delivery failures to the caller.
type Notifier interface {
	Notify(userID string, n Notification)
}
