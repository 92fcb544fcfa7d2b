package domain

import "time"

// Drop is a piece of content pinned to a fixed location by its owner.
// Drops are never mutated after creation.
type Drop struct {
	// ID is the drop identifier.
	ID string

	// OwnerID is the user who created the drop.
	OwnerID string

	// Kind is the client-defined content kind (e.g. "text", "image").
	Kind string

	// Title is always visible to recipients, locked or not.
	Title string

	// Body is the text payload or a URI pointing at uploaded media.
	Body string

	// Location is the stored coordinate in its persisted "lat,lng" form. It is
	// kept as text so that corrupt rows surface as ErrInvalidContentLocation
	// instead of silently decoding to zero.
	Location string

	// CreatedAt is when the drop was created.
	CreatedAt time.Time
}

// Coordinate returns the parsed stored location of the drop.
func (d *Drop) Coordinate() (Coordinate, error) {
	c, err := ParseLocation(d.Location)
	if err != nil {
		return Coordinate{}, ErrInvalidContentLocation
	}
	return c, nil
}

// Share associates a drop with one recipient. Locked is true until the
// recipient proves proximity; the transition to unlocked is one-way.
type Share struct {
	ID            string
	DropID        string
	RecipientID   string
	Locked        bool
	CreatedAt     time.Time
	UnlockedAt    *time.Time
	LastCheckedAt *time.Time
}

// SharedDrop pairs a drop with the viewer's share record.
type SharedDrop struct {
	Drop  Drop
	Share Share
}

// User is a profile from the user directory.
type User struct {
	ID          string
	DisplayName string
	AvatarURL   string
	CreatedAt   time.Time
}

// FriendRequest is a pending request addressed to the viewer.
type FriendRequest struct {
	Requester User
	CreatedAt time.Time
}

// Device is a push target registered by a user.
type Device struct {
	ID        string
	UserID    string
	Token     string
	Platform  string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Conversation is a chat room between participants.
type Conversation struct {
	ID             string
	CreatorID      string
	ParticipantIDs []string
	CreatedAt      time.Time
	// UpdatedAt is the time of the latest message, or CreatedAt when there
	// is none.
	UpdatedAt time.Time
}

// Message is a single chat message.
type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	Body           string
	CreatedAt      time.Time
}
