package domain

// Notification categories. They select the message template and are sent to
// devices as the "type" data field.
const (
	CategoryDropShared     = "dropShared"
	CategoryDropUnlocked   = "dropUnlocked"
	CategoryMessage        = "message"
	CategoryFriendRequest  = "friendRequest"
	CategoryFriendAccepted = "friendAccepted"
)

// Realtime event names.
const (
	EventDropShared   = "drop_shared"
	EventDropUnlocked = "drop_unlocked"
	EventNewMessage   = "new_message"
	EventMemberLeft   = "member_left"
)

// Friendship states reported by InviteFriend.
const (
	FriendshipPending  = "pending"
	FriendshipAccepted = "accepted"
)

// Notification is a push message for a single user. When Title or Body are
// empty the dispatcher renders them from the category template using Data.
type Notification struct {
	Category string
	Title    string
	Body     string
	Data     map[string]string
}

// UserTopic is the realtime topic every authenticated socket joins.
func UserTopic(userID string) string {
	return "user:" + userID
}

// ConversationTopic is the realtime topic for a conversation.
func ConversationTopic(conversationID string) string {
	return "conversation:" + conversationID
}
