package domain

import (
	"strings"
	"time"
)

// CreatorView is the public profile of a drop's owner.
type CreatorView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

// DropView is the response projection of a drop for one viewer. Nullable
// fields are nil in the locked projection.
type DropView struct {
	ID                string       `json:"id"`
	Title             string       `json:"title"`
	Type              string       `json:"type"`
	CreatorID         string       `json:"creatorId"`
	CreatedAt         time.Time    `json:"createdAt"`
	Description       *string      `json:"description"`
	ImageURL          *string      `json:"imageUrl"`
	Location          *Coordinate  `json:"location"`
	SharedWithUserIDs []string     `json:"sharedWithUserIds"`
	Creator           *CreatorView `json:"creator,omitempty"`
	IsLocked          bool         `json:"isLocked"`
	IsUnlocked        bool         `json:"isUnlocked"`
	UnlockedAt        *time.Time   `json:"unlockedAt,omitempty"`
}

// FormatDrop projects a drop for a viewer. The owner and recipients whose
// share is unlocked get the full view; everyone else gets the title and
// metadata only, with body, media and coordinates withheld. Every read path
// goes through this function.
func FormatDrop(d *Drop, recipients []string, share *Share, viewerIsOwner bool) DropView {
	view := DropView{
		ID:        d.ID,
		Title:     d.Title,
		Type:      strings.ToLower(d.Kind),
		CreatorID: d.OwnerID,
		CreatedAt: d.CreatedAt,
	}

	unlocked := viewerIsOwner || (share != nil && !share.Locked)
	if !unlocked {
		view.IsLocked = true
		return view
	}

	view.IsUnlocked = true
	if share != nil && !viewerIsOwner {
		view.UnlockedAt = share.UnlockedAt
	}

	body := d.Body
	view.Description = &body
	if isMediaRef(body) {
		view.ImageURL = &body
	}
	if c, err := d.Coordinate(); err == nil {
		view.Location = &c
	}
	view.SharedWithUserIDs = make([]string, len(recipients))
	copy(view.SharedWithUserIDs, recipients)
	return view
}

func isMediaRef(body string) bool {
	return strings.HasPrefix(body, "/uploads/") ||
		strings.HasPrefix(body, "https://") ||
		strings.HasPrefix(body, "http://")
}
