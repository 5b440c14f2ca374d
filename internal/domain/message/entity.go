package message

import (
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Message represents the messages table. Reactions and Metadata are stored
// as JSON text columns and (un)marshalled through the helpers below.
type Message struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey"`
	ConversationID  uuid.UUID `gorm:"type:uuid;not null;index:idx_messages_conversation_created,priority:1;uniqueIndex:idx_messages_client_dedupe,priority:1"`
	SenderID        uuid.UUID `gorm:"type:uuid;not null"`
	ReceiverID      uuid.NullUUID
	Content         sql.NullString
	Type            string
	ReplyToID       uuid.NullUUID
	ClientMessageID sql.NullString `gorm:"uniqueIndex:idx_messages_client_dedupe,priority:2"`
	Metadata        string
	Reactions       string
	IsEdited        bool
	EditedAt        sql.NullTime
	IsDeleted       bool
	DeletedAt       sql.NullTime
	CreatedAt       time.Time `gorm:"index:idx_messages_conversation_created,priority:2"`
	UpdatedAt       time.Time
}

// Attachment is the descriptor produced by the external storage collaborator.
// The messaging core never uploads files, it only records descriptors.
type Attachment struct {
	Key      string `json:"key"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
	Name     string `json:"name,omitempty"`
}

// MetadataPayload is the structured part of a message's metadata column.
type MetadataPayload struct {
	Attachments []Attachment   `json:"attachments,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// ReactionEntry holds the reactors for one emoji. Users preserves reaction
// order so clients can render "first reacted by".
type ReactionEntry struct {
	Count int         `json:"count"`
	Users []uuid.UUID `json:"users"`
}

// ReactionMap maps emoji to its reactors.
type ReactionMap map[string]*ReactionEntry

func (Message) TableName() string {
	return "messages"
}

// DecodeReactions parses the stored reaction column. An empty column decodes
// to an empty map.
func (m Message) DecodeReactions() (ReactionMap, error) {
	if m.Reactions == "" {
		return ReactionMap{}, nil
	}
	var rm ReactionMap
	if err := json.Unmarshal([]byte(m.Reactions), &rm); err != nil {
		return nil, err
	}
	if rm == nil {
		rm = ReactionMap{}
	}
	return rm, nil
}

// EncodeReactions serialises a reaction map for storage.
func EncodeReactions(rm ReactionMap) (string, error) {
	if len(rm) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(rm)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeMetadata parses the stored metadata column.
func (m Message) DecodeMetadata() (MetadataPayload, error) {
	if m.Metadata == "" {
		return MetadataPayload{}, nil
	}
	var p MetadataPayload
	if err := json.Unmarshal([]byte(m.Metadata), &p); err != nil {
		return MetadataPayload{}, err
	}
	return p, nil
}

// Toggle applies a reaction toggle for one user, enforcing the
// one-reaction-per-user invariant: any reaction the user holds on a
// different emoji is removed first, then membership in the target emoji is
// toggled. Emoji keys with no reactors left are dropped. Returns true when
// the user ends up holding the reaction.
func (rm ReactionMap) Toggle(emoji string, userID uuid.UUID) bool {
	for key, entry := range rm {
		if key == emoji {
			continue
		}
		if entry.remove(userID) && entry.Count == 0 {
			delete(rm, key)
		}
	}

	entry, ok := rm[emoji]
	if !ok {
		rm[emoji] = &ReactionEntry{Count: 1, Users: []uuid.UUID{userID}}
		return true
	}
	if entry.remove(userID) {
		if entry.Count == 0 {
			delete(rm, emoji)
		}
		return false
	}
	entry.Users = append(entry.Users, userID)
	entry.Count = len(entry.Users)
	return true
}

// UserReaction returns the emoji the user currently holds, if any.
func (rm ReactionMap) UserReaction(userID uuid.UUID) (string, bool) {
	keys := make([]string, 0, len(rm))
	for key := range rm {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		for _, u := range rm[key].Users {
			if u == userID {
				return key, true
			}
		}
	}
	return "", false
}

func (e *ReactionEntry) remove(userID uuid.UUID) bool {
	for i, u := range e.Users {
		if u == userID {
			e.Users = append(e.Users[:i], e.Users[i+1:]...)
			e.Count = len(e.Users)
			return true
		}
	}
	return false
}

// TypeForAttachments derives the message type from an attachment list,
// overriding whatever the caller supplied.
func TypeForAttachments(attachments []Attachment) string {
	if len(attachments) == 0 {
		return "text"
	}
	kind := ""
	for _, a := range attachments {
		k := kindOf(a.MimeType)
		if kind == "" {
			kind = k
			continue
		}
		if kind != k {
			return "mixed"
		}
	}
	return kind
}

func kindOf(mime string) string {
	switch {
	case len(mime) >= 6 && mime[:6] == "image/":
		return "image"
	case len(mime) >= 6 && mime[:6] == "video/":
		return "video"
	case len(mime) >= 6 && mime[:6] == "audio/":
		return "audio"
	default:
		return "document"
	}
}
