package conversation

import (
	"sync"
	"testing"

	"gorm.io/gorm/schema"
)

// A user joins a conversation at most once; the participants table enforces
// that with a composite primary key.
func TestParticipantCompositePrimaryKey(t *testing.T) {
	s, err := schema.Parse(&Participant{}, &sync.Map{}, schema.NamingStrategy{})
	if err != nil {
		t.Fatalf("parse schema: %v", err)
	}

	if len(s.PrimaryFields) != 2 {
		t.Fatalf("primary fields = %d, want 2", len(s.PrimaryFields))
	}
	got := map[string]bool{}
	for _, f := range s.PrimaryFields {
		got[f.DBName] = true
	}
	if !got["conversation_id"] || !got["user_id"] {
		t.Fatalf("primary key columns = %v, want conversation_id and user_id", got)
	}
}
