package store

import (
	"path/filepath"
	"testing"
	"time"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func msg(id, owner, partner, sender string, status Status, ts int64) Message {
	receiver := owner
	if sender == owner {
		receiver = partner
	}
	return Message{
		ID: id, OwnerID: owner, PartnerID: partner,
		SenderID: sender, ReceiverID: receiver,
		Body: "body-" + id, Status: status, FromMe: sender == owner, Timestamp: ts,
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate; a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + user search)", result.Version)
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := msg("m1", "alice", "bob", "alice", StatusPending, 1000)
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}
	m.Body = "edited"
	m.Status = StatusSent
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListChatMessages("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent upsert failed)", len(msgs))
	}
	if msgs[0].Body != "edited" || msgs[0].Status != StatusSent {
		t.Errorf("row = %+v, want edited/sent (last writer wins)", msgs[0])
	}
}

func TestSameIDDifferentOwners(t *testing.T) {
	db := testDB(t)

	m1 := msg("m1", "alice", "bob", "bob", StatusSent, 1000)
	m2 := msg("m1", "carol", "bob", "bob", StatusSent, 1000)
	if err := db.UpsertMessage(&m1); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&m2); err != nil {
		t.Fatal(err)
	}

	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2 (same id, distinct owners)", count)
	}
}

func TestListChatMessagesOrdered(t *testing.T) {
	db := testDB(t)

	for _, m := range []Message{
		msg("m3", "alice", "bob", "bob", StatusSent, 3000),
		msg("m1", "alice", "bob", "alice", StatusSent, 1000),
		msg("m2", "alice", "bob", "bob", StatusSent, 2000),
		msg("mx", "alice", "carol", "carol", StatusSent, 1500),
	} {
		m := m
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	msgs, err := db.ListChatMessages("alice", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		if msgs[i].ID != want {
			t.Errorf("msgs[%d].ID = %q, want %q (ascending by timestamp)", i, msgs[i].ID, want)
		}
	}
}

func TestPendingMessages(t *testing.T) {
	db := testDB(t)

	for _, m := range []Message{
		msg("p2", "alice", "bob", "alice", StatusPending, 2000),
		msg("s1", "alice", "bob", "alice", StatusSent, 1500),
		msg("p1", "alice", "bob", "alice", StatusPending, 1000),
		msg("p3", "carol", "bob", "carol", StatusPending, 500),
	} {
		m := m
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := db.PendingMessages("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending, want 2", len(pending))
	}
	if pending[0].ID != "p1" || pending[1].ID != "p2" {
		t.Errorf("pending order = %s,%s, want p1,p2 (oldest first)", pending[0].ID, pending[1].ID)
	}
}

func TestLastMessagePerPartner(t *testing.T) {
	db := testDB(t)

	for _, m := range []Message{
		msg("a1", "o", "partnerA", "partnerA", StatusSent, 50),
		msg("a2", "o", "partnerA", "o", StatusSent, 100),
		msg("b1", "o", "partnerB", "partnerB", StatusSent, 200),
	} {
		m := m
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	last, err := db.LastMessagePerPartner("o")
	if err != nil {
		t.Fatal(err)
	}
	if len(last) != 2 {
		t.Fatalf("got %d rows, want 2", len(last))
	}
	if last[0].PartnerID != "partnerB" || last[1].PartnerID != "partnerA" {
		t.Errorf("order = %s,%s, want partnerB,partnerA (newest conversation first)",
			last[0].PartnerID, last[1].PartnerID)
	}
	if last[1].ID != "a2" {
		t.Errorf("partnerA last = %q, want a2", last[1].ID)
	}
}

func TestUpdateMessageStatus(t *testing.T) {
	db := testDB(t)

	m := msg("m1", "alice", "bob", "alice", StatusPending, 1000)
	if err := db.UpsertMessage(&m); err != nil {
		t.Fatal(err)
	}
	if err := db.UpdateMessageStatus("m1", "alice", StatusSent); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListChatMessages("alice", "bob")
	if msgs[0].Status != StatusSent {
		t.Errorf("status = %v, want sent", msgs[0].Status)
	}
}

func TestUnreadCount(t *testing.T) {
	db := testDB(t)

	// Three from the partner: sent, delivered, seen. Two count as unread.
	for _, m := range []Message{
		msg("m1", "o", "p", "p", StatusSent, 1000),
		msg("m2", "o", "p", "p", StatusDelivered, 2000),
		msg("m3", "o", "p", "p", StatusSeen, 3000),
		// Own outgoing message never counts.
		msg("m4", "o", "p", "o", StatusSent, 4000),
	} {
		m := m
		if err := db.UpsertMessage(&m); err != nil {
			t.Fatal(err)
		}
	}

	count, err := db.UnreadCount("o", "p")
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("unread = %d, want 2", count)
	}
}

func TestMarkConversationSeen(t *testing.T) {
	db := testDB(t)

	in := msg("in", "o", "p", "p", StatusDelivered, 1000)
	out := msg("out", "o", "p", "o", StatusSent, 2000)
	if err := db.UpsertMessage(&in); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&out); err != nil {
		t.Fatal(err)
	}

	if err := db.MarkConversationSeen("o", "p"); err != nil {
		t.Fatal(err)
	}

	msgs, _ := db.ListChatMessages("o", "p")
	for _, m := range msgs {
		if m.ID == "in" && m.Status != StatusSeen {
			t.Errorf("incoming status = %v, want seen", m.Status)
		}
		if m.ID == "out" && m.Status != StatusSent {
			t.Errorf("outgoing status = %v, want sent (unchanged)", m.Status)
		}
	}

	count, _ := db.UnreadCount("o", "p")
	if count != 0 {
		t.Errorf("unread after seen = %d, want 0", count)
	}
}

func TestDeleteOwnerIsolation(t *testing.T) {
	db := testDB(t)

	m1 := msg("m1", "o1", "p", "p", StatusSent, 1000)
	m2 := msg("m2", "o2", "p", "p", StatusSent, 1000)
	if err := db.UpsertMessage(&m1); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&m2); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteOwner("o1"); err != nil {
		t.Fatal(err)
	}

	gone, _ := db.ListChatMessages("o1", "p")
	if len(gone) != 0 {
		t.Errorf("o1 rows = %d, want 0", len(gone))
	}
	kept, _ := db.ListChatMessages("o2", "p")
	if len(kept) != 1 {
		t.Errorf("o2 rows = %d, want 1 (other account untouched)", len(kept))
	}
}

func TestDeleteConversation(t *testing.T) {
	db := testDB(t)

	m1 := msg("m1", "o", "p1", "p1", StatusSent, 1000)
	m2 := msg("m2", "o", "p2", "p2", StatusSent, 1000)
	if err := db.UpsertMessage(&m1); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(&m2); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteConversation("p1", "o"); err != nil {
		t.Fatal(err)
	}

	if rows, _ := db.ListChatMessages("o", "p1"); len(rows) != 0 {
		t.Errorf("p1 rows = %d, want 0", len(rows))
	}
	if rows, _ := db.ListChatMessages("o", "p2"); len(rows) != 1 {
		t.Errorf("p2 rows = %d, want 1", len(rows))
	}
}

func TestUpsertUserKeepsNonEmptyFields(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUser(&User{ID: "u1", Name: "Alice", Contact: "alice@example.com"}); err != nil {
		t.Fatal(err)
	}
	// Refresh with an empty name must not erase it.
	if err := db.UpsertUser(&User{ID: "u1", AvatarURL: "http://a/pic.png"}); err != nil {
		t.Fatal(err)
	}

	u, err := db.GetUser("u1")
	if err != nil {
		t.Fatal(err)
	}
	if u == nil || u.Name != "Alice" || u.AvatarURL != "http://a/pic.png" {
		t.Errorf("user = %+v, want Alice with avatar", u)
	}
}

func TestGetUserMissing(t *testing.T) {
	db := testDB(t)

	u, err := db.GetUser("nobody")
	if err != nil {
		t.Fatal(err)
	}
	if u != nil {
		t.Errorf("expected nil for missing user, got %+v", u)
	}
}

func TestSearchUsers(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertUsers([]User{
		{ID: "u1", Name: "Alice Johnson"},
		{ID: "u2", Name: "Bob Smith"},
		{ID: "u3", Name: "MALICE"},
	}); err != nil {
		t.Fatal(err)
	}

	users, err := db.SearchUsers("alice", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2 (case-insensitive substring)", len(users))
	}
}

func TestPruneUsersBefore(t *testing.T) {
	db := testDB(t)

	old := time.Now().Add(-48 * time.Hour).UnixMilli()
	if err := db.UpsertUser(&User{ID: "stale", Name: "Old", CachedAt: old}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertUser(&User{ID: "fresh", Name: "New"}); err != nil {
		t.Fatal(err)
	}

	cutoff := time.Now().Add(-24 * time.Hour).UnixMilli()
	n, err := db.PruneUsersBefore(cutoff)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if u, _ := db.GetUser("stale"); u != nil {
		t.Error("stale snapshot should be gone")
	}
	if u, _ := db.GetUser("fresh"); u == nil {
		t.Error("fresh snapshot should survive")
	}
}
