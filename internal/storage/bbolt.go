package storage

import (
	"fmt"
	"sort"
	"time"

	"dmchat/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketUsers             = []byte("users")
	bucketConversations     = []byte("conversations")
	bucketPairs             = []byte("conversation_pairs")
	bucketMemberships       = []byte("memberships")
	bucketUserConversations = []byte("user_conversations")
	bucketMessages          = []byte("messages")
	bucketPushSubscriptions = []byte("push_subscriptions")
)

// BboltStorage keeps the directory, conversations and message log in a single
// bbolt file. Every mutating method runs in one db.Update, and bbolt allows a
// single writer at a time, so each of them is an indivisible unit.
type BboltStorage struct {
	db *bbolt.DB
}

func NewBboltStorage(path string) (*BboltStorage, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{
			bucketUsers,
			bucketConversations,
			bucketPairs,
			bucketMemberships,
			bucketUserConversations,
			bucketMessages,
			bucketPushSubscriptions,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStorage{db: db}, nil
}

func (s *BboltStorage) Close() error {
	return s.db.Close()
}

// UpsertUser stores a new or updated user profile.
func (s *BboltStorage) UpsertUser(user models.User) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putUser(tx, user)
	})
}

// SyncUser upserts the profile and returns the previous version, if any.
func (s *BboltStorage) SyncUser(user models.User) (prev *models.User, err error) {
	err = s.db.Update(func(tx *bbolt.Tx) error {
		if old, err := getUser(tx, user.ID); err == nil {
			prev = &old
		}
		return putUser(tx, user)
	})
	return prev, err
}

// TouchUser refreshes LastSeenAt of an existing user.
func (s *BboltStorage) TouchUser(userID string, lastSeenAt int64) (models.User, error) {
	var user models.User
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, userID)
		if err != nil {
			return err
		}
		user.LastSeenAt = lastSeenAt
		return putUser(tx, user)
	})
	return user, err
}

func (s *BboltStorage) GetUser(userID string) (models.User, error) {
	var user models.User
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		user, err = getUser(tx, userID)
		return err
	})
	return user, err
}

// ListUsers returns all users stored in the database ordered by id.
func (s *BboltStorage) ListUsers() ([]models.User, error) {
	users := []models.User{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketUsers).ForEach(func(k, v []byte) error {
			var dbUser DBUser
			if err := dbUser.UnmarshalBinary(v); err != nil {
				return err
			}
			users = append(users, userFromDB(dbUser))
			return nil
		})
	})
	return users, err
}

// GetOrCreateConversation finds the conversation of the unordered pair (a, b)
// or creates it with newID. Memberships of both participants are created if
// missing in either case.
func (s *BboltStorage) GetOrCreateConversation(a, b string, now int64, newID string) (conv models.Conversation, created bool, err error) {
	if b < a {
		a, b = b, a
	}

	err = s.db.Update(func(tx *bbolt.Tx) error {
		pairs := tx.Bucket(bucketPairs)
		key := pairKey(a, b)

		if id := pairs.Get(key); id != nil {
			var err error
			conv, err = getConversation(tx, string(id))
			if err != nil {
				return fmt.Errorf("pair index points to missing conversation: %w", err)
			}
		} else {
			dbConv := DBConversation{
				ID:            newID,
				Participants:  [2]string{a, b},
				CreatedAt:     now,
				LastMessageAt: now,
			}
			if err := putConversation(tx, &dbConv); err != nil {
				return err
			}
			if err := pairs.Put(dbConv.PairKey(), dbConv.Key()); err != nil {
				return err
			}
			conv = conversationFromDB(dbConv)
			created = true
		}

		for _, userID := range conv.Participants {
			if err := ensureMembership(tx, conv.ID, userID, now); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Conversation{}, false, err
	}
	return conv, created, nil
}

func (s *BboltStorage) GetConversation(id string) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		conv, err = getConversation(tx, id)
		return err
	})
	return conv, err
}

// ListConversations returns every conversation userID is a member of, joined
// with the membership and the other participant's profile, read in one
// consistent snapshot.
func (s *BboltStorage) ListConversations(userID string) ([]models.ConversationRow, error) {
	var rows []models.ConversationRow
	err := s.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket(bucketUserConversations).Bucket([]byte(userID))
		if index == nil {
			return nil
		}
		return index.ForEach(func(k, _ []byte) error {
			conv, err := getConversation(tx, string(k))
			if err != nil {
				// Index entry without a conversation; skip it.
				return nil
			}
			membership, err := getMembership(tx, conv.ID, userID)
			if err != nil {
				return nil
			}
			row := models.ConversationRow{
				Membership:   membership,
				Conversation: conv,
			}
			if other, err := getUser(tx, conv.Other(userID)); err == nil {
				row.Other = &other
			}
			rows = append(rows, row)
			return nil
		})
	})
	return rows, err
}

// AppendMessage appends msg to its conversation's log, patches the
// conversation's last message fields and updates every membership: the sender
// is marked read, everyone else gets one more unread message. Nothing is written
// unless the conversation exists and the sender is a participant.
func (s *BboltStorage) AppendMessage(msg models.Message) (models.Conversation, error) {
	var conv models.Conversation
	err := s.db.Update(func(tx *bbolt.Tx) error {
		var err error
		conv, err = getConversation(tx, msg.ConversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(msg.SenderID) {
			return models.PermissionDenied("sender %s is not part of conversation %s", msg.SenderID, conv.ID)
		}

		// 1. Append message
		log, err := tx.Bucket(bucketMessages).CreateBucketIfNotExists([]byte(conv.ID))
		if err != nil {
			return fmt.Errorf("failed to create message bucket: %w", err)
		}
		seq, err := log.NextSequence()
		if err != nil {
			return err
		}
		dbMessage := DBMessage{
			Seq:            seq,
			ID:             msg.ID,
			ConversationID: conv.ID,
			SenderID:       msg.SenderID,
			Content:        msg.Content,
			HTML:           msg.HTML,
			CreatedAt:      msg.CreatedAt,
			ReadBy:         msg.ReadBy,
		}
		data, err := dbMessage.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := log.Put(dbMessage.Key(), data); err != nil {
			return fmt.Errorf("failed to put message: %w", err)
		}

		// 2. Update conversation summary
		conv.LastMessageAt = msg.CreatedAt
		conv.LastMessageText = msg.Content
		dbConv := conversationToDB(conv)
		if err := putConversation(tx, &dbConv); err != nil {
			return err
		}

		// 3. Update unread counters
		memberships, err := listMemberships(tx, conv.ID)
		if err != nil {
			return err
		}
		for _, m := range memberships {
			if m.UserID == msg.SenderID {
				m.UnreadCount = 0
				m.LastReadAt = msg.CreatedAt
			} else {
				m.UnreadCount++
			}
			if err := putMembership(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return models.Conversation{}, err
	}
	return conv, nil
}

// ListMessages returns all messages of a conversation ordered by creation
// time, falling back to insertion order.
func (s *BboltStorage) ListMessages(conversationID string) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		log := tx.Bucket(bucketMessages).Bucket([]byte(conversationID))
		if log == nil {
			return nil // No messages for this conversation
		}
		return log.ForEach(func(k, v []byte) error {
			var dbMsg DBMessage
			if err := dbMsg.UnmarshalBinary(v); err != nil {
				return err
			}
			messages = append(messages, models.Message{
				ID:             dbMsg.ID,
				ConversationID: dbMsg.ConversationID,
				SenderID:       dbMsg.SenderID,
				Content:        dbMsg.Content,
				HTML:           dbMsg.HTML,
				CreatedAt:      dbMsg.CreatedAt,
				ReadBy:         dbMsg.ReadBy,
			})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	// Cursor order is insertion order; a stable sort keeps it for equal timestamps.
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt < messages[j].CreatedAt
	})
	return messages, nil
}

// MarkRead resets the unread counter of userID in the conversation, creating
// the membership if it is missing.
func (s *BboltStorage) MarkRead(conversationID, userID string, now int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		conv, err := getConversation(tx, conversationID)
		if err != nil {
			return err
		}
		if !conv.HasParticipant(userID) {
			return models.PermissionDenied("user %s is not part of conversation %s", userID, conversationID)
		}

		m, err := getMembership(tx, conversationID, userID)
		if err != nil {
			return ensureMembership(tx, conversationID, userID, now)
		}
		m.UnreadCount = 0
		m.LastReadAt = now
		return putMembership(tx, m)
	})
}

func (s *BboltStorage) GetMembership(conversationID, userID string) (models.Membership, error) {
	var m models.Membership
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		m, err = getMembership(tx, conversationID, userID)
		return err
	})
	return m, err
}

// DeleteMembership removes a membership row. It exists for repair tooling and
// tests; the self-healing path in GetOrCreateConversation recreates it.
func (s *BboltStorage) DeleteMembership(conversationID, userID string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if b := tx.Bucket(bucketMemberships).Bucket([]byte(conversationID)); b != nil {
			if err := b.Delete([]byte(userID)); err != nil {
				return err
			}
		}
		if b := tx.Bucket(bucketUserConversations).Bucket([]byte(userID)); b != nil {
			return b.Delete([]byte(conversationID))
		}
		return nil
	})
}

// CountConversations returns the number of stored conversations.
func (s *BboltStorage) CountConversations() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(_, _ []byte) error {
			n++
			return nil
		})
	})
	return n, err
}

// Helpers

func getUser(tx *bbolt.Tx, id string) (models.User, error) {
	data := tx.Bucket(bucketUsers).Get([]byte(id))
	if data == nil {
		return models.User{}, fmt.Errorf("user %s: %w", id, models.ErrNotFound)
	}
	var dbUser DBUser
	if err := dbUser.UnmarshalBinary(data); err != nil {
		return models.User{}, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return userFromDB(dbUser), nil
}

func putUser(tx *bbolt.Tx, user models.User) error {
	dbUser := &DBUser{
		ID:         user.ID,
		Email:      user.Email,
		Name:       user.Name,
		Avatar:     user.Avatar,
		LastSeenAt: user.LastSeenAt,
	}
	data, err := dbUser.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketUsers).Put(dbUser.Key(), data)
}

func userFromDB(u DBUser) models.User {
	return models.User{
		ID:         u.ID,
		Email:      u.Email,
		Name:       u.Name,
		Avatar:     u.Avatar,
		LastSeenAt: u.LastSeenAt,
	}
}

func getConversation(tx *bbolt.Tx, id string) (models.Conversation, error) {
	data := tx.Bucket(bucketConversations).Get([]byte(id))
	if data == nil {
		return models.Conversation{}, models.NotFound("conversation %s not found", id)
	}
	var dbConv DBConversation
	if err := dbConv.UnmarshalBinary(data); err != nil {
		return models.Conversation{}, fmt.Errorf("failed to unmarshal conversation: %w", err)
	}
	return conversationFromDB(dbConv), nil
}

func putConversation(tx *bbolt.Tx, c *DBConversation) error {
	data, err := c.MarshalBinary()
	if err != nil {
		return err
	}
	return tx.Bucket(bucketConversations).Put(c.Key(), data)
}

func conversationFromDB(c DBConversation) models.Conversation {
	return models.Conversation{
		ID:              c.ID,
		Participants:    c.Participants,
		CreatedAt:       c.CreatedAt,
		LastMessageAt:   c.LastMessageAt,
		LastMessageText: c.LastMessageText,
	}
}

func conversationToDB(c models.Conversation) DBConversation {
	return DBConversation{
		ID:              c.ID,
		Participants:    c.Participants,
		CreatedAt:       c.CreatedAt,
		LastMessageAt:   c.LastMessageAt,
		LastMessageText: c.LastMessageText,
	}
}

func getMembership(tx *bbolt.Tx, conversationID, userID string) (models.Membership, error) {
	b := tx.Bucket(bucketMemberships).Bucket([]byte(conversationID))
	if b == nil {
		return models.Membership{}, fmt.Errorf("membership %s/%s: %w", conversationID, userID, models.ErrNotFound)
	}
	data := b.Get([]byte(userID))
	if data == nil {
		return models.Membership{}, fmt.Errorf("membership %s/%s: %w", conversationID, userID, models.ErrNotFound)
	}
	var dbM DBMembership
	if err := dbM.UnmarshalBinary(data); err != nil {
		return models.Membership{}, fmt.Errorf("failed to unmarshal membership: %w", err)
	}
	return models.Membership(dbM), nil
}

func listMemberships(tx *bbolt.Tx, conversationID string) ([]models.Membership, error) {
	b := tx.Bucket(bucketMemberships).Bucket([]byte(conversationID))
	if b == nil {
		return nil, nil
	}
	var memberships []models.Membership
	err := b.ForEach(func(k, v []byte) error {
		var dbM DBMembership
		if err := dbM.UnmarshalBinary(v); err != nil {
			return err
		}
		memberships = append(memberships, models.Membership(dbM))
		return nil
	})
	return memberships, err
}

// putMembership writes the membership and its per-user index entry.
func putMembership(tx *bbolt.Tx, m models.Membership) error {
	b, err := tx.Bucket(bucketMemberships).CreateBucketIfNotExists([]byte(m.ConversationID))
	if err != nil {
		return err
	}
	dbM := DBMembership(m)
	data, err := dbM.MarshalBinary()
	if err != nil {
		return err
	}
	if err := b.Put(dbM.Key(), data); err != nil {
		return err
	}

	index, err := tx.Bucket(bucketUserConversations).CreateBucketIfNotExists([]byte(m.UserID))
	if err != nil {
		return err
	}
	return index.Put([]byte(m.ConversationID), []byte{})
}

func ensureMembership(tx *bbolt.Tx, conversationID, userID string, now int64) error {
	if _, err := getMembership(tx, conversationID, userID); err == nil {
		return nil
	}
	return putMembership(tx, models.Membership{
		ConversationID: conversationID,
		UserID:         userID,
		UnreadCount:    0,
		LastReadAt:     now,
	})
}
