package storage

import (
	"encoding"
	"encoding/binary"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

type DBUser struct {
	ID         string `msgpack:"id"`
	Email      string `msgpack:"email"`
	Name       string `msgpack:"name"`
	Avatar     string `msgpack:"avatar"`
	LastSeenAt int64  `msgpack:"lastSeenAt"`
}

func (u *DBUser) Key() []byte {
	return []byte(u.ID)
}

func (u *DBUser) MarshalBinary() (data []byte, err error) {
	type alias DBUser
	return msgpack.Marshal((*alias)(u))
}

func (u *DBUser) UnmarshalBinary(data []byte) error {
	type alias DBUser
	return msgpack.Unmarshal(data, (*alias)(u))
}

type DBConversation struct {
	ID              string    `msgpack:"id"`
	Participants    [2]string `msgpack:"participants"`
	CreatedAt       int64     `msgpack:"createdAt"`
	LastMessageAt   int64     `msgpack:"lastMessageAt"`
	LastMessageText string    `msgpack:"lastMessageText"`
}

func (c *DBConversation) Key() []byte {
	return []byte(c.ID)
}

// PairKey is the canonical key of the participant pair.
func (c *DBConversation) PairKey() []byte {
	return pairKey(c.Participants[0], c.Participants[1])
}

func (c *DBConversation) MarshalBinary() (data []byte, err error) {
	type alias DBConversation
	return msgpack.Marshal((*alias)(c))
}

func (c *DBConversation) UnmarshalBinary(data []byte) error {
	type alias DBConversation
	return msgpack.Unmarshal(data, (*alias)(c))
}

// pairKey expects a and b already sorted. The NUL separator cannot occur in ids
// that came through the identity provider.
func pairKey(a, b string) []byte {
	key := make([]byte, 0, len(a)+len(b)+1)
	key = append(key, a...)
	key = append(key, 0)
	return append(key, b...)
}

type DBMembership struct {
	ConversationID string `msgpack:"conversationId"`
	UserID         string `msgpack:"userId"`
	UnreadCount    int    `msgpack:"unreadCount"`
	LastReadAt     int64  `msgpack:"lastReadAt"`
}

func (m *DBMembership) Key() []byte {
	return []byte(m.UserID)
}

func (m *DBMembership) MarshalBinary() (data []byte, err error) {
	type alias DBMembership
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMembership) UnmarshalBinary(data []byte) error {
	type alias DBMembership
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBMessage struct {
	Seq            uint64   `msgpack:"seq"`
	ID             string   `msgpack:"id"`
	ConversationID string   `msgpack:"conversationId"`
	SenderID       string   `msgpack:"senderId"`
	Content        string   `msgpack:"content"`
	HTML           string   `msgpack:"html"`
	CreatedAt      int64    `msgpack:"createdAt"`
	ReadBy         []string `msgpack:"readBy"`
}

// Key is the big-endian sequence number so a cursor walks messages in
// insertion order.
func (m *DBMessage) Key() []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, m.Seq)
	return key
}

func (m *DBMessage) MarshalBinary() (data []byte, err error) {
	type alias DBMessage
	return msgpack.Marshal((*alias)(m))
}

func (m *DBMessage) UnmarshalBinary(data []byte) error {
	type alias DBMessage
	return msgpack.Unmarshal(data, (*alias)(m))
}

type DBPushSubscription struct {
	UserID   string `msgpack:"userId"`
	Endpoint string `msgpack:"endpoint"`
	Auth     string `msgpack:"auth"`
	P256dh   string `msgpack:"p256dh"`
}

func (p *DBPushSubscription) Key() []byte {
	return []byte(p.Endpoint)
}

func (p *DBPushSubscription) MarshalBinary() (data []byte, err error) {
	type alias DBPushSubscription
	return msgpack.Marshal((*alias)(p))
}

func (p *DBPushSubscription) UnmarshalBinary(data []byte) error {
	type alias DBPushSubscription
	return msgpack.Unmarshal(data, (*alias)(p))
}
