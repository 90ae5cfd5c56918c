package server

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"studychat/internal/storage"
)

// memStore is a map-backed ChatStore mirroring the sentinel-error contract of
// the real store, so handler tests run without a database
type memStore struct {
	mu         sync.Mutex
	users      map[string]storage.User
	usernames  map[string]struct{}
	chats      map[string]storage.Chat
	chatByPair map[[2]string]string
	messages   map[string]*storage.Message
	order      []string
}

func newMemStore() *memStore {
	return &memStore{
		users:      make(map[string]storage.User),
		usernames:  make(map[string]struct{}),
		chats:      make(map[string]storage.Chat),
		chatByPair: make(map[[2]string]string),
		messages:   make(map[string]*storage.Message),
	}
}

func pairKey(a, b string) [2]string {
	if strings.Compare(a, b) > 0 {
		a, b = b, a
	}
	return [2]string{a, b}
}

func (m *memStore) CreateUser(_ context.Context, username string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.usernames[username]; ok {
		return storage.User{}, storage.ErrUserExists
	}

	u := storage.User{
		ID:        uuid.NewString(),
		Username:  username,
		CreatedAt: time.Now(),
	}
	m.users[u.ID] = u
	m.usernames[username] = struct{}{}

	return u, nil
}

func (m *memStore) ChatsByUserID(_ context.Context, userID string) ([]storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return nil, storage.ErrUserNotExist
	}

	var chats []storage.Chat
	for _, c := range m.chats {
		if c.User1ID == userID || c.User2ID == userID {
			chats = append(chats, c)
		}
	}
	return chats, nil
}

func (m *memStore) GetOrCreateChat(_ context.Context, userA, userB string) (storage.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if userA == userB {
		return storage.Chat{}, storage.ErrSameParticipant
	}
	if _, ok := m.users[userA]; !ok {
		return storage.Chat{}, storage.ErrUserNotExist
	}
	if _, ok := m.users[userB]; !ok {
		return storage.Chat{}, storage.ErrUserNotExist
	}

	key := pairKey(userA, userB)
	if id, ok := m.chatByPair[key]; ok {
		return m.chats[id], nil
	}

	now := time.Now()
	c := storage.Chat{
		ID:        uuid.NewString(),
		User1ID:   key[0],
		User2ID:   key[1],
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.chats[c.ID] = c
	m.chatByPair[key] = c.ID

	return c, nil
}

func (m *memStore) MessagesByChatID(_ context.Context, chatID string) ([]storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.chats[chatID]; !ok {
		return nil, storage.ErrChatNotExist
	}

	var messages []storage.Message
	for _, id := range m.order {
		if msg := m.messages[id]; msg.ChatID == chatID {
			messages = append(messages, *msg)
		}
	}
	return messages, nil
}

func (m *memStore) CreateMessage(_ context.Context, chatID, senderID, receiverID, content string) (storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	content = strings.TrimSpace(content)
	if content == "" {
		return storage.Message{}, storage.ErrEmptyContent
	}

	c, ok := m.chats[chatID]
	if !ok {
		return storage.Message{}, storage.ErrChatNotExist
	}

	key := pairKey(senderID, receiverID)
	if senderID == receiverID || key[0] != c.User1ID || key[1] != c.User2ID {
		return storage.Message{}, storage.ErrNotParticipant
	}

	msg := storage.Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	m.messages[msg.ID] = &msg
	m.order = append(m.order, msg.ID)

	c.UpdatedAt = msg.CreatedAt
	m.chats[chatID] = c

	return msg, nil
}

func (m *memStore) MarkMessageRead(_ context.Context, chatID, messageID string) (storage.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg, ok := m.messages[messageID]
	if !ok || msg.ChatID != chatID {
		return storage.Message{}, storage.ErrMessageNotExist
	}

	if msg.ReadAt == nil {
		now := time.Now()
		msg.ReadAt = &now
	}

	return *msg, nil
}
