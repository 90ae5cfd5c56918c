package realtime

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"studychat/internal/storage"
)

const defaultPersistTimeout = 5 * time.Second

// MessageStore is the durable collaborator of the delivery pipeline. The
// implementation persists the message and bumps the chat's last activity in
// one transaction.
type MessageStore interface {
	CreateMessage(ctx context.Context, chatID, senderID, receiverID, content string) (storage.Message, error)
}

// Option alters the default configuration of a Hub under construction
type Option interface {
	apply(*Hub)
}

type optionFunc func(h *Hub)

func (f optionFunc) apply(h *Hub) { f(h) }

// PersistTimeout bounds the store call of the delivery pipeline. A send whose
// persistence exceeds the timeout fails with message:error instead of hanging
// the sender forever.
func PersistTimeout(d time.Duration) Option {
	return optionFunc(func(h *Hub) {
		h.persistTimeout = d
	})
}

// Hub owns the presence registry and the room index and dispatches every
// decoded client event. All state transitions of a single connection run on
// that connection's read goroutine; cross-connection state is confined to
// Registry and Rooms which guard themselves.
type Hub struct {
	logger         *zap.SugaredLogger
	presence       *Registry
	rooms          *Rooms
	store          MessageStore
	dec            decoder
	persistTimeout time.Duration

	mu       sync.RWMutex
	sessions map[*Session]struct{}
}

// NewHub wires an explicitly constructed Registry to a message store
func NewHub(logger *zap.SugaredLogger, presence *Registry, store MessageStore, opts ...Option) *Hub {
	h := &Hub{
		logger:         logger,
		presence:       presence,
		rooms:          NewRooms(logger),
		store:          store,
		persistTimeout: defaultPersistTimeout,
		sessions:       make(map[*Session]struct{}),
	}

	for _, opt := range opts {
		opt.apply(h)
	}

	return h
}

// Attach records a freshly upgraded connection. The session stays
// unauthenticated and receives no presence traffic until its authenticate
// event arrives.
func (h *Hub) Attach(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sessions[s] = struct{}{}
}

// Handle dispatches one decoded client event for the session
func (h *Hub) Handle(s *Session, event Event) {
	switch ev := event.(type) {
	case Authenticate:
		h.authenticate(s, ev.UserID)
	case JoinChat:
		h.joinChat(s, ev.ChatID)
	case LeaveChat:
		h.leaveChat(s, ev.ChatID)
	case TypingStart:
		h.relayTyping(s, EventTypingStart, ev.ChatID, ev.UserID)
	case TypingStop:
		h.relayTyping(s, EventTypingStop, ev.ChatID, ev.UserID)
	case SendMessage:
		h.sendMessage(s, ev)
	default:
		h.logger.Debugw("unhandled event", "conn_id", s.id)
	}
}

// authenticate binds the user identity to the connection, registers presence,
// joins the personal room, announces the user to everyone else and answers
// with the full presence snapshot. Authenticating again on the same
// connection rebinds: the previous identity is released first so the registry
// never keeps a stale entry.
func (h *Hub) authenticate(s *Session, userID string) {
	if userID == "" {
		h.logger.Debugw("dropping authenticate without user id", "conn_id", s.id)
		return
	}

	if s.userID != "" && s.userID != userID {
		h.releaseIdentity(s)
	}

	// written under the hub lock so broadcastToOthers can tell authenticated
	// sessions apart without racing this goroutine
	h.mu.Lock()
	s.userID = userID
	h.mu.Unlock()

	h.presence.Register(userID, s.id)
	h.rooms.Join(s, PersonalRoom(userID))

	h.logger.Infow("connection authenticated",
		"conn_id", s.id,
		"user_id", userID,
		"online", h.presence.Size(),
	)

	if online, err := marshalFrame(EventUserOnline, userID); err == nil {
		h.broadcastToOthers(s, online)
	}

	if snapshot, err := marshalFrame(EventUsersOnline, h.presence.ListOnline()); err == nil {
		s.enqueue(snapshot)
	}
}

// joinChat adds the connection to a conversation's broadcast room. No
// participant check is performed: any authenticated connection may join any
// chat room (see DESIGN.md).
func (h *Hub) joinChat(s *Session, chatID string) {
	if s.userID == "" || chatID == "" {
		h.logger.Debugw("dropping chat join", "conn_id", s.id, "chat_id", chatID)
		return
	}
	h.rooms.Join(s, ChatRoom(chatID))
}

func (h *Hub) leaveChat(s *Session, chatID string) {
	if chatID == "" {
		return
	}
	h.rooms.Leave(s, ChatRoom(chatID))
}

// relayTyping is a stateless fire-and-forget broadcast to the chat room,
// excluding the sending connection
func (h *Hub) relayTyping(s *Session, event, chatID, userID string) {
	if s.userID == "" || chatID == "" {
		return
	}

	if userID == "" {
		userID = s.userID
	}

	payload, err := marshalFrame(event, typingPayload{ChatID: chatID, UserID: userID})
	if err != nil {
		return
	}
	h.rooms.BroadcastExcept(ChatRoom(chatID), payload, s)
}

// sendMessage runs the delivery pipeline: validate, persist, broadcast.
// Validation failures are dropped with a log line, persistence failures go
// back to the sender only, and nothing is ever broadcast before the store
// confirmed the write.
func (h *Hub) sendMessage(s *Session, ev SendMessage) {
	content := strings.TrimSpace(ev.Content)
	if s.userID == "" || ev.ChatID == "" || content == "" {
		h.logger.Debugw("dropping invalid message:send",
			"conn_id", s.id,
			"chat_id", ev.ChatID,
			"authenticated", s.userID != "",
			"empty_content", content == "",
		)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), h.persistTimeout)
	defer cancel()

	msg, err := h.store.CreateMessage(ctx, ev.ChatID, s.userID, ev.ReceiverID, content)
	if err != nil {
		h.logger.Errorw("persisting message failed",
			"conn_id", s.id,
			"chat_id", ev.ChatID,
			"error", err,
		)
		if payload, merr := marshalFrame(EventMessageError, errorPayload{
			Error:  "failed to send message",
			ChatID: ev.ChatID,
		}); merr == nil {
			s.enqueue(payload)
		}
		return
	}

	h.BroadcastMessage(msg)
}

// BroadcastMessage fans a persisted message out to its chat room, sender
// included. This is the single broadcast primitive: the socket pipeline and
// the REST send endpoint both converge here so clients see one wire shape
// regardless of the path a message took.
func (h *Hub) BroadcastMessage(msg storage.Message) {
	payload, err := marshalFrame(EventMessageNew, msg)
	if err != nil {
		h.logger.Errorf("marshaling message:new: %v", err)
		return
	}
	h.rooms.Broadcast(ChatRoom(msg.ChatID), payload)
}

// Disconnect runs the terminal transition: memberships are discarded and, if
// the connection still owns its user's presence entry, the user goes offline
// for everyone else. A disconnect without a prior authenticate only detaches
// the session.
func (h *Hub) Disconnect(s *Session) {
	h.mu.Lock()
	if _, ok := h.sessions[s]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.sessions, s)
	h.mu.Unlock()

	h.rooms.LeaveAll(s)
	h.releaseIdentity(s)
	close(s.send)
}

// releaseIdentity unregisters the session's bound user and announces the
// offline transition. A user whose presence entry was already overwritten by
// a newer connection is left untouched: that user is still online elsewhere.
func (h *Hub) releaseIdentity(s *Session) {
	userID := s.userID
	if userID == "" {
		return
	}

	h.mu.Lock()
	s.userID = ""
	h.mu.Unlock()

	connID, ok := h.presence.Lookup(userID)
	if !ok || connID != s.id {
		return
	}

	h.presence.Unregister(userID)
	h.rooms.Leave(s, PersonalRoom(userID))

	h.logger.Infow("user went offline",
		"conn_id", s.id,
		"user_id", userID,
		"online", h.presence.Size(),
	)

	if offline, err := marshalFrame(EventUserOffline, userID); err == nil {
		h.broadcastToOthers(s, offline)
	}
}

// broadcastToOthers sends a frame to every authenticated connection except s.
// Connections that never authenticated receive no presence traffic.
func (h *Hub) broadcastToOthers(s *Session, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for other := range h.sessions {
		if other == s || other.userID == "" {
			continue
		}
		if !other.enqueue(frame) {
			h.logger.Warnw("outbound buffer full, dropping frame", "conn_id", other.id)
		}
	}
}
