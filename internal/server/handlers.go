package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/valyala/fastjson"
	"go.uber.org/zap"

	"studychat/internal/realtime"
	"studychat/internal/storage"
)

// ChatStore is the durable collaborator consumed by the REST surface
type ChatStore interface {
	CreateUser(ctx context.Context, username string) (storage.User, error)
	ChatsByUserID(ctx context.Context, userID string) ([]storage.Chat, error)
	GetOrCreateChat(ctx context.Context, userA, userB string) (storage.Chat, error)
	MessagesByChatID(ctx context.Context, chatID string) ([]storage.Message, error)
	CreateMessage(ctx context.Context, chatID, senderID, receiverID, content string) (storage.Message, error)
	MarkMessageRead(ctx context.Context, chatID, messageID string) (storage.Message, error)
}

// Broadcaster is the realtime primitive the REST send path converges on
type Broadcaster interface {
	BroadcastMessage(msg storage.Message)
}

type parsers struct {
	createUserPool  fastjson.ParserPool
	sendMessagePool fastjson.ParserPool
}

type handler struct {
	logger      *zap.SugaredLogger
	store       ChatStore
	hub         *realtime.Hub
	broadcaster Broadcaster
	upgrader    websocket.Upgrader
	parsers     parsers
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err = w.Write(payload); err != nil {
		h.logger.Errorf("writing marshaled data to ResponseWriter: %v", err)
	}
}

// createUser handles POST requests on "/users" endpoint
func (h *handler) createUser(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.createUserPool.Get()
	defer h.parsers.createUserPool.Put(parser)
	v, _ := parser.ParseBytes(body)

	if !v.Exists("username") {
		http.Error(w, "Missing Field \"username\"", http.StatusBadRequest)
		return
	}

	username := string(v.GetStringBytes("username"))
	if len(username) == 0 {
		http.Error(w, "Field \"username\" must be a string and have non-zero length", http.StatusBadRequest)
		return
	}

	user, err := h.store.CreateUser(r.Context(), username)
	if err != nil {
		if errors.Is(err, storage.ErrUserExists) {
			http.Error(w, "User already exists", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, user)
}

// chatsByUser handles GET requests on "/chats" endpoint
func (h *handler) chatsByUser(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "Missing query parameter \"user\"", http.StatusBadRequest)
		return
	}

	chats, err := h.store.ChatsByUserID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotExist) {
			http.Error(w, "User does not exist", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if chats == nil {
		chats = []storage.Chat{}
	}

	h.writeJSON(w, http.StatusOK, chats)
}

// getOrCreateChat handles GET requests on "/chats/{peerID}" endpoint.
// Requesting the conversation between the same two users any number of times,
// in either order, yields the same chat record.
func (h *handler) getOrCreateChat(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "Missing query parameter \"user\"", http.StatusBadRequest)
		return
	}

	peerID := chi.URLParam(r, "id")

	chat, err := h.store.GetOrCreateChat(r.Context(), userID, peerID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrSameParticipant):
			http.Error(w, "Chat participants must differ", http.StatusBadRequest)
		case errors.Is(err, storage.ErrUserNotExist):
			http.Error(w, "User does not exist", http.StatusBadRequest)
		default:
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.writeJSON(w, http.StatusOK, chat)
}

// messagesByChat handles GET requests on "/chats/{chatID}/messages" endpoint
func (h *handler) messagesByChat(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")

	messages, err := h.store.MessagesByChatID(r.Context(), chatID)
	if err != nil {
		if errors.Is(err, storage.ErrChatNotExist) {
			http.Error(w, "Chat does not exist", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if messages == nil {
		messages = []storage.Message{}
	}

	h.writeJSON(w, http.StatusOK, messages)
}

// sendMessage handles POST requests on "/chats/{chatID}/messages" endpoint.
// It persists the message and then invokes the same broadcast primitive the
// socket pipeline uses, so both paths emit identical message:new frames.
// Unlike the socket layer this endpoint does answer malformed input with 400.
func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")

	body, _ := io.ReadAll(r.Body)

	parser := h.parsers.sendMessagePool.Get()
	defer h.parsers.sendMessagePool.Put(parser)
	v, _ := parser.ParseBytes(body)

	senderID := string(v.GetStringBytes("senderId"))
	if senderID == "" {
		http.Error(w, "Missing Field \"senderId\"", http.StatusBadRequest)
		return
	}

	receiverID := string(v.GetStringBytes("receiverId"))
	if receiverID == "" {
		http.Error(w, "Missing Field \"receiverId\"", http.StatusBadRequest)
		return
	}

	content := strings.TrimSpace(string(v.GetStringBytes("content")))
	if content == "" {
		http.Error(w, "Field \"content\" must have non-zero length", http.StatusBadRequest)
		return
	}

	msg, err := h.store.CreateMessage(r.Context(), chatID, senderID, receiverID, content)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrChatNotExist):
			http.Error(w, "Chat with provided id does not exist", http.StatusBadRequest)
		case errors.Is(err, storage.ErrNotParticipant):
			http.Error(w, "Sender is not a chat participant", http.StatusBadRequest)
		case errors.Is(err, storage.ErrEmptyContent):
			http.Error(w, "Field \"content\" must have non-zero length", http.StatusBadRequest)
		default:
			h.logger.Error(err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
		return
	}

	h.broadcaster.BroadcastMessage(msg)

	h.writeJSON(w, http.StatusCreated, msg)
}

// markMessageRead handles PATCH requests on
// "/chats/{chatID}/messages/{messageID}/read" endpoint. Marking twice keeps
// the first read timestamp.
func (h *handler) markMessageRead(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	messageID := chi.URLParam(r, "messageID")

	msg, err := h.store.MarkMessageRead(r.Context(), chatID, messageID)
	if err != nil {
		if errors.Is(err, storage.ErrMessageNotExist) {
			http.Error(w, "Message does not exist", http.StatusBadRequest)
			return
		}
		h.logger.Error(err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, msg)
}

// serveWS upgrades GET requests on "/ws" into the realtime event channel
func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorf("upgrading websocket connection: %v", err)
		return
	}

	sess := realtime.NewSession(h.hub, conn)
	h.hub.Attach(sess)
	sess.Start()
}
