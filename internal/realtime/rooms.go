package realtime

import (
	"sync"

	"go.uber.org/zap"
)

// PersonalRoom names the room targeting a single user's connection
func PersonalRoom(userID string) string {
	return "user:" + userID
}

// ChatRoom names the broadcast room for one conversation
func ChatRoom(chatID string) string {
	return "chat:" + chatID
}

// Rooms maintains an explicit room -> sessions index plus the reverse
// per-session set of joined rooms. Broadcast fan-out is a plain iteration
// over the index, nothing is delegated to the transport.
type Rooms struct {
	logger *zap.SugaredLogger

	mu      sync.RWMutex
	members map[string]map[*Session]struct{}
	joined  map[*Session]map[string]struct{}
}

func NewRooms(logger *zap.SugaredLogger) *Rooms {
	return &Rooms{
		logger:  logger,
		members: make(map[string]map[*Session]struct{}),
		joined:  make(map[*Session]map[string]struct{}),
	}
}

// Join adds the session to the room. Joining an already joined room is a no-op.
func (r *Rooms) Join(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.members[room]; !ok {
		r.members[room] = make(map[*Session]struct{})
	}
	r.members[room][s] = struct{}{}

	if _, ok := r.joined[s]; !ok {
		r.joined[s] = make(map[string]struct{})
	}
	r.joined[s][room] = struct{}{}
}

// Leave removes the session from the room if present, no-op otherwise.
// Empty rooms are dropped from the index so it does not grow unbounded.
func (r *Rooms) Leave(s *Session, room string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.leaveLocked(s, room)
}

func (r *Rooms) leaveLocked(s *Session, room string) {
	if members, ok := r.members[room]; ok {
		delete(members, s)
		if len(members) == 0 {
			delete(r.members, room)
		}
	}
	if rooms, ok := r.joined[s]; ok {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(r.joined, s)
		}
	}
}

// LeaveAll discards every membership of the session, used on disconnect
func (r *Rooms) LeaveAll(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room := range r.joined[s] {
		r.leaveLocked(s, room)
	}
}

// Contains reports whether the session has joined the room
func (r *Rooms) Contains(s *Session, room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.joined[s][room]
	return ok
}

// Broadcast sends one frame to every session joined to the room
func (r *Rooms) Broadcast(room string, frame []byte) {
	r.BroadcastExcept(room, frame, nil)
}

// BroadcastExcept sends one frame to every session joined to the room other
// than except. A session whose outbound buffer is full has the frame dropped
// rather than blocking the caller.
func (r *Rooms) BroadcastExcept(room string, frame []byte, except *Session) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for s := range r.members[room] {
		if s == except {
			continue
		}
		if !s.enqueue(frame) {
			r.logger.Warnw("outbound buffer full, dropping frame", "conn_id", s.ID(), "room", room)
		}
	}
}
