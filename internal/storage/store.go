package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"

	"studychat/internal/storage/zapadapter"
)

var (
	ErrUserExists      = errors.New("user already exists")
	ErrUserNotExist    = errors.New("user does not exist")
	ErrSameParticipant = errors.New("chat participants must differ")
	ErrChatNotExist    = errors.New("chat does not exist")
	ErrNotParticipant  = errors.New("user is not a chat participant")
	ErrMessageNotExist = errors.New("message does not exist")
	ErrEmptyContent    = errors.New("message content is empty")
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// New sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func New(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())

	for _, opt := range opts {
		opt.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close releases the underlying connection pool
func (s *Store) Close() {
	s.db.Close()
}

// CreateUser creates user and returns the full record
func (s *Store) CreateUser(ctx context.Context, username string) (User, error) {
	s.logger.Debugf("Creating user (%s)", username)

	u := User{
		ID:       uuid.NewString(),
		Username: username,
	}

	sql := "insert into users (id, username, created_at) values ($1, $2, $3) returning created_at"
	err := s.db.QueryRow(ctx, sql, u.ID, u.Username, time.Now()).Scan(&u.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return User{}, ErrUserExists
		}
		return User{}, err
	}

	s.logger.Debugf("Created user (%s) with id %s", username, u.ID)

	return u, nil
}

// UserByID returns a single user record
func (s *Store) UserByID(ctx context.Context, id string) (User, error) {
	var u User
	sql := "select id, username, created_at from users where id = $1"
	err := s.db.QueryRow(ctx, sql, id).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotExist
		}
		return User{}, err
	}

	return u, nil
}

// canonicalPair orders two user ids lexicographically so an unordered pair
// of participants always maps to the same (user1_id, user2_id) columns
func canonicalPair(a, b string) (string, string) {
	if strings.Compare(a, b) > 0 {
		return b, a
	}
	return a, b
}

// GetOrCreateChat returns the single chat between two users, creating it on
// first request. The operation is idempotent and order-independent: a lost
// race on insert is resolved by re-selecting the winner's row.
func (s *Store) GetOrCreateChat(ctx context.Context, userA, userB string) (Chat, error) {
	if userA == userB {
		return Chat{}, ErrSameParticipant
	}

	user1, user2 := canonicalPair(userA, userB)

	s.logger.Debugf("Get-or-create chat for pair (%s, %s)", user1, user2)

	selectSQL := `select id, user1_id, user2_id, created_at, updated_at
					from chats
				   where user1_id = $1 and user2_id = $2`

	var c Chat
	err := s.db.QueryRow(ctx, selectSQL, user1, user2).
		Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Chat{}, err
	}

	now := time.Now()
	insertSQL := `insert into chats (id, user1_id, user2_id, created_at, updated_at)
				  values ($1, $2, $3, $4, $4)
				  returning id, user1_id, user2_id, created_at, updated_at`

	err = s.db.QueryRow(ctx, insertSQL, uuid.NewString(), user1, user2, now).
		Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt, &c.UpdatedAt)
	if err == nil {
		s.logger.Debugf("Created chat %s for pair (%s, %s)", c.ID, user1, user2)
		return c, nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			// concurrent insert for the same pair won, return its row
			err = s.db.QueryRow(ctx, selectSQL, user1, user2).
				Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt, &c.UpdatedAt)
			if err != nil {
				return Chat{}, err
			}
			return c, nil
		case pgerrcode.ForeignKeyViolation:
			return Chat{}, ErrUserNotExist
		}
	}

	return Chat{}, err
}

// CreateMessage performs a two-step transaction (1. insert message record;
// 2. bump chat updated_at) and returns the created message. The sender and
// receiver must be the chat's two participants.
func (s *Store) CreateMessage(ctx context.Context, chatID, senderID, receiverID, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyContent
	}

	s.logger.Debugf("Creating message from user (id: %s) in chat (id: %s)", senderID, chatID)

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return Message{}, err
	}
	// error handling can be omitted for rollback according docs
	// see https://pkg.go.dev/github.com/jackc/pgx/v4?tab=doc#hdr-Transactions or any source comment on Rollback
	defer tx.Rollback(context.Background())

	var user1, user2 string
	err = tx.QueryRow(ctx, "select user1_id, user2_id from chats where id = $1", chatID).
		Scan(&user1, &user2)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrChatNotExist
		}
		return Message{}, err
	}

	sender1, sender2 := canonicalPair(senderID, receiverID)
	if sender1 != user1 || sender2 != user2 || senderID == receiverID {
		return Message{}, ErrNotParticipant
	}

	m := Message{
		ID:         uuid.NewString(),
		ChatID:     chatID,
		SenderID:   senderID,
		ReceiverID: receiverID,
		Content:    content,
	}

	sql := `insert into messages (id, chat_id, sender_id, receiver_id, content, created_at)
			values ($1, $2, $3, $4, $5, $6)
			returning created_at`
	err = tx.QueryRow(ctx, sql, m.ID, m.ChatID, m.SenderID, m.ReceiverID, m.Content, time.Now()).
		Scan(&m.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	_, err = tx.Exec(ctx, "update chats set updated_at = $2 where id = $1", chatID, m.CreatedAt)
	if err != nil {
		return Message{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Message{}, err
	}

	return m, nil
}

// ChatsByUserID returns all chats the user participates in, sorted by
// last activity (from latest to oldest)
func (s *Store) ChatsByUserID(ctx context.Context, userID string) ([]Chat, error) {
	s.logger.Debugf("Retrieving chats for user (id: %s)", userID)

	// check if user exists
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from users where id = $1", userID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotExist
		}
		return nil, err
	}

	sql := `select id, user1_id, user2_id, created_at, updated_at
			  from chats
			 where user1_id = $1 or user2_id = $1
			 order by updated_at desc`

	rows, err := s.db.Query(ctx, sql, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []Chat
	for rows.Next() {
		var c Chat
		err = rows.Scan(&c.ID, &c.User1ID, &c.User2ID, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d chats", len(chats))

	return chats, nil
}

// MessagesByChatID returns list of all chat messages with all fields, sorted by message creation time
// (from earliest to latest)
func (s *Store) MessagesByChatID(ctx context.Context, chatID string) ([]Message, error) {
	s.logger.Debugf("Retrieving messages for chat (id: %s)", chatID)

	// check if chat exists
	var i int8
	err := s.db.QueryRow(ctx, "select 1 from chats where id = $1", chatID).Scan(&i)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChatNotExist
		}
		return nil, err
	}

	sql := `select id, chat_id, sender_id, receiver_id, content, created_at, read_at
			  from messages
			 where chat_id = $1
			 order by created_at asc`

	rows, err := s.db.Query(ctx, sql, chatID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var readAt pgtype.Timestamptz
		err = rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &readAt)
		if err != nil {
			return nil, err
		}
		if readAt.Status == pgtype.Present {
			t := readAt.Time
			m.ReadAt = &t
		}
		messages = append(messages, m)
	}

	if rows.Err() != nil {
		return nil, rows.Err()
	}

	s.logger.Debugf("Retrieved %d messages", len(messages))

	return messages, nil
}

// MarkMessageRead sets read_at once. Re-marking an already read message keeps
// the first timestamp and is not an error.
func (s *Store) MarkMessageRead(ctx context.Context, chatID, messageID string) (Message, error) {
	s.logger.Debugf("Marking message (id: %s) in chat (id: %s) as read", messageID, chatID)

	sql := `update messages
			   set read_at = coalesce(read_at, $3)
			 where id = $1 and chat_id = $2
			 returning id, chat_id, sender_id, receiver_id, content, created_at, read_at`

	var m Message
	var readAt pgtype.Timestamptz
	err := s.db.QueryRow(ctx, sql, messageID, chatID, time.Now()).
		Scan(&m.ID, &m.ChatID, &m.SenderID, &m.ReceiverID, &m.Content, &m.CreatedAt, &readAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Message{}, ErrMessageNotExist
		}
		return Message{}, err
	}
	if readAt.Status == pgtype.Present {
		t := readAt.Time
		m.ReadAt = &t
	}

	return m, nil
}
