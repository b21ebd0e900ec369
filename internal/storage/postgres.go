package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mohamedkhairy/chat-server/internal/config"
	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//go:embed schema.sql
var schemaSQL string

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation
const uniqueViolation = "23505"

var (
	postgresQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "postgres_query_total",
			Help: "Total number of PostgreSQL operations",
		},
		[]string{"operation", "status"}, // status: "success" or "error"
	)

	postgresQueryLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "postgres_query_latency_seconds",
			Help:    "Latency of PostgreSQL operations in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		},
		[]string{"operation"},
	)
)

// PostgresStore implements Store on top of lib/pq
type PostgresStore struct {
	db      *sql.DB
	timeout time.Duration
}

// NewPostgresStore opens and verifies a PostgreSQL connection pool
func NewPostgresStore(dbConfig config.DatabaseConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dbConfig.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(dbConfig.MaxConnections)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewPostgresStoreFromDB(db, dbConfig.QueryTimeout)

	if dbConfig.ApplySchema {
		if err := store.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
	}

	logger.Info("Connected to PostgreSQL",
		logger.String("host", dbConfig.Host),
		logger.Int("port", dbConfig.Port),
		logger.String("database", dbConfig.Database),
	)

	return store, nil
}

// NewPostgresStoreFromDB wraps an already opened pool
func NewPostgresStoreFromDB(db *sql.DB, timeout time.Duration) *PostgresStore {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &PostgresStore{db: db, timeout: timeout}
}

// EnsureSchema creates missing tables and indexes
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the connection pool
func (s *PostgresStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	return nil
}

// begin starts a bounded operation and returns its context and completion callback
func (s *PostgresStore) begin(ctx context.Context, operation string) (context.Context, func(error)) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	start := time.Now()
	return ctx, func(err error) {
		cancel()
		postgresQueryLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		status := "success"
		if err != nil && !errors.Is(err, ErrNotFound) {
			status = "error"
		}
		postgresQueryTotal.WithLabelValues(operation, status).Inc()
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// ===== users =====

const userColumns = `user_id, username, COALESCE(email, ''), password_hash, display_name, status, last_seen, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var u models.User
	var lastSeen sql.NullTime
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.DisplayName, &u.Status, &lastSeen, &u.CreatedAt); err != nil {
		return nil, err
	}
	if lastSeen.Valid {
		u.LastSeen = lastSeen.Time
	}
	return &u, nil
}

// CreateUser inserts a user
func (s *PostgresStore) CreateUser(ctx context.Context, user *models.User) (err error) {
	ctx, done := s.begin(ctx, "create_user")
	defer func() { done(err) }()

	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Status == "" {
		user.Status = models.StatusOffline
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO users (user_id, username, email, password_hash, display_name, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, user.ID, user.Username, nullString(user.Email), user.PasswordHash, user.DisplayName, user.Status).Scan(&user.CreatedAt)
	if isUniqueViolation(err) {
		return ErrUsernameTaken
	}
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// GetUserByID retrieves a user by ID
func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (u *models.User, err error) {
	ctx, done := s.begin(ctx, "get_user")
	defer func() { done(err) }()

	u, err = scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// GetUserByUsername retrieves a user by username
func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (u *models.User, err error) {
	ctx, done := s.begin(ctx, "get_user_by_username")
	defer func() { done(err) }()

	u, err = scanUser(s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	return u, nil
}

// SearchUsers matches username or display name
func (s *PostgresStore) SearchUsers(ctx context.Context, query string, limit int) (users []*models.User, err error) {
	ctx, done := s.begin(ctx, "search_users")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+userColumns+`
		FROM users
		WHERE username ILIKE $1 OR display_name ILIKE $1
		ORDER BY username
		LIMIT $2
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// UpdateStatus sets the user's presence status
func (s *PostgresStore) UpdateStatus(ctx context.Context, userID string, status string) (err error) {
	ctx, done := s.begin(ctx, "update_status")
	defer func() { done(err) }()

	_, err = s.db.ExecContext(ctx,
		`UPDATE users SET status = $1, last_seen = NOW() WHERE user_id = $2`,
		status, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update status: %w", err)
	}
	return nil
}

// ===== messages =====

const messageColumns = `message_id, sender_id, COALESCE(recipient_id, ''), COALESCE(group_id, ''), content, message_type, created_at, is_read`

func scanMessage(row rowScanner) (*models.Message, error) {
	var m models.Message
	if err := row.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.GroupID, &m.Content, &m.MessageType, &m.CreatedAt, &m.IsRead); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *PostgresStore) queryMessages(ctx context.Context, query string, args ...interface{}) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []*models.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CreateMessage inserts a direct or group message
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *models.Message) (err error) {
	ctx, done := s.begin(ctx, "create_message")
	defer func() { done(err) }()

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}

	err = s.db.QueryRowContext(ctx, `
		INSERT INTO messages (message_id, sender_id, recipient_id, group_id, content, message_type)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, is_read
	`, msg.ID, msg.SenderID, nullString(msg.RecipientID), nullString(msg.GroupID), msg.Content, msg.MessageType,
	).Scan(&msg.CreatedAt, &msg.IsRead)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

// GetMessage retrieves a message by ID
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (m *models.Message, err error) {
	ctx, done := s.begin(ctx, "get_message")
	defer func() { done(err) }()

	m, err = scanMessage(s.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE message_id = $1`, messageID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query message: %w", err)
	}
	return m, nil
}

// GetConversation returns direct messages between two users
func (s *PostgresStore) GetConversation(ctx context.Context, user1ID, user2ID string, limit int) (messages []*models.Message, err error) {
	ctx, done := s.begin(ctx, "get_conversation")
	defer func() { done(err) }()

	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE (sender_id = $1 AND recipient_id = $2)
		   OR (sender_id = $2 AND recipient_id = $1)
		ORDER BY created_at DESC
		LIMIT $3
	`, user1ID, user2ID, limit)
}

// GetGroupMessages returns messages posted to a group
func (s *PostgresStore) GetGroupMessages(ctx context.Context, groupID string, limit int) (messages []*models.Message, err error) {
	ctx, done := s.begin(ctx, "get_group_messages")
	defer func() { done(err) }()

	return s.queryMessages(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE group_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, groupID, limit)
}

// MarkRead flags a message as read
func (s *PostgresStore) MarkRead(ctx context.Context, messageID string) (err error) {
	ctx, done := s.begin(ctx, "mark_read")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `UPDATE messages SET is_read = TRUE WHERE message_id = $1`, messageID)
	if err != nil {
		return fmt.Errorf("failed to mark message read: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ===== groups =====

// CreateGroup inserts a group and its creator as admin
func (s *PostgresStore) CreateGroup(ctx context.Context, group *models.Group) (err error) {
	ctx, done := s.begin(ctx, "create_group")
	defer func() { done(err) }()

	if group.ID == "" {
		group.ID = uuid.New().String()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO groups (group_id, group_name, description, created_by)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at
	`, group.ID, group.Name, group.Description, group.CreatedBy).Scan(&group.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role) VALUES ($1, $2, $3)
	`, group.ID, group.CreatedBy, models.RoleAdmin); err != nil {
		return fmt.Errorf("failed to insert group creator: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit group: %w", err)
	}
	return nil
}

// GetGroup retrieves a group by ID
func (s *PostgresStore) GetGroup(ctx context.Context, groupID string) (g *models.Group, err error) {
	ctx, done := s.begin(ctx, "get_group")
	defer func() { done(err) }()

	g = &models.Group{}
	err = s.db.QueryRowContext(ctx, `
		SELECT group_id, group_name, description, created_by, created_at
		FROM groups WHERE group_id = $1
	`, groupID).Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query group: %w", err)
	}
	return g, nil
}

// GetUserGroups lists the groups a user belongs to
func (s *PostgresStore) GetUserGroups(ctx context.Context, userID string) (groups []*models.Group, err error) {
	ctx, done := s.begin(ctx, "get_user_groups")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.group_id, g.group_name, g.description, g.created_by, g.created_at
		FROM groups g
		JOIN group_members gm ON g.group_id = gm.group_id
		WHERE gm.user_id = $1
		ORDER BY g.group_name
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query groups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var g models.Group
		if err := rows.Scan(&g.ID, &g.Name, &g.Description, &g.CreatedBy, &g.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		groups = append(groups, &g)
	}
	return groups, rows.Err()
}

// GetMembers lists the members of a group
func (s *PostgresStore) GetMembers(ctx context.Context, groupID string) (members []*models.GroupMember, err error) {
	ctx, done := s.begin(ctx, "get_group_members")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT group_id, user_id, role, joined_at
		FROM group_members
		WHERE group_id = $1
		ORDER BY joined_at
	`, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.GroupMember
		if err := rows.Scan(&m.GroupID, &m.UserID, &m.Role, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan group member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// IsMember checks group membership
func (s *PostgresStore) IsMember(ctx context.Context, groupID, userID string) (ok bool, err error) {
	ctx, done := s.begin(ctx, "is_member")
	defer func() { done(err) }()

	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)
	`, groupID, userID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check membership: %w", err)
	}
	return ok, nil
}

// AddMember adds a user to a group
func (s *PostgresStore) AddMember(ctx context.Context, groupID, userID, role string) (added bool, err error) {
	ctx, done := s.begin(ctx, "add_member")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO group_members (group_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, user_id) DO NOTHING
	`, groupID, userID, role)
	if err != nil {
		return false, fmt.Errorf("failed to add member: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// RemoveMember removes a user from a group
func (s *PostgresStore) RemoveMember(ctx context.Context, groupID, userID string) (removed bool, err error) {
	ctx, done := s.begin(ctx, "remove_member")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM group_members WHERE group_id = $1 AND user_id = $2`, groupID, userID)
	if err != nil {
		return false, fmt.Errorf("failed to remove member: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ===== friends =====

// CreateFriendRequest inserts a pending friend request. Only a pending request
// in the same direction conflicts.
func (s *PostgresStore) CreateFriendRequest(ctx context.Context, senderID, receiverID string) (req *models.FriendRequest, err error) {
	ctx, done := s.begin(ctx, "create_friend_request")
	defer func() { done(err) }()

	req = &models.FriendRequest{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     models.RequestPending,
	}
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO friend_requests (request_id, sender_id, receiver_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (sender_id, receiver_id) WHERE status = 'pending' DO NOTHING
		RETURNING created_at
	`, req.ID, senderID, receiverID).Scan(&req.CreatedAt)
	if err == sql.ErrNoRows || isUniqueViolation(err) {
		return nil, ErrRequestExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert friend request: %w", err)
	}
	req.UpdatedAt = req.CreatedAt
	return req, nil
}

// AcceptFriendRequest accepts a pending request and records the friendship
func (s *PostgresStore) AcceptFriendRequest(ctx context.Context, requestID, receiverID string) (req *models.FriendRequest, err error) {
	ctx, done := s.begin(ctx, "accept_friend_request")
	defer func() { done(err) }()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	req = &models.FriendRequest{ID: requestID}
	err = tx.QueryRowContext(ctx, `
		UPDATE friend_requests
		SET status = $1, updated_at = NOW()
		WHERE request_id = $2 AND receiver_id = $3 AND status = $4
		RETURNING sender_id, receiver_id, status, created_at, updated_at
	`, models.RequestAccepted, requestID, receiverID, models.RequestPending,
	).Scan(&req.SenderID, &req.ReceiverID, &req.Status, &req.CreatedAt, &req.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to accept friend request: %w", err)
	}

	user1, user2 := models.FriendPair(req.SenderID, req.ReceiverID)
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO friendships (user1_id, user2_id) VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`, user1, user2); err != nil {
		return nil, fmt.Errorf("failed to insert friendship: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit friendship: %w", err)
	}
	return req, nil
}

// RejectFriendRequest rejects a pending request
func (s *PostgresStore) RejectFriendRequest(ctx context.Context, requestID, receiverID string) (err error) {
	ctx, done := s.begin(ctx, "reject_friend_request")
	defer func() { done(err) }()

	res, err := s.db.ExecContext(ctx, `
		UPDATE friend_requests
		SET status = $1, updated_at = NOW()
		WHERE request_id = $2 AND receiver_id = $3 AND status = $4
	`, models.RequestRejected, requestID, receiverID, models.RequestPending)
	if err != nil {
		return fmt.Errorf("failed to reject friend request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPendingRequests lists pending requests addressed to a user, newest first
func (s *PostgresStore) GetPendingRequests(ctx context.Context, receiverID string) (requests []*models.PendingRequest, err error) {
	ctx, done := s.begin(ctx, "get_pending_requests")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT fr.request_id, fr.sender_id, u.username, u.display_name, fr.created_at
		FROM friend_requests fr
		JOIN users u ON fr.sender_id = u.user_id
		WHERE fr.receiver_id = $1 AND fr.status = $2
		ORDER BY fr.created_at DESC
	`, receiverID, models.RequestPending)
	if err != nil {
		return nil, fmt.Errorf("failed to query friend requests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.PendingRequest
		if err := rows.Scan(&r.ID, &r.SenderID, &r.Username, &r.DisplayName, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan friend request: %w", err)
		}
		requests = append(requests, &r)
	}
	return requests, rows.Err()
}

// AreFriends checks whether two users are friends
func (s *PostgresStore) AreFriends(ctx context.Context, user1ID, user2ID string) (ok bool, err error) {
	ctx, done := s.begin(ctx, "are_friends")
	defer func() { done(err) }()

	a, b := models.FriendPair(user1ID, user2ID)
	err = s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM friendships WHERE user1_id = $1 AND user2_id = $2)
	`, a, b).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("failed to check friendship: %w", err)
	}
	return ok, nil
}

// GetFriends lists a user's friends ordered by username
func (s *PostgresStore) GetFriends(ctx context.Context, userID string) (friends []*models.User, err error) {
	ctx, done := s.begin(ctx, "get_friends")
	defer func() { done(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+prefixed("u")+`
		FROM friendships f
		JOIN users u ON (CASE WHEN f.user1_id = $1 THEN f.user2_id ELSE f.user1_id END) = u.user_id
		WHERE f.user1_id = $1 OR f.user2_id = $1
		ORDER BY u.username
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query friends: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan friend: %w", err)
		}
		friends = append(friends, u)
	}
	return friends, rows.Err()
}

// prefixed qualifies the user column list with a table alias
func prefixed(alias string) string {
	return fmt.Sprintf(
		"%[1]s.user_id, %[1]s.username, COALESCE(%[1]s.email, ''), %[1]s.password_hash, %[1]s.display_name, %[1]s.status, %[1]s.last_seen, %[1]s.created_at",
		alias,
	)
}
