package storage

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohamedkhairy/chat-server/internal/models"
)

// MockStore is an in-memory implementation of Store for testing
type MockStore struct {
	mu          sync.Mutex
	users       map[string]*models.User
	messages    []*models.Message
	groups      map[string]*models.Group
	members     map[string][]*models.GroupMember
	requests    []*models.FriendRequest
	friendships map[[2]string]bool

	// Err, when set, is returned by every operation
	Err error

	// StatusUpdates records UpdateStatus calls in order
	StatusUpdates []StatusUpdate
}

// StatusUpdate is one recorded UpdateStatus call
type StatusUpdate struct {
	UserID string
	Status string
}

// NewMockStore creates an empty MockStore
func NewMockStore() *MockStore {
	return &MockStore{
		users:       make(map[string]*models.User),
		groups:      make(map[string]*models.Group),
		members:     make(map[string][]*models.GroupMember),
		friendships: make(map[[2]string]bool),
	}
}

func copyUser(u *models.User) *models.User {
	c := *u
	return &c
}

func (m *MockStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, u := range m.users {
		if u.Username == user.Username || (user.Email != "" && u.Email == user.Email) {
			return ErrUsernameTaken
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.Status == "" {
		user.Status = models.StatusOffline
	}
	user.CreatedAt = time.Now()
	m.users[user.ID] = copyUser(user)
	return nil
}

func (m *MockStore) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	u, ok := m.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, u := range m.users {
		if u.Username == username {
			return copyUser(u), nil
		}
	}
	return nil, ErrNotFound
}

func (m *MockStore) SearchUsers(ctx context.Context, query string, limit int) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	q := strings.ToLower(query)
	var result []*models.User
	for _, u := range m.users {
		if strings.Contains(strings.ToLower(u.Username), q) || strings.Contains(strings.ToLower(u.DisplayName), q) {
			result = append(result, copyUser(u))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MockStore) UpdateStatus(ctx context.Context, userID string, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.StatusUpdates = append(m.StatusUpdates, StatusUpdate{UserID: userID, Status: status})
	if u, ok := m.users[userID]; ok {
		u.Status = status
		u.LastSeen = time.Now()
	}
	return nil
}

// StatusHistory returns a snapshot of recorded status updates
func (m *MockStore) StatusHistory() []StatusUpdate {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusUpdate(nil), m.StatusUpdates...)
}

func (m *MockStore) CreateMessage(ctx context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.MessageType == "" {
		msg.MessageType = models.MessageTypeText
	}
	msg.CreatedAt = time.Now()
	c := *msg
	m.messages = append(m.messages, &c)
	return nil
}

func (m *MockStore) GetMessage(ctx context.Context, messageID string) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, msg := range m.messages {
		if msg.ID == messageID {
			c := *msg
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

// newestFirst collects matching messages, newest first, up to limit
func (m *MockStore) newestFirst(limit int, match func(*models.Message) bool) []*models.Message {
	var result []*models.Message
	for i := len(m.messages) - 1; i >= 0 && len(result) < limit; i-- {
		if match(m.messages[i]) {
			c := *m.messages[i]
			result = append(result, &c)
		}
	}
	return result
}

func (m *MockStore) GetConversation(ctx context.Context, user1ID, user2ID string, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.newestFirst(limit, func(msg *models.Message) bool {
		return (msg.SenderID == user1ID && msg.RecipientID == user2ID) ||
			(msg.SenderID == user2ID && msg.RecipientID == user1ID)
	}), nil
}

func (m *MockStore) GetGroupMessages(ctx context.Context, groupID string, limit int) ([]*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	return m.newestFirst(limit, func(msg *models.Message) bool {
		return msg.GroupID == groupID
	}), nil
}

func (m *MockStore) MarkRead(ctx context.Context, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	for _, msg := range m.messages {
		if msg.ID == messageID {
			msg.IsRead = true
			return nil
		}
	}
	return ErrNotFound
}

func (m *MockStore) CreateGroup(ctx context.Context, group *models.Group) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	group.CreatedAt = time.Now()
	c := *group
	m.groups[group.ID] = &c
	m.members[group.ID] = []*models.GroupMember{{
		GroupID:  group.ID,
		UserID:   group.CreatedBy,
		Role:     models.RoleAdmin,
		JoinedAt: group.CreatedAt,
	}}
	return nil
}

func (m *MockStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	g, ok := m.groups[groupID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *g
	return &c, nil
}

func (m *MockStore) GetUserGroups(ctx context.Context, userID string) ([]*models.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var result []*models.Group
	for groupID, members := range m.members {
		for _, member := range members {
			if member.UserID == userID {
				c := *m.groups[groupID]
				result = append(result, &c)
				break
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MockStore) GetMembers(ctx context.Context, groupID string) ([]*models.GroupMember, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var result []*models.GroupMember
	for _, member := range m.members[groupID] {
		c := *member
		result = append(result, &c)
	}
	return result, nil
}

func (m *MockStore) isMember(groupID, userID string) bool {
	for _, member := range m.members[groupID] {
		if member.UserID == userID {
			return true
		}
	}
	return false
}

func (m *MockStore) IsMember(ctx context.Context, groupID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	return m.isMember(groupID, userID), nil
}

func (m *MockStore) AddMember(ctx context.Context, groupID, userID, role string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	if m.isMember(groupID, userID) {
		return false, nil
	}
	m.members[groupID] = append(m.members[groupID], &models.GroupMember{
		GroupID:  groupID,
		UserID:   userID,
		Role:     role,
		JoinedAt: time.Now(),
	})
	return true, nil
}

func (m *MockStore) RemoveMember(ctx context.Context, groupID, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	members := m.members[groupID]
	for i, member := range members {
		if member.UserID == userID {
			m.members[groupID] = append(members[:i], members[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (m *MockStore) CreateFriendRequest(ctx context.Context, senderID, receiverID string) (*models.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	for _, r := range m.requests {
		if r.SenderID == senderID && r.ReceiverID == receiverID && r.Status == models.RequestPending {
			return nil, ErrRequestExists
		}
	}
	now := time.Now()
	req := &models.FriendRequest{
		ID:         uuid.New().String(),
		SenderID:   senderID,
		ReceiverID: receiverID,
		Status:     models.RequestPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	m.requests = append(m.requests, req)
	c := *req
	return &c, nil
}

func (m *MockStore) pendingFor(requestID, receiverID string) *models.FriendRequest {
	for _, r := range m.requests {
		if r.ID == requestID && r.ReceiverID == receiverID && r.Status == models.RequestPending {
			return r
		}
	}
	return nil
}

func (m *MockStore) AcceptFriendRequest(ctx context.Context, requestID, receiverID string) (*models.FriendRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	r := m.pendingFor(requestID, receiverID)
	if r == nil {
		return nil, ErrNotFound
	}
	r.Status = models.RequestAccepted
	r.UpdatedAt = time.Now()
	a, b := models.FriendPair(r.SenderID, r.ReceiverID)
	m.friendships[[2]string{a, b}] = true
	c := *r
	return &c, nil
}

func (m *MockStore) RejectFriendRequest(ctx context.Context, requestID, receiverID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	r := m.pendingFor(requestID, receiverID)
	if r == nil {
		return ErrNotFound
	}
	r.Status = models.RequestRejected
	r.UpdatedAt = time.Now()
	return nil
}

func (m *MockStore) GetPendingRequests(ctx context.Context, receiverID string) ([]*models.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var result []*models.PendingRequest
	for i := len(m.requests) - 1; i >= 0; i-- {
		r := m.requests[i]
		if r.ReceiverID != receiverID || r.Status != models.RequestPending {
			continue
		}
		pr := &models.PendingRequest{ID: r.ID, SenderID: r.SenderID, CreatedAt: r.CreatedAt}
		if u, ok := m.users[r.SenderID]; ok {
			pr.Username = u.Username
			pr.DisplayName = u.DisplayName
		}
		result = append(result, pr)
	}
	return result, nil
}

func (m *MockStore) AreFriends(ctx context.Context, user1ID, user2ID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return false, m.Err
	}
	a, b := models.FriendPair(user1ID, user2ID)
	return m.friendships[[2]string{a, b}], nil
}

func (m *MockStore) GetFriends(ctx context.Context, userID string) ([]*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}
	var result []*models.User
	for pair := range m.friendships {
		other := ""
		switch userID {
		case pair[0]:
			other = pair[1]
		case pair[1]:
			other = pair[0]
		default:
			continue
		}
		if u, ok := m.users[other]; ok {
			result = append(result, copyUser(u))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Username < result[j].Username })
	return result, nil
}

func (m *MockStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Err
}

func (m *MockStore) Close() error {
	return nil
}

// MockRedisClient is an in-memory RedisClient for testing
type MockRedisClient struct {
	mu         sync.Mutex
	Sets       map[string]map[string]bool
	PubSubData []PubSubMessage

	// SetErr and PublishErr fail UpdatePresence without applying any part of it
	SetErr     error
	PublishErr error
}

func NewMockRedisClient() *MockRedisClient {
	return &MockRedisClient{
		Sets: make(map[string]map[string]bool),
	}
}

func (m *MockRedisClient) UpdatePresence(ctx context.Context, update PresenceUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetErr != nil {
		return m.SetErr
	}
	if update.Channel != "" && m.PublishErr != nil {
		return m.PublishErr
	}

	if update.Online {
		m.addLocked(update.SetKey, update.Member)
	} else {
		delete(m.Sets[update.SetKey], update.Member)
	}

	if update.Channel != "" {
		// Marshal to JSON like the real implementation
		jsonData, err := json.Marshal(update.Payload)
		if err != nil {
			return err
		}
		m.PubSubData = append(m.PubSubData, PubSubMessage{Channel: update.Channel, Message: string(jsonData)})
	}
	return nil
}

// SetAdd seeds a set directly
func (m *MockRedisClient) SetAdd(ctx context.Context, key string, members ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, member := range members {
		m.addLocked(key, member)
	}
	return nil
}

func (m *MockRedisClient) addLocked(key, member string) {
	if m.Sets[key] == nil {
		m.Sets[key] = make(map[string]bool)
	}
	m.Sets[key][member] = true
}

func (m *MockRedisClient) SetMembers(ctx context.Context, key string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	members := make([]string, 0, len(m.Sets[key]))
	for member := range m.Sets[key] {
		members = append(members, member)
	}
	sort.Strings(members)
	return members, nil
}

func (m *MockRedisClient) SetIsMember(ctx context.Context, key string, member string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Sets[key][member], nil
}

func (m *MockRedisClient) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Sets, key)
	return nil
}

// Published returns a snapshot of published messages
func (m *MockRedisClient) Published() []PubSubMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PubSubMessage(nil), m.PubSubData...)
}

func (m *MockRedisClient) Ping(ctx context.Context) error {
	return nil
}

func (m *MockRedisClient) Close() error {
	return nil
}
