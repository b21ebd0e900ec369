package presence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	presenceEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_presence_events_total",
			Help: "Total number of presence events applied",
		},
		[]string{"status", "result"}, // result: "applied", "dropped" or "error"
	)

	presenceQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_presence_queue_depth",
			Help: "Number of presence events waiting to be applied",
		},
	)
)

// Event is a presence change published on the presence channel
type Event struct {
	UserID    string    `json:"user_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds tracker settings
type Config struct {
	OnlineKey string // Redis set of online user IDs
	Channel   string // Redis pub/sub channel for Event
	QueueSize int
	Timeout   time.Duration // per-event bound on Redis and database calls
}

// DefaultConfig returns default tracker settings
func DefaultConfig() Config {
	return Config{
		OnlineKey: "chat:online",
		Channel:   "chat:presence",
		QueueSize: 1024,
		Timeout:   5 * time.Second,
	}
}

// Tracker mirrors session registry membership into Redis and the users table.
// SessionJoined and SessionLeft never block; a single worker applies events in order.
type Tracker struct {
	config Config
	redis  storage.RedisClient // nil when Redis is disabled
	users  storage.UserStorage
	events chan Event

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewTracker creates a new presence tracker
func NewTracker(config Config, redis storage.RedisClient, users storage.UserStorage) *Tracker {
	def := DefaultConfig()
	if config.OnlineKey == "" {
		config.OnlineKey = def.OnlineKey
	}
	if config.Channel == "" {
		config.Channel = def.Channel
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}

	return &Tracker{
		config: config,
		redis:  redis,
		users:  users,
		events: make(chan Event, config.QueueSize),
	}
}

// Start clears the online set left over from a previous run and starts the worker
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running {
		return fmt.Errorf("presence tracker is already running")
	}

	if t.redis != nil {
		if err := t.redis.Delete(ctx, t.config.OnlineKey); err != nil {
			return fmt.Errorf("failed to reset online set: %w", err)
		}
	}

	workerCtx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	t.events = make(chan Event, t.config.QueueSize)
	t.running = true

	t.wg.Add(1)
	go t.run(workerCtx, t.events)

	logger.Info("Presence tracker started",
		logger.String("online_key", t.config.OnlineKey),
		logger.String("channel", t.config.Channel),
		logger.Bool("redis", t.redis != nil),
	)
	return nil
}

// Stop drains queued events and stops the worker
func (t *Tracker) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	close(t.events)
	t.mu.Unlock()

	t.wg.Wait()
	t.cancel()

	logger.Info("Presence tracker stopped")
}

// SessionJoined records that a user came online
func (t *Tracker) SessionJoined(userID string) {
	t.enqueue(Event{UserID: userID, Status: models.StatusOnline, Timestamp: time.Now()})
}

// SessionLeft records that a user went offline
func (t *Tracker) SessionLeft(userID string) {
	t.enqueue(Event{UserID: userID, Status: models.StatusOffline, Timestamp: time.Now()})
}

func (t *Tracker) enqueue(ev Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.running {
		return
	}

	select {
	case t.events <- ev:
		presenceQueueDepth.Set(float64(len(t.events)))
	default:
		presenceEventsTotal.WithLabelValues(ev.Status, "dropped").Inc()
		logger.Warn("Presence queue full, dropping event",
			logger.UserID(ev.UserID),
			logger.String("status", ev.Status),
		)
	}
}

func (t *Tracker) run(ctx context.Context, events <-chan Event) {
	defer t.wg.Done()

	for ev := range events {
		presenceQueueDepth.Set(float64(len(events)))
		if err := t.apply(ctx, ev); err != nil {
			presenceEventsTotal.WithLabelValues(ev.Status, "error").Inc()
			logger.Error("Failed to apply presence event",
				logger.ErrorField(err),
				logger.UserID(ev.UserID),
				logger.String("status", ev.Status),
			)
			continue
		}
		presenceEventsTotal.WithLabelValues(ev.Status, "applied").Inc()
	}
}

// apply writes one event; every step is attempted even if an earlier one fails
func (t *Tracker) apply(ctx context.Context, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if t.redis != nil {
		record(t.redis.UpdatePresence(ctx, storage.PresenceUpdate{
			SetKey:  t.config.OnlineKey,
			Member:  ev.UserID,
			Online:  ev.Status == models.StatusOnline,
			Channel: t.config.Channel,
			Payload: ev,
		}))
	}

	if t.users != nil {
		record(t.users.UpdateStatus(ctx, ev.UserID, ev.Status))
	}

	return firstErr
}

// IsOnline reports whether the user is in the online set.
// Without Redis the users table status is consulted instead.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	if t.redis != nil {
		return t.redis.SetIsMember(ctx, t.config.OnlineKey, userID)
	}
	if t.users == nil {
		return false, nil
	}
	user, err := t.users.GetUserByID(ctx, userID)
	if err != nil {
		return false, err
	}
	return user.Status == models.StatusOnline, nil
}

// OnlineUsers lists the online set; empty without Redis
func (t *Tracker) OnlineUsers(ctx context.Context) ([]string, error) {
	if t.redis == nil {
		return nil, nil
	}
	return t.redis.SetMembers(ctx, t.config.OnlineKey)
}
