package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/mohamedkhairy/chat-server/internal/auth"
	"github.com/mohamedkhairy/chat-server/internal/models"
	"github.com/mohamedkhairy/chat-server/internal/service"
	"github.com/mohamedkhairy/chat-server/internal/storage"
	"github.com/mohamedkhairy/chat-server/pkg/logger"
)

// AuthHandler handles account registration and login
type AuthHandler struct {
	service *auth.Service
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(service *auth.Service) *AuthHandler {
	return &AuthHandler{service: service}
}

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := h.service.Register(r.Context(), req)
	switch {
	case err == nil:
	case errors.Is(err, models.ErrInvalidUsername),
		errors.Is(err, models.ErrInvalidEmail),
		errors.Is(err, auth.ErrWeakPassword):
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, storage.ErrUsernameTaken):
		respondWithError(w, http.StatusConflict, "Username or email already exists")
		return
	default:
		logger.Error("Failed to register user", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to register user")
		return
	}

	respondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"user_id":  user.ID,
		"username": user.Username,
	})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, token, err := h.service.Login(r.Context(), req.Username, req.Password)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrInvalidCredentials):
		respondWithError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	case errors.Is(err, auth.ErrInsecureMode):
		respondWithError(w, http.StatusServiceUnavailable, "Token issuing is disabled")
		return
	default:
		logger.Error("Failed to log in", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to log in")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// UserHandler handles user lookups
type UserHandler struct {
	directory *service.UserDirectory
}

// NewUserHandler creates a new user handler
func NewUserHandler(directory *service.UserDirectory) *UserHandler {
	return &UserHandler{directory: directory}
}

// GetMe handles GET /api/v1/users/me
func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := logger.UserIDFromContext(r.Context())
	if userID == "" {
		respondWithError(w, http.StatusUnauthorized, "Not authenticated")
		return
	}

	user, err := h.directory.Profile(r.Context(), userID)
	if err != nil {
		if msg, ok := service.PublicMessage(err); ok {
			respondWithError(w, http.StatusNotFound, msg)
			return
		}
		logger.Error("Failed to load user", logger.ErrorField(err), logger.UserID(userID))
		respondWithError(w, http.StatusInternalServerError, "Failed to load user")
		return
	}

	respondWithJSON(w, http.StatusOK, user)
}

// SearchUsers handles GET /api/v1/users/search?q=&limit=
func (h *UserHandler) SearchUsers(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondWithError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}

	users, err := h.directory.Search(r.Context(), query, limit)
	if err != nil {
		if msg, ok := service.PublicMessage(err); ok {
			respondWithError(w, http.StatusBadRequest, msg)
			return
		}
		logger.Error("Failed to search users", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to search users")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// PresenceReader answers presence queries
type PresenceReader interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineUsers(ctx context.Context) ([]string, error)
}

// PresenceHandler exposes the presence tracker
type PresenceHandler struct {
	presence PresenceReader
}

// NewPresenceHandler creates a new presence handler
func NewPresenceHandler(presence PresenceReader) *PresenceHandler {
	return &PresenceHandler{presence: presence}
}

// GetPresence handles GET /api/v1/presence/{user_id}
func (h *PresenceHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["user_id"]

	online, err := h.presence.IsOnline(r.Context(), userID)
	if errors.Is(err, storage.ErrNotFound) {
		respondWithError(w, http.StatusNotFound, "User not found")
		return
	}
	if err != nil {
		logger.Error("Failed to read presence", logger.ErrorField(err), logger.UserID(userID))
		respondWithError(w, http.StatusInternalServerError, "Failed to read presence")
		return
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"user_id": userID,
		"online":  online,
	})
}

// ListOnline handles GET /api/v1/presence
func (h *PresenceHandler) ListOnline(w http.ResponseWriter, r *http.Request) {
	users, err := h.presence.OnlineUsers(r.Context())
	if err != nil {
		logger.Error("Failed to list online users", logger.ErrorField(err))
		respondWithError(w, http.StatusInternalServerError, "Failed to list online users")
		return
	}
	if users == nil {
		users = []string{}
	}

	respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}

// Handlers groups the REST handlers for route registration
type Handlers struct {
	Auth     *AuthHandler
	Users    *UserHandler
	Presence *PresenceHandler
}

// RegisterRoutes mounts the REST API under /api/v1
func RegisterRoutes(router *mux.Router, h Handlers, requireAuth Middleware) {
	v1 := router.PathPrefix("/api/v1").Subrouter()

	// Public
	v1.HandleFunc("/auth/register", h.Auth.Register).Methods("POST")
	v1.HandleFunc("/auth/login", h.Auth.Login).Methods("POST")

	// Authenticated
	private := v1.NewRoute().Subrouter()
	private.Use(mux.MiddlewareFunc(requireAuth))
	private.HandleFunc("/users/me", h.Users.GetMe).Methods("GET")
	private.HandleFunc("/users/search", h.Users.SearchUsers).Methods("GET")
	private.HandleFunc("/presence", h.Presence.ListOnline).Methods("GET")
	private.HandleFunc("/presence/{user_id}", h.Presence.GetPresence).Methods("GET")
}
