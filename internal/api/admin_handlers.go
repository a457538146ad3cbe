package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/leadshop/internal/alert"
	"github.com/example/leadshop/internal/auth"
	"github.com/example/leadshop/internal/domain/order"
	"github.com/example/leadshop/internal/infrastructure/store"
)

// AdminHandlers serves the operator API: login, order listing, alerts.
// There is a single operator account configured at startup.
type AdminHandlers struct {
	store      store.OrderStore
	alerts     *alert.Log
	jwtService *auth.JWTService

	adminUser         string
	adminPasswordHash string
}

func NewAdminHandlers(s store.OrderStore, alerts *alert.Log, jwtService *auth.JWTService, adminUser, adminPasswordHash string) *AdminHandlers {
	return &AdminHandlers{
		store:             s,
		alerts:            alerts,
		jwtService:        jwtService,
		adminUser:         adminUser,
		adminPasswordHash: adminPasswordHash,
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (h *AdminHandlers) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if req.Username != h.adminUser || !auth.CheckPassword(req.Password, h.adminPasswordHash) {
		respondJSONError(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	token, expiresAt, err := h.jwtService.GenerateToken(req.Username, "admin")
	if err != nil {
		respondJSONError(w, "failed to create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     "access_token",
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})

	respondJSON(w, http.StatusOK, LoginResponse{Token: token, ExpiresAt: expiresAt})
}

// ListOrders returns orders, optionally filtered by ?status=.
func (h *AdminHandlers) ListOrders(w http.ResponseWriter, r *http.Request) {
	statuses := []order.Status{order.StatusOpen, order.StatusAwaitingPayment, order.StatusPaid, order.StatusFulfilled}
	if s := r.URL.Query().Get("status"); s != "" {
		statuses = []order.Status{order.Status(s)}
	}

	out := make([]*order.Order, 0)
	for _, status := range statuses {
		orders, err := h.store.ListByStatus(r.Context(), status)
		if err != nil {
			respondJSONError(w, "failed to list orders", http.StatusInternalServerError)
			return
		}
		out = append(out, orders...)
	}
	respondJSON(w, http.StatusOK, out)
}

// ListAlerts returns manual-review alerts, newest first.
func (h *AdminHandlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.alerts.List())
}
