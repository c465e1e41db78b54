package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dosewell/dosewell/internal/escalation"
	"github.com/dosewell/dosewell/internal/handler"
	"github.com/dosewell/dosewell/internal/middleware"
	"github.com/dosewell/dosewell/internal/notify"
	"github.com/dosewell/dosewell/internal/store"
	ws "github.com/dosewell/dosewell/internal/websocket"
)

type Server struct {
	storage     store.Storage
	engine      *escalation.Engine
	hub         *ws.Hub
	scheduleH   *handler.ScheduleHandler
	doseH       *handler.DoseHandler
	familyH     *handler.FamilyMemberHandler
	settingsH   *handler.SettingsHandler
	pushH       *handler.PushHandler
	rateLimiter *middleware.RateLimiter
	logger      *slog.Logger
}

// New wires the HTTP surface on top of the storage and the escalation
// engine. pushService may be nil (no VAPID keys configured), in which case
// the push endpoints are not registered.
func New(storage store.Storage, engine *escalation.Engine, pushService *notify.Service, hub *ws.Hub, logger *slog.Logger) *Server {
	var pushH *handler.PushHandler
	if pushService != nil {
		pushH = handler.NewPushHandler(storage, pushService, logger.With("component", "push_handler"))
	}

	return &Server{
		storage:     storage,
		engine:      engine,
		hub:         hub,
		scheduleH:   handler.NewScheduleHandler(storage, engine, logger.With("component", "schedule")),
		doseH:       handler.NewDoseHandler(storage, engine, logger.With("component", "dose")),
		familyH:     handler.NewFamilyMemberHandler(storage, logger.With("component", "family_member")),
		settingsH:   handler.NewSettingsHandler(storage, logger.With("component", "settings")),
		pushH:       pushH,
		rateLimiter: middleware.NewRateLimiter(),
		logger:      logger,
	}
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.healthHandler)

	// Medication schedules
	mux.HandleFunc("POST /api/schedules", s.scheduleH.Create)
	mux.HandleFunc("GET /api/schedules", s.scheduleH.List)
	mux.HandleFunc("GET /api/schedules/{id}", s.scheduleH.Get)
	mux.HandleFunc("PUT /api/schedules/{id}", s.scheduleH.Update)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.scheduleH.Delete)

	// Dose occurrences and adherence
	mux.HandleFunc("POST /api/doses/{key}/response", s.doseH.Respond)
	mux.HandleFunc("GET /api/doses/{key}/snooze-recommendation", s.doseH.SnoozeRecommendation)
	mux.HandleFunc("POST /api/rollover", s.doseH.Rollover)
	mux.HandleFunc("GET /api/report", s.doseH.Report)
	mux.HandleFunc("GET /api/adherence", s.doseH.History)

	// Family members and escalation contact
	mux.HandleFunc("GET /api/family-members", s.familyH.List)
	mux.HandleFunc("POST /api/family-members", s.familyH.Create)
	mux.HandleFunc("DELETE /api/family-members/{id}", s.familyH.Delete)
	mux.HandleFunc("POST /api/family-members/{id}/designate", s.familyH.Designate)
	mux.HandleFunc("POST /api/family-members/{id}/pin", s.familyH.SetPIN)
	mux.HandleFunc("DELETE /api/family-members/{id}/pin", s.familyH.ClearPIN)
	mux.HandleFunc("POST /api/family-members/{id}/pin/verify", s.rateLimited(s.familyH.VerifyPIN))

	// Reminder settings
	mux.HandleFunc("GET /api/settings/reminders", s.settingsH.GetReminders)
	mux.HandleFunc("PUT /api/settings/reminders", s.settingsH.UpdateReminders)

	// Push notifications
	if s.pushH != nil {
		mux.HandleFunc("POST /api/push/subscribe", s.pushH.Subscribe)
		mux.HandleFunc("DELETE /api/push/subscriptions/{id}", s.pushH.Unsubscribe)
		mux.HandleFunc("GET /api/push/subscriptions", s.pushH.ListSubscriptions)
		mux.HandleFunc("GET /api/push/vapid-key", s.pushH.GetVAPIDKey)
	}

	// WebSocket dose updates
	mux.HandleFunc("GET /ws", ws.Handle(s.hub, s.logger.With("component", "websocket")))

	return middleware.RequestLogger(s.logger.With("component", "http"))(mux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) rateLimited(h http.HandlerFunc) http.HandlerFunc {
	keyFunc := func(r *http.Request) string {
		return middleware.RealIP(r)
	}
	rl := middleware.RateLimit(s.rateLimiter, keyFunc, 10, time.Minute)
	return func(w http.ResponseWriter, r *http.Request) {
		rl(http.HandlerFunc(h)).ServeHTTP(w, r)
	}
}
