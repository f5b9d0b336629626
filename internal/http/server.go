package http

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/CoolE88/mission-telemetry-service/internal/config"
	"github.com/CoolE88/mission-telemetry-service/internal/domain"
	"github.com/CoolE88/mission-telemetry-service/internal/hub"
	"github.com/CoolE88/mission-telemetry-service/internal/metrics"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type MissionService interface {
	StartMission(ctx context.Context) (*domain.Mission, error)
	EndMission(ctx context.Context, missionID string) (*domain.Mission, error)
	GetMission(ctx context.Context, missionID string) (*domain.Mission, error)
	ListMissions(ctx context.Context) ([]*domain.Mission, error)
	TelemetryHistory(ctx context.Context, missionID string, limit int) ([]*domain.TelemetrySample, error)
	Status(ctx context.Context) (domain.Status, error)
	ConnectedClients(missionID string) int
	Subscribe(ctx context.Context, missionID string, h hub.Handle) error
	Unsubscribe(missionID string, h hub.Handle) bool
	Disconnect(h hub.Handle)
	CheckDBConnection(ctx context.Context) error
}

type HTTPServer struct {
	server  *http.Server
	handler http.Handler
	service MissionService
	logger  *zap.Logger

	subscriberBuffer int
	writeTimeout     time.Duration
	originPatterns   []string
}

func NewHTTPServer(cfg *config.Config, service MissionService, logger *zap.Logger) *HTTPServer {
	router := mux.NewRouter()

	s := &HTTPServer{
		service:          service,
		logger:           logger,
		subscriberBuffer: cfg.Subscribers.Buffer,
		writeTimeout:     cfg.Subscribers.WriteTimeoutDuration(),
		originPatterns:   originPatterns(cfg.CORSOrigin),
	}

	// Middleware регистрации
	router.Use(s.metricsMiddleware)
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.healthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/start-mission", s.startMission).Methods("POST")
	api.HandleFunc("/missions", s.listMissions).Methods("GET")
	api.HandleFunc("/missions/{id}", s.getMission).Methods("GET")
	api.HandleFunc("/missions/{id}/end", s.endMission).Methods("POST")
	api.HandleFunc("/missions/{id}/telemetry", s.getMissionTelemetry).Methods("GET")
	api.HandleFunc("/status", s.getStatus).Methods("GET")

	// Поток подписки: /ws и корень, если это upgrade
	router.HandleFunc("/ws", s.serveWebSocket)
	router.Path("/").MatcherFunc(isWebSocketUpgrade).HandlerFunc(s.serveWebSocket)

	s.handler = handlers.CORS(
		handlers.AllowedOrigins([]string{cfg.CORSOrigin}),
		handlers.AllowedMethods([]string{"GET", "POST", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowCredentials(),
	)(router)

	s.server = &http.Server{
		Addr:              cfg.RESTPort,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func originPatterns(origin string) []string {
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return nil
	}
	return []string{u.Host}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info("Starting HTTP server", zap.String("addr", s.server.Addr))
	return s.server.ListenAndServe()
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// responseWriter для отслеживания статус кода и размера
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += size
	return size, err
}

// Hijack нужен для upgrade до WebSocket
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// middleware для сбора метрик HTTP запросов с использованием шаблона пути
func (s *HTTPServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		method := r.Method
		status := strconv.Itoa(rw.statusCode)

		// Получаем шаблон пути из mux (если доступен)
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		metrics.HTTPRequests.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(rw.size))
	})
}

// middleware для логирования HTTP запросов
func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("query", r.URL.RawQuery),
			zap.String("ip", r.RemoteAddr),
			zap.String("user_agent", r.UserAgent()),
			zap.Int("status", rw.statusCode),
			zap.Int("response_size", rw.size),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type startedMission struct {
	MissionID string               `json:"missionId"`
	Status    domain.MissionStatus `json:"status"`
	StartTime time.Time            `json:"startTime"`
}

type listedMission struct {
	MissionID string               `json:"missionId"`
	Status    domain.MissionStatus `json:"status"`
	StartTime time.Time            `json:"startTime"`
	CreatedAt time.Time            `json:"createdAt"`
}

type missionDetails struct {
	MissionID        string               `json:"missionId"`
	Status           domain.MissionStatus `json:"status"`
	StartTime        time.Time            `json:"startTime"`
	EndTime          *time.Time           `json:"endTime"`
	TotalFlightTime  int64                `json:"totalFlightTime"`
	CreatedAt        time.Time            `json:"createdAt"`
	ConnectedClients int                  `json:"connectedClients"`
}

type endedMission struct {
	MissionID       string               `json:"missionId"`
	Status          domain.MissionStatus `json:"status"`
	EndTime         *time.Time           `json:"endTime"`
	TotalFlightTime int64                `json:"totalFlightTime"`
}

type missionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Mission any    `json:"mission"`
}

type missionsResponse struct {
	Success  bool            `json:"success"`
	Missions []listedMission `json:"missions"`
}

type telemetryResponse struct {
	Success   bool                      `json:"success"`
	MissionID string                    `json:"missionId"`
	Count     int                       `json:"count"`
	Telemetry []*domain.TelemetrySample `json:"telemetry"`
}

func (s *HTTPServer) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (s *HTTPServer) writeError(w http.ResponseWriter, status int, text string) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: text})
}

func (s *HTTPServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.service.CheckDBConnection(r.Context()); err != nil {
		s.logger.Error("Health check failed", zap.Error(err))
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *HTTPServer) startMission(w http.ResponseWriter, r *http.Request) {
	m, err := s.service.StartMission(r.Context())
	if err != nil {
		s.logger.Error("Failed to create mission", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to create mission")
		return
	}

	s.writeJSON(w, http.StatusCreated, missionResponse{
		Success: true,
		Mission: startedMission{MissionID: m.ID, Status: m.Status, StartTime: m.StartTime},
	})
}

func (s *HTTPServer) endMission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	m, err := s.service.EndMission(r.Context(), id)
	switch {
	case errors.Is(err, domain.ErrMissionNotFound):
		s.writeError(w, http.StatusNotFound, domain.ErrTextMissionNotFound)
		return
	case errors.Is(err, domain.ErrMissionAlreadyCompleted):
		s.writeError(w, http.StatusBadRequest, "Mission is already completed")
		return
	case err != nil:
		s.logger.Error("Failed to end mission", zap.String("mission_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to end mission")
		return
	}

	s.writeJSON(w, http.StatusOK, missionResponse{
		Success: true,
		Message: "Mission ended successfully",
		Mission: endedMission{
			MissionID:       m.ID,
			Status:          m.Status,
			EndTime:         m.EndTime,
			TotalFlightTime: m.TotalFlightTime,
		},
	})
}

func (s *HTTPServer) listMissions(w http.ResponseWriter, r *http.Request) {
	missions, err := s.service.ListMissions(r.Context())
	if err != nil {
		s.logger.Error("Failed to get missions", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to get missions")
		return
	}

	resp := missionsResponse{Success: true, Missions: make([]listedMission, 0, len(missions))}
	for _, m := range missions {
		resp.Missions = append(resp.Missions, listedMission{
			MissionID: m.ID,
			Status:    m.Status,
			StartTime: m.StartTime,
			CreatedAt: m.CreatedAt,
		})
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) getMission(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	m, err := s.service.GetMission(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrMissionNotFound) {
			s.writeError(w, http.StatusNotFound, domain.ErrTextMissionNotFound)
			return
		}
		s.logger.Error("Failed to get mission", zap.String("mission_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to get mission")
		return
	}

	s.writeJSON(w, http.StatusOK, missionResponse{
		Success: true,
		Mission: missionDetails{
			MissionID:        m.ID,
			Status:           m.Status,
			StartTime:        m.StartTime,
			EndTime:          m.EndTime,
			TotalFlightTime:  m.TotalFlightTime,
			CreatedAt:        m.CreatedAt,
			ConnectedClients: s.service.ConnectedClients(m.ID),
		},
	})
}

func (s *HTTPServer) getMissionTelemetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	// нечисловой limit означает значение по умолчанию
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	samples, err := s.service.TelemetryHistory(r.Context(), id, limit)
	if err != nil {
		if errors.Is(err, domain.ErrMissionNotFound) {
			s.writeError(w, http.StatusNotFound, domain.ErrTextMissionNotFound)
			return
		}
		s.logger.Error("Failed to get mission telemetry", zap.String("mission_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to get mission telemetry")
		return
	}

	s.writeJSON(w, http.StatusOK, telemetryResponse{
		Success:   true,
		MissionID: id,
		Count:     len(samples),
		Telemetry: samples,
	})
}

func (s *HTTPServer) getStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.service.Status(r.Context())
	if err != nil {
		s.logger.Error("Failed to get status", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "Failed to get status")
		return
	}
	s.writeJSON(w, http.StatusOK, status)
}
