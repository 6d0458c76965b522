package rest

import (
	"net/http"
	"os"

	"github.com/gorilla/mux"

	"quizrooms/internal/service"
	"quizrooms/internal/transport/rest/handler"
	"quizrooms/internal/transport/rest/middleware"
	"quizrooms/internal/transport/ws"
)

// Container holds all dependencies for the router
type Container struct {
	AuthService        *service.AuthService
	RoomService        *service.RoomService
	MatchmakingService *service.MatchmakingService
	WSHandler          *ws.Handler
	JoinURL            string
}

// NewRouter creates the API router with all endpoints
func NewRouter(c *Container) http.Handler {
	r := mux.NewRouter()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(c.AuthService)
	roomHandler := handler.NewRoomHandler(c.RoomService, c.JoinURL)
	matchHandler := handler.NewMatchmakingHandler(c.MatchmakingService)

	// Initialize middleware
	authMW := middleware.NewAuthMiddleware(c.AuthService)

	// CORS middleware (apply first)
	r.Use(corsMiddleware)

	// Public routes
	r.HandleFunc("/auth/token", authHandler.Token).Methods("POST", "OPTIONS")
	r.HandleFunc("/ws", c.WSHandler.ServeWS).Methods("GET")

	// Health check
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods("GET")

	// Room routes (require player auth)
	rooms := r.PathPrefix("/room").Subrouter()
	rooms.Use(authMW.RequirePlayer)

	rooms.HandleFunc("/create", roomHandler.Create).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/join", roomHandler.Join).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/leave", roomHandler.Leave).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/kick", roomHandler.Kick).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/start", roomHandler.Start).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/ready", roomHandler.Ready).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/answer", roomHandler.Answer).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/submit-answers", roomHandler.SubmitAnswers).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/matchmaking", matchHandler.Find).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/cancel-matchmaking", matchHandler.Cancel).Methods("POST", "OPTIONS")
	rooms.HandleFunc("/{code}", roomHandler.Get).Methods("GET", "OPTIONS")
	rooms.HandleFunc("/{code}/leaderboard", roomHandler.Leaderboard).Methods("GET", "OPTIONS")
	rooms.HandleFunc("/{code}/qr", roomHandler.QR).Methods("GET", "OPTIONS")

	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
		if allowedOrigins == "" {
			allowedOrigins = "*"
		}

		allowedMethods := os.Getenv("CORS_ALLOWED_METHODS")
		if allowedMethods == "" {
			allowedMethods = "GET, POST, OPTIONS"
		}

		allowedHeaders := os.Getenv("CORS_ALLOWED_HEADERS")
		if allowedHeaders == "" {
			allowedHeaders = "Content-Type, Authorization"
		}

		w.Header().Set("Access-Control-Allow-Origin", allowedOrigins)
		w.Header().Set("Access-Control-Allow-Methods", allowedMethods)
		w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
