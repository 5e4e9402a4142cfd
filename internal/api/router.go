package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/huddleworks/huddle/internal/api/middleware"
	"github.com/huddleworks/huddle/internal/handlers"
)

// Options tunes the router beyond the handler's own dependencies.
type Options struct {
	RedisClient        *redis.Client // nil falls back to in-process rate limiting
	RateLimitPerMinute int
	MaxBodyBytes       int64 // JSON endpoints; uploads carry their own ceiling
	MaxUploadBytes     int64
	UploadDir          string // served at /uploads/ when non-empty
}

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, opts Options) *chi.Mux {
	if opts.RateLimitPerMinute <= 0 {
		opts.RateLimitPerMinute = 300
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 * 1024
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 25 << 20
	}

	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)
	r.Use(middleware.SecurityHeaders)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	// CORS - intranet clients call from any internal origin
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", middleware.UserHeader},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Metrics endpoint (for Prometheus scraping)
	r.Handle("/metrics", promhttp.Handler())

	// Public routes (no identity required)
	r.Get("/", h.Root)
	r.Get("/health", h.Health)
	if opts.UploadDir != "" {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", http.FileServer(http.Dir(opts.UploadDir))))
	}

	limiter := middleware.NewRateLimiter(opts.RedisClient, logger, opts.RateLimitPerMinute)

	// Authenticated routes (identity header required)
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireUser)
		r.Use(limiter.Middleware)

		// Attachment upload takes multipart bodies up to the upload ceiling.
		r.With(middleware.MaxBodySize(opts.MaxUploadBytes + 64*1024)).
			Post("/attachments", h.UploadAttachment)

		// Everything else is JSON with a tight body cap.
		r.Group(func(r chi.Router) {
			r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
			r.Use(middleware.RequireJSON)

			r.Route("/rooms", func(r chi.Router) {
				r.Get("/", h.ListRooms)
				r.Post("/direct", h.CreateDirectRoom)
				r.Post("/group", h.CreateGroupRoom)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.GetRoom)
					r.Get("/messages", h.ListMessages)
					r.Post("/messages", h.SendMessage)
					r.Get("/pins", h.ListPinned)
					r.Get("/typing", h.GetTyping)
					r.Put("/typing", h.SetTyping)
					r.Delete("/typing", h.ClearTyping)
				})
			})

			r.Route("/messages", func(r chi.Router) {
				// Batch reads for the window a client has on screen.
				r.Post("/reactions", h.ReactionsBatch)
				r.Post("/receipts", h.ReceiptsBatch)
				r.Post("/markers", h.MarkersBatch)
				r.Post("/reply-counts", h.ReplyCounts)
				r.Post("/read", h.MarkRead)

				r.Route("/{id}", func(r chi.Router) {
					r.Patch("/", h.EditMessage)
					r.Delete("/", h.DeleteMessage)
					r.Post("/pin", h.TogglePin)
					r.Get("/replies", h.GetReplies)
					r.Post("/forward", h.ForwardMessage)
					r.Post("/reactions", h.AddReaction)
					r.Delete("/reactions", h.RemoveReaction)
					r.Post("/marker", h.MarkUnread)
					r.Delete("/marker", h.ClearMarker)
				})
			})

			r.Get("/unread", h.UnreadCounts)
			r.Get("/markers/rooms", h.RoomsWithMarkers)
			r.Get("/search", h.SearchMessages)
		})
	})

	return r
}
