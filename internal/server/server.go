package server

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"gorm.io/gorm"

	"canvas-backend/internal/auth"
	"canvas-backend/internal/cache"
	"canvas-backend/internal/config"
	"canvas-backend/internal/handler"
	"canvas-backend/internal/session"
)

// Server Fiber 서버 래퍼
type Server struct {
	app            *fiber.App
	cfg            *config.Config
	db             *gorm.DB
	registry       *session.Registry
	boardHub       *handler.BoardHub
	boardHandler   *handler.BoardHandler
	elementHandler *handler.ElementHandler
	healthHandler  *handler.HealthHandler
	jwtManager     *auth.JWTManager
	sweeperStop    chan struct{}
}

// New 새 서버 인스턴스 생성
func New(cfg *config.Config, db *gorm.DB) *Server {
	app := fiber.New(fiber.Config{
		AppName:         "Canvas Sync Gateway",
		ServerHeader:    "Fiber",
		StrictRouting:   true,
		CaseSensitive:   true,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     cfg.Server.IdleTimeout,
		Prefork:         false, // incompatible with WebSocket
		ReadBufferSize:  16384,
		WriteBufferSize: 16384,
		BodyLimit:       10 * 1024 * 1024,
	})

	var jwtManager *auth.JWTManager
	if cfg.Auth.JWTSecret != "" {
		jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenExpiry)
	} else {
		log.Println("ℹ️ JWT_SECRET not set, token validation disabled")
	}

	// Redis 연결 (선택적)
	var redisClient *cache.RedisClient
	if cfg.Redis.Enabled {
		var err error
		redisClient, err = cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("⚠️ Redis connection failed: %v (activity log disabled)", err)
			redisClient = nil
		}
	}

	registry := session.NewRegistry()

	return &Server{
		app:            app,
		cfg:            cfg,
		db:             db,
		registry:       registry,
		boardHub:       handler.NewBoardHub(registry, redisClient),
		boardHandler:   handler.NewBoardHandler(db, redisClient),
		elementHandler: handler.NewElementHandler(db),
		healthHandler:  handler.NewHealthHandler(registry),
		jwtManager:     jwtManager,
		sweeperStop:    make(chan struct{}),
	}
}

// SetupMiddleware 미들웨어 설정
func (s *Server) SetupMiddleware() {
	// 패닉 복구
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// 로깅
	s.app.Use(logger.New(logger.Config{
		Format:     "${time} | ${status} | ${latency} | ${ip} | ${method} ${path}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))

	// CORS
	s.app.Use(cors.New(cors.Config{
		AllowOrigins:     s.cfg.CORS.AllowOrigins,
		AllowHeaders:     s.cfg.CORS.AllowHeaders,
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: false,
	}))
}

// SetupRoutes 라우트 설정
func (s *Server) SetupRoutes() {
	// 헬스체크 엔드포인트
	s.app.Get("/health", s.healthHandler.Health)

	// Rate Limiter (write-heavy 라우트용)
	writeLimiter := limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": "too many requests, please try again later",
			})
		},
	})

	// Board 라우트 그룹
	boardGroup := s.app.Group("/api/boards", auth.Middleware(s.jwtManager))
	boardGroup.Post("/", writeLimiter, s.boardHandler.CreateBoard)
	boardGroup.Get("/", s.boardHandler.ListBoards)
	boardGroup.Get("/:id", s.boardHandler.GetBoard)
	boardGroup.Put("/:id", s.boardHandler.UpdateBoard)
	boardGroup.Get("/:id/activity", s.boardHandler.GetActivity)

	// Element 라우트 (보드 하위)
	boardGroup.Post("/:boardId/elements", writeLimiter, s.elementHandler.CreateElement)
	boardGroup.Get("/:boardId/elements", s.elementHandler.ListElements)

	elementGroup := s.app.Group("/api/elements", auth.Middleware(s.jwtManager))
	elementGroup.Put("/:id", s.elementHandler.UpdateElement)
	elementGroup.Delete("/:id", s.elementHandler.DeleteElement)

	// WebSocket 업그레이드 체크 미들웨어
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	// WebSocket 보드 엔드포인트
	s.app.Get("/ws/board", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}

		// 토큰 검증 (설정된 경우에만)
		if s.jwtManager != nil {
			token := c.Cookies("access_token")
			if token == "" {
				token = c.Query("token")
			}
			if token == "" {
				return c.SendStatus(fiber.StatusUnauthorized)
			}

			claims, err := s.jwtManager.ValidateAccessToken(token)
			if err != nil {
				return c.SendStatus(fiber.StatusUnauthorized)
			}
			c.Locals("userID", claims.UserID)
		}

		return c.Next()
	}, websocket.New(s.boardHub.HandleWebSocket, websocket.Config{
		ReadBufferSize:  s.cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: s.cfg.WebSocket.WriteBufferSize,
	}))
}

// Start 서버 시작 (Graceful Shutdown 지원)
func (s *Server) Start() error {
	// 유휴 세션 정리 스위퍼
	go s.registry.StartSweeper(s.cfg.Session.SweepInterval, s.cfg.Session.IdleTimeout, s.sweeperStop)

	// Graceful Shutdown 설정
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("🛑 Shutting down server...")
		close(s.sweeperStop)
		if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
			log.Fatalf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("🚀 Canvas Sync Gateway starting on %s", s.cfg.Server.Port)
	log.Printf("📡 WebSocket endpoint: ws://localhost%s/ws/board", s.cfg.Server.Port)

	return s.app.Listen(s.cfg.Server.Port)
}

// Shutdown 서버 종료
func (s *Server) Shutdown() error {
	return s.app.ShutdownWithTimeout(30 * time.Second)
}
