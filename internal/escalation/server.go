package escalation

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/nao1215/collabo/pkg/mail"
	"github.com/nao1215/collabo/pkg/middleware"
	"github.com/nao1215/collabo/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Server はエスカレーションサービスのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// port はサーバーのリッスンポート。
	port string
	// store は通知の永続化と組織階層の読み取りを行うストア。
	store *Store
	// dispatcher はエスカレーションの配信を統括するディスパッチャ。
	dispatcher *Dispatcher
	// db はSQLiteデータベース接続。
	db *sqlx.DB
}

// NewServer は新しいエスカレーションサーバーを生成する。
// SQLiteデータベースの初期化、マイグレーションの適用、メールチャネルの解決を行う。
func NewServer(port string) (*Server, error) {
	dbPath := os.Getenv("DB_PATH")
	if dbPath == "" {
		dbPath = "/data/escalation.db"
	}

	sqlDB, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", dbPath))
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}

	if err := migration.Run(sqlDB.DB, migrationsFS, "migrations"); err != nil {
		return nil, fmt.Errorf("マイグレーション適用に失敗: %w", err)
	}

	store := NewStore(sqlDB)
	sender := mail.NewSenderFromEnv()

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(gin.Logger())
	router.Use(middleware.CORS(allowedOrigins()))

	s := &Server{
		router:     router,
		port:       port,
		store:      store,
		dispatcher: NewDispatcher(store, sender),
		db:         sqlDB,
	}
	s.setupRoutes()

	return s, nil
}

// Run はHTTPサーバーを起動する。
func (s *Server) Run() error {
	return s.router.Run(fmt.Sprintf(":%s", s.port))
}

// Close はデータベース接続を閉じる。サーバー終了時に呼び出す。
func (s *Server) Close() error {
	return s.db.Close()
}

// allowedOrigins はCORSで許可するオリジン一覧を環境変数から取得する。
func allowedOrigins() []string {
	origins := os.Getenv("ALLOWED_ORIGINS")
	if origins == "" {
		origins = "http://localhost:3000"
	}
	return strings.Split(origins, ",")
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		jwtSecret = "dev-secret-key"
	}

	// 開発用トークン発行（認証不要。本番環境では無効化すべき）
	if os.Getenv("DEV_TOKEN_ENABLED") == "true" {
		s.router.POST("/auth/dev-token", s.handleDevToken(jwtSecret))
	}

	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwtSecret))
	{
		notifications := api.Group("/notifications")
		{
			// 通知一覧と未読数の取得
			notifications.GET("", s.handleList())
			// 未読通知一覧の取得
			notifications.GET("/unread", s.handleListUnread())
			// 通知を既読にする
			notifications.PUT("/:id/read", s.handleMarkAsRead())
			// 全通知を既読にする
			notifications.PUT("/read-all", s.handleMarkAllAsRead())
			// 全通知を削除する
			notifications.DELETE("", s.handleClearAll())
		}

		// エスカレーションのトリガー（内部API - 業務ロジックを持つコラボレータから呼び出される）
		internal := api.Group("/internal")
		{
			internal.POST("/escalate", s.handleEscalate())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": "escalation"})
	})
}

// notificationResponse は通知のJSONレスポンス構造。
type notificationResponse struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// Severity は重要度。
	Severity string `json:"severity"`
	// Link はコラボレータUIへのディープリンク。ない場合は空文字列。
	Link string `json:"link"`
	// IsRead は通知の既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// listResponse は通知一覧APIのJSONレスポンス構造。
// 未読数は通知行から導出した値であり、独立したカウンタではない。
type listResponse struct {
	// Notifications は通知一覧（作成日時の降順）。
	Notifications []notificationResponse `json:"notifications"`
	// UnreadCount は未読通知数。
	UnreadCount int `json:"unread_count"`
}

// toNotificationResponse はDB行をJSONレスポンスに変換する。
func toNotificationResponse(n Notification) notificationResponse {
	return notificationResponse{
		ID:        n.ID,
		UserID:    n.UserID,
		Title:     n.Title,
		Message:   n.Message,
		Severity:  string(n.Severity),
		Link:      n.Link,
		IsRead:    n.IsRead,
		CreatedAt: n.CreatedAt.Format(time.RFC3339),
	}
}

// toNotificationResponses はDB行のスライスをJSONレスポンスのスライスに変換する。
func toNotificationResponses(notifications []Notification) []notificationResponse {
	responses := make([]notificationResponse, 0, len(notifications))
	for _, n := range notifications {
		responses = append(responses, toNotificationResponse(n))
	}
	return responses
}

// handleList は認証済みユーザーの通知一覧と未読数を返すハンドラ。
func (s *Server) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.store.ListNotificationsByUserID(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			log.Printf("通知一覧取得エラー: %v", err)
			return
		}

		unreadCount, err := s.store.CountUnread(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知数の取得に失敗しました"})
			log.Printf("未読通知数取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, listResponse{
			Notifications: toNotificationResponses(notifications),
			UnreadCount:   unreadCount,
		})
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (s *Server) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := s.store.ListUnreadNotifications(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			log.Printf("未読通知一覧取得エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, toNotificationResponses(notifications))
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 既に既読の通知に対して再実行しても成功を返す（冪等）。
func (s *Server) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notificationID := c.Param("id")
		if notificationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "通知IDが必要です"})
			return
		}

		// 通知の存在確認と所有者チェック
		n, err := s.store.GetNotificationByID(c.Request.Context(), notificationID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の取得に失敗しました"})
			log.Printf("通知取得エラー: %v", err)
			return
		}

		if n.UserID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
			return
		}

		if err := s.store.MarkAsRead(c.Request.Context(), notificationID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知の既読処理に失敗しました"})
			log.Printf("通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を既読にしました"})
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (s *Server) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.store.MarkAllAsRead(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			log.Printf("全通知既読処理エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました"})
	}
}

// handleClearAll は認証済みユーザーの全通知を物理削除するハンドラ。
// 削除は呼び出し元ユーザー自身の通知のみに作用し、復元手段はない。
func (s *Server) handleClearAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := s.store.ClearAll(c.Request.Context(), userID); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の削除に失敗しました"})
			log.Printf("全通知削除エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を削除しました"})
	}
}

// escalateRequest はエスカレーショントリガーのJSON構造。
type escalateRequest struct {
	// ActorID はエスカレーションを引き起こした行為者のユーザーID。
	ActorID string `json:"actor_id" binding:"required"`
	// TargetID は階層によらず必ず通知する対象ユーザーID。省略可。
	TargetID string `json:"target_id"`
	// Action は業務アクションの種別。
	Action string `json:"action" binding:"required"`
	// Title は通知のタイトル。
	Title string `json:"title" binding:"required"`
	// Details は通知の本文となる詳細説明。
	Details string `json:"details"`
	// Severity は重要度。省略時はINFO。
	Severity string `json:"severity"`
	// Link はコラボレータUIへのディープリンク。省略可。
	Link string `json:"link"`
}

// handleEscalate はエスカレーションを受け付けるハンドラ。
// 内部API（業務ロジックを持つコラボレータから呼び出される）。
// 行為者が存在しない場合や配信に失敗した場合でも202を返す。
// エスカレーションの失敗がトリガー元の業務アクションを失敗させてはならない。
func (s *Server) handleEscalate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req escalateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		s.dispatcher.Dispatch(c.Request.Context(), Request{
			ActorID:  req.ActorID,
			TargetID: req.TargetID,
			Action:   req.Action,
			Title:    req.Title,
			Details:  req.Details,
			Severity: Severity(req.Severity),
			Link:     req.Link,
		})

		c.JSON(http.StatusAccepted, gin.H{"message": "エスカレーションを受け付けました"})
	}
}

// devTokenRequest は開発用トークン発行リクエストのJSON構造。
type devTokenRequest struct {
	// UserID はトークンに埋め込むユーザーID。
	UserID string `json:"user_id" binding:"required"`
	// Email はトークンに埋め込むメールアドレス。
	Email string `json:"email"`
}

// handleDevToken は開発用JWTトークンを発行するハンドラを返す。
// 認証コラボレータ（ゲートウェイ）なしで通知センタークライアントを試すために使用する。
func (s *Server) handleDevToken(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req devTokenRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("リクエストが不正です: %v", err)})
			return
		}

		token, err := middleware.GenerateJWT(jwtSecret, req.UserID, req.Email)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "トークン生成に失敗しました"})
			log.Printf("JWT生成エラー: %v", err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": token, "user_id": req.UserID})
	}
}
