package escalation

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Role は組織内での役職を表す。エスカレーション先の決定に使用する。
type Role string

const (
	// RoleDirector は役員。エスカレーションの最終到達点であり、自身は上方通知しない。
	RoleDirector Role = "DIRECTOR"
	// RoleManager はマネージャー。
	RoleManager Role = "MANAGER"
	// RoleTeamLeader はチームリーダー。
	RoleTeamLeader Role = "TEAM_LEADER"
	// RoleEmployee は一般社員。
	RoleEmployee Role = "EMPLOYEE"
	// RoleIntern はインターン。
	RoleIntern Role = "INTERN"
)

// Severity は通知の重要度を表す。
type Severity string

const (
	// SeverityInfo は情報通知。重要度が指定されない場合のデフォルト。
	SeverityInfo Severity = "INFO"
	// SeveritySuccess は成功通知。
	SeveritySuccess Severity = "SUCCESS"
	// SeverityWarning は警告通知。
	SeverityWarning Severity = "WARNING"
	// SeverityError はエラー通知。
	SeverityError Severity = "ERROR"
)

// Valid は既知の重要度かどうかを返す。
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeveritySuccess, SeverityWarning, SeverityError:
		return true
	}
	return false
}

// User は組織階層上のユーザーを表す。
// CRUD層が所有するエンティティであり、このサブシステムからは読み取り専用。
type User struct {
	// ID はユーザーの一意識別子。
	ID string `db:"id"`
	// Name は表示名。
	Name string `db:"name"`
	// Email はメールアドレス。未登録の場合は空文字列。
	Email string `db:"email"`
	// Role は役職。
	Role Role `db:"role"`
}

// Notification はユーザーのインボックスに入る通知1件を表す。
// 各行はちょうど1人のユーザーに所有され、共有されることはない。
type Notification struct {
	// ID は通知の一意識別子（UUID）。
	ID string `db:"id"`
	// UserID は通知の所有者となるユーザーID。
	UserID string `db:"user_id"`
	// Title は通知のタイトル。
	Title string `db:"title"`
	// Message は通知メッセージ。
	Message string `db:"message"`
	// Severity は重要度。
	Severity Severity `db:"severity"`
	// Link はコラボレータUIへのディープリンク。ない場合は空文字列。
	Link string `db:"link"`
	// IsRead は既読状態。未読から既読への一方向にのみ遷移する。
	IsRead bool `db:"is_read"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `db:"created_at"`
}

// Store は通知の永続化と組織階層の読み取りを担当する。
// 未読数は常にCOUNTクエリで導出し、独立したカウンタとしては保持しない。
type Store struct {
	// db はSQLiteデータベース接続。
	db *sqlx.DB
}

// NewStore は新しいStoreを生成する。
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// CreateNotification は通知を1件永続化する。作成日時はここで刻印する。
func (s *Store) CreateNotification(ctx context.Context, n Notification) error {
	if n.Severity == "" {
		n.Severity = SeverityInfo
	}
	n.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_id, title, message, severity, link, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserID, n.Title, n.Message, n.Severity, n.Link, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("通知の挿入に失敗: %w", err)
	}
	return nil
}

// ListNotificationsByUserID は指定ユーザーの通知一覧を作成日時の降順で返す。
// 作成日時が同一の場合はIDで順序を固定する。
func (s *Store) ListNotificationsByUserID(ctx context.Context, userID string) ([]Notification, error) {
	notifications := []Notification{}
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT id, user_id, title, message, severity, link, is_read, created_at
		FROM notifications
		WHERE user_id = ?
		ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// ListUnreadNotifications は指定ユーザーの未読通知一覧を作成日時の降順で返す。
func (s *Store) ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	notifications := []Notification{}
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT id, user_id, title, message, severity, link, is_read, created_at
		FROM notifications
		WHERE user_id = ? AND is_read = 0
		ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("未読通知一覧の取得に失敗: %w", err)
	}
	return notifications, nil
}

// CountUnread は指定ユーザーの未読通知数を返す。
func (s *Store) CountUnread(ctx context.Context, userID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", userID)
	if err != nil {
		return 0, fmt.Errorf("未読通知数の取得に失敗: %w", err)
	}
	return count, nil
}

// GetNotificationByID は通知を1件取得する。存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetNotificationByID(ctx context.Context, id string) (Notification, error) {
	var n Notification
	err := s.db.GetContext(ctx, &n, `
		SELECT id, user_id, title, message, severity, link, is_read, created_at
		FROM notifications WHERE id = ?`,
		id,
	)
	if err != nil {
		return Notification{}, err
	}
	return n, nil
}

// MarkAsRead は通知を既読にする。既に既読の場合は何もしない（冪等）。
// 既読から未読への逆遷移は存在しない。
func (s *Store) MarkAsRead(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE id = ?", id); err != nil {
		return fmt.Errorf("通知の既読化に失敗: %w", err)
	}
	return nil
}

// MarkAllAsRead は指定ユーザーの全通知を既読にする（冪等）。
func (s *Store) MarkAllAsRead(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0", userID); err != nil {
		return fmt.Errorf("全通知の既読化に失敗: %w", err)
	}
	return nil
}

// ClearAll は指定ユーザーの全通知を物理削除する。復元手段はない。
func (s *Store) ClearAll(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM notifications WHERE user_id = ?", userID); err != nil {
		return fmt.Errorf("全通知の削除に失敗: %w", err)
	}
	return nil
}

// GetUser はユーザーを1件取得する。存在しない場合はsql.ErrNoRowsを返す。
func (s *Store) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := s.db.GetContext(ctx, &u,
		"SELECT id, name, email, role FROM users WHERE id = ?", id)
	if err != nil {
		return User{}, err
	}
	return u, nil
}

// ListManagerIDs は指定ユーザーの直属上司のID一覧を返す。
func (s *Store) ListManagerIDs(ctx context.Context, userID string) ([]string, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		"SELECT manager_id FROM user_managers WHERE user_id = ?", userID)
	if err != nil {
		return nil, fmt.Errorf("直属上司一覧の取得に失敗: %w", err)
	}
	return ids, nil
}

// ListDirectorIDs は役職がDIRECTORである全ユーザーのID一覧を返す。
func (s *Store) ListDirectorIDs(ctx context.Context) ([]string, error) {
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		"SELECT id FROM users WHERE role = ?", RoleDirector)
	if err != nil {
		return nil, fmt.Errorf("Director一覧の取得に失敗: %w", err)
	}
	return ids, nil
}
