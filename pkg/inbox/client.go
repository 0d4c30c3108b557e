package inbox

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/nao1215/collabo/pkg/httpclient"
)

// Notification は通知APIから取得した通知1件のローカルミラー。
type Notification struct {
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
	// IsRead は既読状態。クライアント側でも未読から既読への一方向にのみ遷移する。
	IsRead bool `json:"is_read"`
	// CreatedAt は通知の作成日時（RFC3339形式）。
	CreatedAt string `json:"created_at"`
}

// listResponse は通知一覧APIのJSONレスポンス構造。
type listResponse struct {
	// Notifications は通知一覧（作成日時の降順）。
	Notifications []Notification `json:"notifications"`
	// UnreadCount は未読通知数。
	UnreadCount int `json:"unread_count"`
}

// defaultInterval はポーリングの既定間隔。
const defaultInterval = 60 * time.Second

// Client は通知センターのポーリングクライアント。
// サーバー状態のローカルミラーと楽観的更新を管理する。
type Client struct {
	// api はエスカレーションサービスへの認証済みHTTPクライアント。
	api *httpclient.Client
	// interval はポーリング間隔。
	interval time.Duration
	// mu はローカル状態への並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// notifications はサーバーから取得した通知一覧のローカルミラー。
	notifications []Notification
	// unreadCount は未読数のローカルミラー。楽観的更新で先行して増減する。
	unreadCount int
	// stale は調停用の再取得にも失敗した場合に立てるフラグ。
	// 次のポーリングまたは次の取得成功で解消される。
	stale bool
	// cancel はバックグラウンドのポーリングを停止するためのキャンセル関数。
	cancel context.CancelFunc
}

// New は新しい通知センタークライアントを生成する。
// apiにはBearerトークン付きのHTTPクライアントを渡す。
func New(api *httpclient.Client) *Client {
	return NewWithInterval(api, defaultInterval)
}

// NewWithInterval はポーリング間隔を指定して通知センタークライアントを生成する。
// 0以下の間隔が指定された場合はデフォルト間隔を使用する。
func NewWithInterval(api *httpclient.Client, interval time.Duration) *Client {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Client{
		api:      api,
		interval: interval,
	}
}

// Start はバックグラウンドで通知APIのポーリングを開始する。
// 開始直後に1回取得し、その後は一定間隔で取得する。
func (c *Client) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go func() {
		log.Println("[Inbox] 通知のポーリングを開始します")

		// マウント直後の1回分
		if err := c.Fetch(ctx); err != nil {
			log.Printf("[Inbox] 初回取得エラー: %v", err)
		}

		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				log.Println("[Inbox] ポーリングを停止しました")
				return
			case <-ticker.C:
				if err := c.Fetch(ctx); err != nil {
					log.Printf("[Inbox] ポーリングエラー: %v", err)
				}
			}
		}
	}()
}

// Stop はバックグラウンドのポーリングを停止する。
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// Fetch はサーバーの正とする通知一覧を取得してローカル状態を置き換える。
func (c *Client) Fetch(ctx context.Context) error {
	var resp listResponse
	if err := c.api.GetJSON(ctx, "/api/v1/notifications", &resp); err != nil {
		return fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.notifications = resp.Notifications
	c.unreadCount = resp.UnreadCount
	c.stale = false
	return nil
}

// Notifications はローカルミラーの通知一覧のコピーを返す。
func (c *Client) Notifications() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.notifications))
	copy(out, c.notifications)
	return out
}

// UnreadCount はローカルミラーの未読数を返す。
func (c *Client) UnreadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unreadCount
}

// Stale は直近の調停が失敗したままかどうかを返す。
func (c *Client) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// MarkRead は通知1件を既読にする。
// ネットワーク呼び出しの完了を待たずにローカルの既読状態と未読数を先行更新し、
// 呼び出しが失敗した場合はサーバーの状態で調停する。
func (c *Client) MarkRead(ctx context.Context, id string) {
	c.mu.Lock()
	for i := range c.notifications {
		if c.notifications[i].ID == id && !c.notifications[i].IsRead {
			c.notifications[i].IsRead = true
			if c.unreadCount > 0 {
				c.unreadCount--
			}
			break
		}
	}
	c.mu.Unlock()

	if err := c.api.PutJSON(ctx, "/api/v1/notifications/"+id+"/read", nil, nil); err != nil {
		log.Printf("[Inbox] 既読化に失敗: id=%s, error=%v", id, err)
		c.reconcile(ctx)
	}
}

// MarkAllRead は全通知を既読にする。
// ローカルの全エントリを先行して既読化し、未読数を0にする。
func (c *Client) MarkAllRead(ctx context.Context) {
	c.mu.Lock()
	for i := range c.notifications {
		c.notifications[i].IsRead = true
	}
	c.unreadCount = 0
	c.mu.Unlock()

	if err := c.api.PutJSON(ctx, "/api/v1/notifications/read-all", nil, nil); err != nil {
		log.Printf("[Inbox] 全既読化に失敗: %v", err)
		c.reconcile(ctx)
	}
}

// ClearAll は全通知を削除する。ローカル状態を先行して空にする。
func (c *Client) ClearAll(ctx context.Context) {
	c.mu.Lock()
	c.notifications = nil
	c.unreadCount = 0
	c.mu.Unlock()

	if err := c.api.DeleteJSON(ctx, "/api/v1/notifications", nil); err != nil {
		log.Printf("[Inbox] 全削除に失敗: %v", err)
		c.reconcile(ctx)
	}
}

// Open は通知のディープリンクを返しつつ、同じ操作の中でその通知を既読にする。
// リンクを持たない通知の場合は空文字列を返す（既読化は行う）。
func (c *Client) Open(ctx context.Context, id string) string {
	c.mu.Lock()
	var link string
	for i := range c.notifications {
		if c.notifications[i].ID == id {
			link = c.notifications[i].Link
			break
		}
	}
	c.mu.Unlock()

	c.MarkRead(ctx, id)
	return link
}

// reconcile は変更系呼び出しの失敗後にサーバーの正とする一覧でローカル状態を調停する。
// 再取得にも失敗した場合はstaleフラグを立て、次のポーリングに委ねる。
func (c *Client) reconcile(ctx context.Context) {
	if err := c.Fetch(ctx); err != nil {
		log.Printf("[Inbox] 調停用の再取得に失敗: %v", err)
		c.mu.Lock()
		c.stale = true
		c.mu.Unlock()
	}
}
