// Package escalate は業務ロジックを持つコラボレータがエスカレーションを
// トリガーするためのクライアントを提供する。
//
// エスカレーションはアラートであって台帳ではない。通知の失敗がタスク更新などの
// 本来の業務アクションを失敗させてはならないため、このクライアントは
// あらゆるエラーをログに記録して吸収し、呼び出し元には何も返さない。
package escalate

import (
	"context"
	"log"

	"github.com/nao1215/collabo/pkg/httpclient"
)

// Request はエスカレーショントリガー1回分のペイロード。
type Request struct {
	// ActorID はエスカレーションを引き起こした行為者のユーザーID。
	ActorID string `json:"actor_id"`
	// TargetID は階層によらず必ず通知する対象ユーザーID。省略可。
	TargetID string `json:"target_id,omitempty"`
	// Action は業務アクションの種別（例: "task.updated"）。
	Action string `json:"action"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Details は通知の本文となる詳細説明。
	Details string `json:"details,omitempty"`
	// Severity は重要度（INFO / SUCCESS / WARNING / ERROR）。省略時はINFO。
	Severity string `json:"severity,omitempty"`
	// Link はコラボレータUIへのディープリンク。省略可。
	Link string `json:"link,omitempty"`
}

// Client はエスカレーションサービスへのトリガー送信クライアント。
type Client struct {
	// api はエスカレーションサービスへのHTTPクライアント。
	api *httpclient.Client
}

// New は新しいトリガー送信クライアントを生成する。
func New(api *httpclient.Client) *Client {
	return &Client{api: api}
}

// Escalate はエスカレーションをトリガーする。
// 送信に失敗してもログに記録するのみで、エラーは呼び出し元に伝播しない。
func (c *Client) Escalate(ctx context.Context, req Request) {
	if err := c.api.PostJSON(ctx, "/api/v1/internal/escalate", req, nil); err != nil {
		log.Printf("[Escalate] エスカレーションの送信に失敗: actor_id=%s, action=%s, error=%v",
			req.ActorID, req.Action, err)
	}
}
