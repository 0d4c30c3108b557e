package escalation

import (
	"context"
	"fmt"
	"html/template"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/nao1215/collabo/pkg/mail"
)

// Request はエスカレーション1回分の作業単位を表す。
// 永続化されない一時的な値であり、寿命はDispatchの呼び出し1回分のみ。
type Request struct {
	// ActorID はエスカレーションを引き起こした行為者のユーザーID。
	ActorID string
	// TargetID は階層によらず必ず通知する明示的な対象ユーザーID。省略可。
	TargetID string
	// Action は業務アクションの種別（例: "task.updated"）。
	Action string
	// Title は通知のタイトル。
	Title string
	// Details は通知の本文となる詳細説明。
	Details string
	// Severity は重要度。未知の値や空の場合はINFOにフォールバックする。
	Severity Severity
	// Link はコラボレータUIへのディープリンク。省略可。
	Link string
}

// Dispatcher はエスカレーションの配信を統括する。
// 宛先の解決、アプリ内通知の永続化、メール送信を宛先ごとに独立して行う。
// 内部で発生したあらゆる失敗はログに記録して吸収し、呼び出し元には伝播させない。
type Dispatcher struct {
	// store は通知の永続化と組織階層の読み取りを行うストア。
	store *Store
	// sender はメールチャネル。起動時に設定から解決されたものが注入される。
	sender mail.Sender
}

// NewDispatcher は新しいDispatcherを生成する。
func NewDispatcher(store *Store, sender mail.Sender) *Dispatcher {
	return &Dispatcher{store: store, sender: sender}
}

// Dispatch はエスカレーションを1件処理する。
// 行為者が見つからない場合はログに記録して中断する。トリガー元の業務アクションを
// ブロックしてはならないため、エラーは返さない。
//
// 宛先ごとにアプリ内通知の書き込みとメール送信を行うが、両者は独立した失敗ドメインで
// あり、ある宛先の失敗が他の宛先の配信を妨げることはない。部分的な失敗時の
// ロールバックは行わない（一部の宛先にのみ通知された状態は許容される劣化状態）。
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) {
	actor, err := d.store.GetUser(ctx, req.ActorID)
	if err != nil {
		log.Printf("[Escalation] 行為者が見つからないため中断: actor_id=%s, error=%v", req.ActorID, err)
		return
	}

	managerIDs, err := d.store.ListManagerIDs(ctx, actor.ID)
	if err != nil {
		log.Printf("[Escalation] 直属上司の取得に失敗: actor_id=%s, error=%v", actor.ID, err)
		managerIDs = nil
	}

	directorIDs, err := d.store.ListDirectorIDs(ctx)
	if err != nil {
		log.Printf("[Escalation] Director一覧の取得に失敗: error=%v", err)
		directorIDs = nil
	}

	recipients := ResolveRecipients(actor, managerIDs, directorIDs, req.TargetID)
	if len(recipients) == 0 {
		log.Printf("[Escalation] 宛先なし: actor_id=%s, action=%s", actor.ID, req.Action)
		return
	}

	severity := req.Severity
	if !severity.Valid() {
		severity = SeverityInfo
	}

	for _, recipientID := range recipients {
		d.deliver(ctx, actor, recipientID, req, severity)
	}
}

// deliver は宛先1人への配信を行う。
// アプリ内通知の書き込み失敗はその宛先のアプリ内通知のみをスキップし、
// メール送信の失敗がアプリ内通知の書き込みを妨げることはない。
func (d *Dispatcher) deliver(ctx context.Context, actor User, recipientID string, req Request, severity Severity) {
	n := Notification{
		ID:       uuid.New().String(),
		UserID:   recipientID,
		Title:    req.Title,
		Message:  req.Details,
		Severity: severity,
		Link:     req.Link,
	}
	if err := d.store.CreateNotification(ctx, n); err != nil {
		log.Printf("[Escalation] 通知の書き込みに失敗: recipient=%s, action=%s, error=%v",
			recipientID, req.Action, err)
	}

	recipient, err := d.store.GetUser(ctx, recipientID)
	if err != nil {
		log.Printf("[Escalation] 宛先ユーザーの取得に失敗したためメールをスキップ: recipient=%s, error=%v",
			recipientID, err)
		return
	}
	if recipient.Email == "" {
		// メールアドレス未登録の宛先にはアプリ内通知のみ配信する
		return
	}

	html, err := renderEmailHTML(actor, req)
	if err != nil {
		log.Printf("[Escalation] メール本文のレンダリングに失敗: recipient=%s, error=%v", recipientID, err)
		return
	}

	if ok := d.sender.Send(ctx, mail.Message{
		To:      recipient.Email,
		Subject: fmt.Sprintf("[collabo] %s", req.Title),
		HTML:    html,
	}); !ok {
		log.Printf("[Escalation] メールチャネルがソフト失敗: recipient=%s, action=%s", recipientID, req.Action)
	}
}

// emailTemplate はエスカレーションメールのHTML本文テンプレート。
// アプリ内通知と同じ {title, action, details, link} ペイロードからレンダリングする。
var emailTemplate = template.Must(template.New("escalation").Parse(strings.TrimSpace(`
<html>
<body style="font-family: sans-serif;">
  <h2>{{.Title}}</h2>
  <p><strong>アクション:</strong> {{.Action}}</p>
  <p><strong>実行者:</strong> {{.ActorName}}</p>
  {{if .Details}}<p>{{.Details}}</p>{{end}}
  {{if .Link}}<p><a href="{{.Link}}">collaboで確認する</a></p>{{end}}
</body>
</html>
`)))

// renderEmailHTML はエスカレーション内容からメールのHTML本文を生成する。
func renderEmailHTML(actor User, req Request) (string, error) {
	var b strings.Builder
	err := emailTemplate.Execute(&b, struct {
		Title     string
		Action    string
		ActorName string
		Details   string
		Link      string
	}{
		Title:     req.Title,
		Action:    req.Action,
		ActorName: actor.Name,
		Details:   req.Details,
		Link:      req.Link,
	})
	if err != nil {
		return "", fmt.Errorf("メールテンプレートの実行に失敗: %w", err)
	}
	return b.String(), nil
}
