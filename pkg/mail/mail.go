package mail

import (
	"context"
	"log"
	"os"
	"strconv"
	"time"

	gomail "github.com/wneessen/go-mail"
)

// Message は送信するメールの内容を表す。
// HTML本文はディスパッチャ側でレンダリング済みであり、チャネルはテンプレート処理を行わない。
type Message struct {
	// To は宛先メールアドレス。
	To string
	// Subject はメールの件名。
	Subject string
	// HTML はレンダリング済みのHTML本文。
	HTML string
}

// Sender はメールチャネルの送信インターフェース。
// 戻り値は「送信を試行できたかどうか」であり、到達・開封を保証するものではない。
// 送信失敗はエラーとして伝播せず、falseとして報告される。
type Sender interface {
	Send(ctx context.Context, msg Message) bool
}

// sendTimeout はSMTP送信1回あたりの上限時間。
// トランスポート障害時にディスパッチャを無期限にブロックさせないための制約。
const sendTimeout = 10 * time.Second

// SMTPSender はSMTPトランスポートを使用するメール送信実装。
type SMTPSender struct {
	// client はgo-mailのSMTPクライアント。
	client *gomail.Client
	// from は送信元メールアドレス。
	from string
}

// NewSMTPSender はSMTP接続情報からメール送信クライアントを生成する。
func NewSMTPSender(host string, port int, username, password, from string) (*SMTPSender, error) {
	opts := []gomail.Option{
		gomail.WithPort(port),
		gomail.WithTimeout(sendTimeout),
		gomail.WithTLSPortPolicy(gomail.TLSOpportunistic),
	}
	if username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(username),
			gomail.WithPassword(password),
		)
	}

	client, err := gomail.NewClient(host, opts...)
	if err != nil {
		return nil, err
	}
	return &SMTPSender{client: client, from: from}, nil
}

// Send はメールを1通送信する。
// 失敗した場合はログに記録してfalseを返し、エラーは伝播させない。
func (s *SMTPSender) Send(ctx context.Context, msg Message) bool {
	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		log.Printf("[Mail] 送信元アドレスが不正: from=%s, error=%v", s.from, err)
		return false
	}
	if err := m.To(msg.To); err != nil {
		log.Printf("[Mail] 宛先アドレスが不正: to=%s, error=%v", msg.To, err)
		return false
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)

	if err := s.client.DialAndSendWithContext(ctx, m); err != nil {
		log.Printf("[Mail] メール送信に失敗: to=%s, subject=%s, error=%v", msg.To, msg.Subject, err)
		return false
	}
	return true
}

// NopSender はトランスポート未設定時のフォールバック実装。
// 送信内容をログに記録するだけで、常に成功として報告する。
// これによりメール設定の有無にかかわらずディスパッチャの制御フローが変わらない。
type NopSender struct{}

// Send は送信内容をログに記録してtrueを返す。
func (NopSender) Send(_ context.Context, msg Message) bool {
	log.Printf("[Mail] SMTP未設定のため送信をスキップ: to=%s, subject=%s", msg.To, msg.Subject)
	return true
}

// NewSenderFromEnv は環境変数からメールチャネルを構築する。
//
//	SMTP_HOST     — SMTPサーバーのホスト名。未設定の場合はNopSenderを返す。
//	SMTP_PORT     — SMTPサーバーのポート番号（デフォルト: 587）。
//	SMTP_USERNAME — SMTP認証のユーザー名（未設定の場合は認証なし）。
//	SMTP_PASSWORD — SMTP認証のパスワード。
//	SMTP_FROM     — 送信元メールアドレス（デフォルト: SMTP_USERNAME）。
//
// プロセス起動時に1度だけ解決し、ディスパッチャに注入して使用する。
func NewSenderFromEnv() Sender {
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		log.Println("[Mail] SMTP_HOSTが未設定のため、メールチャネルを無効化します")
		return NopSender{}
	}

	port := 587
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		} else {
			log.Printf("[Mail] SMTP_PORTの解析に失敗したためデフォルト値を使用: value=%s", v)
		}
	}

	username := os.Getenv("SMTP_USERNAME")
	password := os.Getenv("SMTP_PASSWORD")
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		from = username
	}

	sender, err := NewSMTPSender(host, port, username, password, from)
	if err != nil {
		log.Printf("[Mail] SMTPクライアントの生成に失敗したため、メールチャネルを無効化します: %v", err)
		return NopSender{}
	}

	log.Printf("[Mail] SMTPトランスポートを使用します: host=%s, port=%d", host, port)
	return sender
}
