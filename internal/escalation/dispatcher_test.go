package escalation

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/nao1215/collabo/pkg/mail"
)

// stubSender はテスト用のメールチャネル実装。送信内容を記録する。
type stubSender struct {
	// mu は記録への並行アクセスを保護するミューテックス。
	mu sync.Mutex
	// sent は送信を試行したメッセージの記録。
	sent []mail.Message
	// fail がtrueの場合、全送信をソフト失敗として報告する。
	fail bool
}

// Send は送信内容を記録し、fail設定に応じた結果を返す。
func (s *stubSender) Send(_ context.Context, msg mail.Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, msg)
	return !s.fail
}

// sentTo は記録されたメッセージから宛先アドレスの一覧を返す。
func (s *stubSender) sentTo() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	addrs := make([]string, 0, len(s.sent))
	for _, m := range s.sent {
		addrs = append(addrs, m.To)
	}
	return addrs
}

// setupDispatcher はテスト用のDispatcherとStore、スタブのメールチャネルを構築する。
func setupDispatcher(t *testing.T) (*Dispatcher, *Store, *stubSender) {
	t.Helper()
	store := setupTestStore(t)
	sender := &stubSender{}
	return NewDispatcher(store, sender), store, sender
}

// seedScenarioA はシナリオA用の組織を構築する。
// 社員EはチームリーダーTの直属。Directorは{D1, D2}。
func seedScenarioA(t *testing.T, s *Store) {
	t.Helper()
	createTestUser(t, s, "E", "社員", "e@example.com", RoleEmployee)
	createTestUser(t, s, "T", "リーダー", "t@example.com", RoleTeamLeader)
	createTestUser(t, s, "D1", "役員1", "d1@example.com", RoleDirector)
	createTestUser(t, s, "D2", "役員2", "d2@example.com", RoleDirector)
	addManagerEdge(t, s, "E", "T")
}

// TestDispatch はエスカレーション配信の基本動作を検証する。
func TestDispatch(t *testing.T) {
	t.Parallel()

	t.Run("社員のエスカレーションで上位者全員に通知とメールが届く", func(t *testing.T) {
		t.Parallel()
		d, store, sender := setupDispatcher(t)
		seedScenarioA(t, store)

		d.Dispatch(t.Context(), Request{
			ActorID: "E",
			Action:  "task.updated",
			Title:   "タスクが更新されました",
			Details: "設計レビューのタスクが完了に変更されました",
			Link:    "/tasks/42",
		})

		// 宛先は{T, D1, D2}。各宛先に通知1件とメール試行1回。
		for _, userID := range []string{"T", "D1", "D2"} {
			list, err := store.ListNotificationsByUserID(t.Context(), userID)
			if err != nil {
				t.Fatalf("通知一覧の取得に失敗: %v", err)
			}
			if len(list) != 1 {
				t.Errorf("%s の通知数 = %d, want 1", userID, len(list))
				continue
			}
			if list[0].Title != "タスクが更新されました" {
				t.Errorf("%s の通知タイトル = %q", userID, list[0].Title)
			}
			if list[0].Severity != SeverityInfo {
				t.Errorf("%s の重要度 = %q, want INFO", userID, list[0].Severity)
			}
			if list[0].Link != "/tasks/42" {
				t.Errorf("%s のリンク = %q, want /tasks/42", userID, list[0].Link)
			}
		}

		if got := len(sender.sentTo()); got != 3 {
			t.Errorf("メール試行回数 = %d, want 3", got)
		}

		// 行為者自身には通知されない
		actorList, _ := store.ListNotificationsByUserID(t.Context(), "E")
		if len(actorList) != 0 {
			t.Errorf("行為者自身に通知が届いている: %d件", len(actorList))
		}
	})

	t.Run("Directorの行為では書き込みもメールも発生しない", func(t *testing.T) {
		t.Parallel()
		d, store, sender := setupDispatcher(t)
		seedScenarioA(t, store)

		d.Dispatch(t.Context(), Request{
			ActorID: "D1",
			Action:  "milestone.closed",
			Title:   "マイルストーンを閉じました",
		})

		for _, userID := range []string{"E", "T", "D1", "D2"} {
			list, _ := store.ListNotificationsByUserID(t.Context(), userID)
			if len(list) != 0 {
				t.Errorf("%s に通知が届いている: %d件", userID, len(list))
			}
		}
		if got := len(sender.sentTo()); got != 0 {
			t.Errorf("メール試行回数 = %d, want 0", got)
		}
	})

	t.Run("マネージャーが対象を指定すると対象とDirectorに通知される", func(t *testing.T) {
		t.Parallel()
		d, store, sender := setupDispatcher(t)

		createTestUser(t, store, "M", "マネージャー", "m@example.com", RoleManager)
		createTestUser(t, store, "E", "社員", "e@example.com", RoleEmployee)
		createTestUser(t, store, "D1", "役員1", "d1@example.com", RoleDirector)

		d.Dispatch(t.Context(), Request{
			ActorID:  "M",
			TargetID: "E",
			Action:   "task.assigned",
			Title:    "タスクが割り当てられました",
		})

		for _, userID := range []string{"D1", "E"} {
			list, _ := store.ListNotificationsByUserID(t.Context(), userID)
			if len(list) != 1 {
				t.Errorf("%s の通知数 = %d, want 1", userID, len(list))
			}
		}
		mList, _ := store.ListNotificationsByUserID(t.Context(), "M")
		if len(mList) != 0 {
			t.Errorf("行為者自身に通知が届いている: %d件", len(mList))
		}
		if got := len(sender.sentTo()); got != 2 {
			t.Errorf("メール試行回数 = %d, want 2", got)
		}
	})

	t.Run("2本の直属エッジがあっても各ユーザーへの通知は1件のみ", func(t *testing.T) {
		t.Parallel()
		d, store, _ := setupDispatcher(t)

		createTestUser(t, store, "T", "リーダー", "t@example.com", RoleTeamLeader)
		createTestUser(t, store, "M1", "マネージャー1", "m1@example.com", RoleManager)
		createTestUser(t, store, "M2", "マネージャー2", "m2@example.com", RoleManager)
		createTestUser(t, store, "D1", "役員1", "d1@example.com", RoleDirector)
		addManagerEdge(t, store, "T", "M1")
		addManagerEdge(t, store, "T", "M2")

		d.Dispatch(t.Context(), Request{
			ActorID: "T",
			Action:  "report.submitted",
			Title:   "週次報告が提出されました",
		})

		for _, userID := range []string{"M1", "M2", "D1"} {
			list, _ := store.ListNotificationsByUserID(t.Context(), userID)
			if len(list) != 1 {
				t.Errorf("%s の通知数 = %d, want 1", userID, len(list))
			}
		}
	})

	t.Run("行為者が存在しない場合は何も起こらない", func(t *testing.T) {
		t.Parallel()
		d, store, sender := setupDispatcher(t)
		seedScenarioA(t, store)

		d.Dispatch(t.Context(), Request{
			ActorID: "ghost",
			Action:  "task.updated",
			Title:   "存在しないユーザーの行為",
		})

		for _, userID := range []string{"E", "T", "D1", "D2"} {
			list, _ := store.ListNotificationsByUserID(t.Context(), userID)
			if len(list) != 0 {
				t.Errorf("%s に通知が届いている: %d件", userID, len(list))
			}
		}
		if got := len(sender.sentTo()); got != 0 {
			t.Errorf("メール試行回数 = %d, want 0", got)
		}
	})

	t.Run("メールチャネルの失敗がアプリ内通知の書き込みを妨げない", func(t *testing.T) {
		t.Parallel()
		d, store, sender := setupDispatcher(t)
		seedScenarioA(t, store)
		sender.fail = true

		d.Dispatch(t.Context(), Request{
			ActorID: "E",
			Action:  "task.updated",
			Title:   "タスクが更新されました",
		})

		// メールは全滅してもアプリ内通知は全宛先に永続化される
		for _, userID := range []string{"T", "D1", "D2"} {
			list, _ := store.ListNotificationsByUserID(t.Context(), userID)
			if len(list) != 1 {
				t.Errorf("%s の通知数 = %d, want 1", userID, len(list))
			}
		}
		if got := len(sender.sentTo()); got != 3 {
			t.Errorf("メール試行回数 = %d, want 3", got)
		}
	})

	t.Run("メールアドレス未登録の宛先はアプリ内通知のみ受け取る", func(t *testing.T) {
		t.Parallel()
		d, store, sender := setupDispatcher(t)

		createTestUser(t, store, "E", "社員", "e@example.com", RoleEmployee)
		createTestUser(t, store, "T", "リーダー", "", RoleTeamLeader)
		createTestUser(t, store, "D1", "役員1", "d1@example.com", RoleDirector)
		addManagerEdge(t, store, "E", "T")

		d.Dispatch(t.Context(), Request{
			ActorID: "E",
			Action:  "task.updated",
			Title:   "タスクが更新されました",
		})

		tList, _ := store.ListNotificationsByUserID(t.Context(), "T")
		if len(tList) != 1 {
			t.Errorf("Tの通知数 = %d, want 1", len(tList))
		}

		sent := sender.sentTo()
		if len(sent) != 1 || sent[0] != "d1@example.com" {
			t.Errorf("メール宛先 = %v, want [d1@example.com]", sent)
		}
	})

	t.Run("指定された重要度が通知に保存される", func(t *testing.T) {
		t.Parallel()
		d, store, _ := setupDispatcher(t)
		seedScenarioA(t, store)

		d.Dispatch(t.Context(), Request{
			ActorID:  "E",
			Action:   "task.blocked",
			Title:    "タスクがブロックされました",
			Severity: SeverityWarning,
		})

		list, _ := store.ListNotificationsByUserID(t.Context(), "T")
		if len(list) != 1 {
			t.Fatalf("Tの通知数 = %d, want 1", len(list))
		}
		if list[0].Severity != SeverityWarning {
			t.Errorf("重要度 = %q, want WARNING", list[0].Severity)
		}
	})

	t.Run("未知の重要度はINFOにフォールバックする", func(t *testing.T) {
		t.Parallel()
		d, store, _ := setupDispatcher(t)
		seedScenarioA(t, store)

		d.Dispatch(t.Context(), Request{
			ActorID:  "E",
			Action:   "task.updated",
			Title:    "タスクが更新されました",
			Severity: Severity("CRITICAL"),
		})

		list, _ := store.ListNotificationsByUserID(t.Context(), "T")
		if len(list) != 1 {
			t.Fatalf("Tの通知数 = %d, want 1", len(list))
		}
		if list[0].Severity != SeverityInfo {
			t.Errorf("重要度 = %q, want INFO", list[0].Severity)
		}
	})
}

// TestRenderEmailHTML はメール本文のレンダリングを検証する。
func TestRenderEmailHTML(t *testing.T) {
	t.Parallel()

	t.Run("ペイロードの各要素が本文に含まれる", func(t *testing.T) {
		t.Parallel()

		actor := User{ID: "E", Name: "山田太郎", Role: RoleEmployee}
		html, err := renderEmailHTML(actor, Request{
			Action:  "task.updated",
			Title:   "タスクが更新されました",
			Details: "設計レビューが完了しました",
			Link:    "/tasks/42",
		})
		if err != nil {
			t.Fatalf("レンダリングに失敗: %v", err)
		}

		for _, want := range []string{"タスクが更新されました", "task.updated", "山田太郎", "設計レビューが完了しました", "/tasks/42"} {
			if !strings.Contains(html, want) {
				t.Errorf("本文に %q が含まれていない", want)
			}
		}
	})

	t.Run("詳細とリンクがない場合は対応する要素が出力されない", func(t *testing.T) {
		t.Parallel()

		actor := User{ID: "E", Name: "山田太郎", Role: RoleEmployee}
		html, err := renderEmailHTML(actor, Request{
			Action: "task.updated",
			Title:  "タスクが更新されました",
		})
		if err != nil {
			t.Fatalf("レンダリングに失敗: %v", err)
		}

		if strings.Contains(html, "<a href") {
			t.Error("リンクなしの本文にアンカー要素が含まれている")
		}
	})

	t.Run("HTMLメタ文字がエスケープされる", func(t *testing.T) {
		t.Parallel()

		actor := User{ID: "E", Name: "山田太郎", Role: RoleEmployee}
		html, err := renderEmailHTML(actor, Request{
			Action:  "task.updated",
			Title:   "タスクが更新されました",
			Details: "<script>alert('x')</script>",
		})
		if err != nil {
			t.Fatalf("レンダリングに失敗: %v", err)
		}

		if strings.Contains(html, "<script>") {
			t.Error("本文にスクリプト要素がエスケープされずに含まれている")
		}
	})
}
