// Package inbox は通知センターのクライアントロジックを提供する。
//
// エスカレーションサービスの通知APIを一定間隔（および開始直後）でポーリングし、
// サーバー状態のローカルミラーを保持する。既読化・全既読化・全削除の各操作は
// ネットワーク呼び出しの完了を待たずにローカル状態を先行更新する（楽観的更新）。
// 変更系呼び出しが失敗した場合は必ずサーバーの正とする一覧を再取得して
// ローカル状態を調停する。
package inbox
