// Package escalation は組織階層に沿ったエスカレーション通知エンジンを提供する。
//
// タスク更新などの業務アクションをトリガーとして、組織階層を解決して
// 通知すべき上位者の集合を決定し、アプリ内通知の永続化とメール送信の
// 2チャネルで配信する。通知インボックスの参照・既読化・全削除APIも持つ。
//
// エスカレーションの失敗はトリガー元の業務アクションに決して伝播しない。
package escalation
