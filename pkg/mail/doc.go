// Package mail はエスカレーション通知の副次チャネルであるメール送信を提供する。
//
// SMTPの接続情報が環境変数で設定されている場合は実際のSMTPトランスポートを使用し、
// 未設定の場合はログ出力のみを行う無効化シンクにフォールバックする。
// どちらの場合も送信失敗は呼び出し元に伝播せず、ソフト失敗（false）として報告する。
package mail
