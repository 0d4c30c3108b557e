// Package httpclient はcollaboの各サービスへのHTTP通信を行うクライアントを提供する。
//
// ビジネスロジックを持つコラボレータがエスカレーションをトリガーする際や、
// 通知センタークライアントが通知APIをポーリングする際に使用する。
// JSONリクエスト/レスポンスの送受信と認証情報の伝播を統一する。
package httpclient
