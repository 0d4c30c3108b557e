// エスカレーションサービスのエントリポイント。
// 業務アクションをトリガーとして組織階層を解決し、アプリ内通知とメールの
// 2チャネルで上位者への通知を配信する。通知インボックスAPIも提供する。
package main

import (
	"log"
	"os"

	"github.com/nao1215/collabo/internal/escalation"
)

func main() {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8087"
	}

	server, err := escalation.NewServer(port)
	if err != nil {
		log.Fatalf("エスカレーションサーバーの初期化に失敗: %v", err)
	}
	defer func() {
		if err := server.Close(); err != nil {
			log.Printf("データベース接続のクローズに失敗: %v", err)
		}
	}()

	log.Printf("エスカレーションサービスを起動します: :%s", port)
	if err := server.Run(); err != nil {
		log.Fatalf("エスカレーションサービスの起動に失敗: %v", err)
	}
}
