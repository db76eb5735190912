// Command recipebox はレシピ閲覧とクックブックのAPIサーバー、ワーカー、マイグレーションを起動する。
//
//	recipebox [serve]              APIサーバー（デフォルト）
//	recipebox worker               おすすめレシピ更新とセッション掃除
//	recipebox migrate [up|down|version]
//	recipebox healthcheck          Dockerヘルスチェック用
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/recipebox/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
