package app

import (
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はSlackのイベント受信とAPIを提供するサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れ受信箱アイテムのスイープを定期実行する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はローカルのserveプロセスの/healthを確認する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

// commands はサブコマンドと説明。Usageの表示順を兼ねる。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "Slackイベント受信・受信箱APIサーバーを起動する（デフォルト）"},
	{CommandWorker, "期限切れの未対応メンションを定期的に削除する"},
	{CommandMigrate, "データベースマイグレーションを適用する"},
	{CommandHealthcheck, "ローカルのAPIサーバーのヘルスチェックを行う"},
	{CommandHelp, "このヘルプを表示する"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
// 2番目以降の引数は無視する。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch arg := strings.TrimLeft(args[0], "-"); arg {
	case "h":
		return CommandHelp
	default:
		for _, c := range commands {
			if string(c.cmd) == arg {
				return c.cmd
			}
		}
		return CommandServe
	}
}

// Usage はサブコマンドの一覧を返す。
func Usage() string {
	var b strings.Builder
	b.WriteString("usage: mentionbox <command>\n\ncommands:\n")
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-12s %s\n", c.cmd, c.desc)
	}
	return b.String()
}
