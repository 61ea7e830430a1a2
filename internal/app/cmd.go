package app

import (
	"fmt"
	"io"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動し、POST /scrape でパイプラインを実行する。
	CommandServe Command = "serve"
	// CommandScrape はパイプラインを1回だけ実行して終了する。cronなど外部スケジューラ向け。
	CommandScrape Command = "scrape"
	// CommandMigrate はスキーマを最新にして終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの /health を確認する。
	// distrolessにはcurlがないためDockerのHEALTHCHECKから使う。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// commands は使い方の表示順。
var commands = []struct {
	cmd  Command
	desc string
}{
	{CommandServe, "start the HTTP API (default)"},
	{CommandScrape, "run the scrape pipeline once and exit non-zero on failure"},
	{CommandMigrate, "apply pending database migrations"},
	{CommandHealthcheck, "check GET /health on SERVER_PORT"},
	{CommandHelp, "show this message"},
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。2番目以降の引数は無視する。
// 未知のサブコマンドはタイプミスでサーバーが起動しないようエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch arg := args[0]; arg {
	case "-h", "--help":
		return CommandHelp, nil
	default:
		for _, c := range commands {
			if string(c.cmd) == arg {
				return c.cmd, nil
			}
		}
		return "", fmt.Errorf("unknown command %q (want %s)", arg, commandNames())
	}
}

// commandNames は "serve, scrape, migrate, healthcheck or help" の形式で一覧を返す。
func commandNames() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c.cmd)
	}
	return strings.Join(names[:len(names)-1], ", ") + " or " + names[len(names)-1]
}

// writeUsage は使い方をwに書き込む。
func writeUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: newsscraper [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.cmd, c.desc)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "configuration is read from environment variables (STORE_DRIVER, DATABASE_URL, TARGET_URL, ...)")
}
