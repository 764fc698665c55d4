package app

import (
	"fmt"
	"io"

	"github.com/docopt/docopt-go"
)

// Version はCLIのバージョン。
const Version = "1.0.0"

const usage = `Campus map client.

Usage:
  campusmap serve [--config=<file>]
  campusmap migrate [--config=<file>]
  campusmap healthcheck
  campusmap login <username> [--password=<pw>] [--config=<file>]
  campusmap logout [--config=<file>]
  campusmap whoami [--config=<file>]
  campusmap places [--category=<id>] [--config=<file>]
  campusmap -h | --help
  campusmap --version

Options:
  -h --help          Show this screen.
  --version          Show version.
  --config=<file>    YAML config file. Environment variables take precedence.
  --password=<pw>    Password. Prompted on the terminal when omitted.
  --category=<id>    Only list places in this category.`

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はゲートウェイを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate は資格情報ストアのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	CommandLogin       Command = "login"
	CommandLogout      Command = "logout"
	CommandWhoami      Command = "whoami"
	CommandPlaces      Command = "places"
)

var commands = []Command{
	CommandServe,
	CommandMigrate,
	CommandHealthcheck,
	CommandLogin,
	CommandLogout,
	CommandWhoami,
	CommandPlaces,
}

// ParseCommand はコマンドライン引数からサブコマンドとオプションを解析する。
// 引数が空の場合はCommandServeを返す。
// --help と --version は使い方を出力した上で空のCommandを返す。
func ParseCommand(args []string, out io.Writer) (Command, docopt.Opts, error) {
	if len(args) == 0 {
		args = []string{string(CommandServe)}
	}

	var printed bool
	parser := &docopt.Parser{
		HelpHandler: func(err error, text string) {
			if err == nil {
				printed = true
				fmt.Fprintln(out, text)
			}
		},
	}

	opts, err := parser.ParseArgs(usage, args, Version)
	if err != nil {
		return "", nil, fmt.Errorf("invalid arguments: %w\n\n%s", err, usage)
	}
	if printed {
		return "", opts, nil
	}

	for _, c := range commands {
		if ok, _ := opts.Bool(string(c)); ok {
			return c, opts, nil
		}
	}
	return "", opts, nil
}

// optString はオプションの値を返す。指定されていない場合は空文字列。
func optString(opts docopt.Opts, key string) string {
	v, _ := opts.String(key)
	return v
}
