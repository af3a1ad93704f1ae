package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// MigrateAction は migrate サブコマンドの操作を表す。
type MigrateAction string

const (
	// MigrateUp は未適用のマイグレーションをすべて適用する。
	MigrateUp MigrateAction = "up"
	// MigrateDown は直近のマイグレーションを1つ戻す。
	MigrateDown MigrateAction = "down"
	// MigrateVersion は現在のスキーマバージョンを表示する。
	MigrateVersion MigrateAction = "version"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "serve":
		return CommandServe
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}

// ParseMigrateAction は migrate に続く引数から操作を解析する。
// 省略時は MigrateUp、サポート外の値の場合は false を返す。
func ParseMigrateAction(args []string) (MigrateAction, bool) {
	if len(args) < 2 {
		return MigrateUp, true
	}

	switch MigrateAction(args[1]) {
	case MigrateUp, MigrateDown, MigrateVersion:
		return MigrateAction(args[1]), true
	default:
		return "", false
	}
}
