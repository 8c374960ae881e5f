package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const memoryConfig = `
telegram:
  token: "123:abc"
  admin_id: 77
storage:
  driver: memory
escrow:
  bot_username: "@escrow_bot"
`

func TestLoadMemoryDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, memoryConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UsesDatabase() {
		t.Fatal("memory driver should not use the database")
	}
	if cfg.Telegram.AdminID != 77 || cfg.Telegram.RunMode != "longpoll" {
		t.Fatalf("telegram = %+v", cfg.Telegram)
	}
	if cfg.Escrow.BotUsername != "escrow_bot" {
		t.Fatalf("bot username = %q", cfg.Escrow.BotUsername)
	}
	if cfg.Escrow.IDLength != 12 || cfg.Escrow.MaxIDAttempts != 5 {
		t.Fatalf("escrow = %+v", cfg.Escrow)
	}
	if cfg.CoreConfig() != &cfg.Config {
		t.Fatal("CoreConfig must point at the embedded config")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("BOT_TOKEN", "999:env")
	t.Setenv("STORAGE_DRIVER", "postgres")
	t.Setenv("DB_HOST", "db")
	t.Setenv("DB_NAME", "escrow")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("KAFKA_TOPIC", "deals")

	cfg, err := Load(writeConfig(t, memoryConfig))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Telegram.Token != "999:env" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if !cfg.UsesDatabase() || cfg.Database.Port != "5432" || cfg.Database.SSLMode != "disable" {
		t.Fatalf("database = %+v", cfg.Database)
	}
	if strings.Join(cfg.Kafka.Brokers, ",") != "k1:9092,k2:9092" {
		t.Fatalf("brokers = %q", cfg.Kafka.Brokers)
	}
}

func TestNormalizeRejects(t *testing.T) {
	cases := map[string]string{
		"driver": `
telegram: {token: "1:a"}
storage: {driver: sqlite}
`,
		"postgres without host": `
telegram: {token: "1:a"}
`,
		"id length": `
telegram: {token: "1:a"}
storage: {driver: memory}
escrow: {id_length: 4}
`,
		"kafka topic": `
telegram: {token: "1:a"}
storage: {driver: memory}
kafka: {brokers: ["k1:9092"]}
`,
		"token": `
storage: {driver: memory}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, body)); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}
