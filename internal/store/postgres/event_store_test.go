package postgres

import (
	"strings"
	"testing"
	"time"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

func TestListQuery(t *testing.T) {
	since := time.Unix(1700000000, 0)
	query, args := listQuery(domain.ListOpts{Symbol: "DOGE-USDT", Bot: "dca1", Since: &since, Limit: 50, Offset: 10})

	for _, want := range []string{
		"symbol = $1",
		"bot_name = $2",
		"created_at >= $3",
		"ORDER BY created_at DESC LIMIT $4 OFFSET $5",
	} {
		if !strings.Contains(query, want) {
			t.Errorf("query missing %q: %s", want, query)
		}
	}
	if len(args) != 5 || args[0] != "DOGE-USDT" || args[3] != 50 {
		t.Fatalf("args = %v", args)
	}

	query, args = listQuery(domain.ListOpts{})
	if strings.Contains(query, "$") || len(args) != 0 {
		t.Fatalf("unfiltered query = %s %v", query, args)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	names, err := migrationFiles()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) == 0 || names[0] != "001_events.sql" {
		t.Fatalf("migrations = %v", names)
	}
}

func TestDSN(t *testing.T) {
	got := DSN(ClientConfig{Host: "db", Database: "dcabot", User: "u", Password: "p"})
	if got != "postgres://u:p@db:5432/dcabot?sslmode=disable" {
		t.Fatalf("DSN = %q", got)
	}
	if got := DSN(ClientConfig{DSN: "postgres://x"}); got != "postgres://x" {
		t.Fatalf("DSN = %q", got)
	}
}
