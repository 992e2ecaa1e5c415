package signal

import (
	"errors"
	"strings"
	"testing"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

var defaults = Defaults{SafetyBuffer: 0, BaseOrderFactor: 1}

func TestParseFlatPayload(t *testing.T) {
	body := `{
		"symbol": "doge-usdt",
		"botName": "dca1",
		"apiKey": "k",
		"apiSecret": "s",
		"positionSide": "long",
		"leverage": 2,
		"pyramiding": 1.4,
		"safetyBuffer": 96,
		"baseOrderFactor": 0.001,
		"takeProfitPercent": 2,
		"stopLossBufferPercent": 1,
		"action": "increase",
		"afterHours": "24",
		"afterSafetyOrders": 4,
		"decayedTakeProfitPercent": 0.5,
		"alertAfterSafetyOrders": 6,
		"idempotencyKey": "abc"
	}`
	ev, err := Parse([]byte(body), defaults)
	if err != nil {
		t.Fatal(err)
	}
	want := domain.Event{
		IdempotencyKey:        "abc",
		Identity:              domain.BotIdentity{Symbol: "DOGE-USDT", BotName: "dca1"},
		Credentials:           domain.Credentials{APIKey: "k", APISecret: "s"},
		Side:                  domain.SideLong,
		Action:                domain.ActionIncrease,
		Leverage:              2,
		SafetyBuffer:          96,
		BaseOrderFactor:       0.001,
		GrowthFactor:          1.4,
		TakeProfitPercent:     2,
		StopLossBufferPercent: 1,
		Decay: domain.DecayRule{
			AfterHours:               24,
			AfterSafetyOrders:        4,
			DecayedTakeProfitPercent: 0.5,
		},
		AlertAfterSafetyOrders: 6,
	}
	if ev != want {
		t.Fatalf("Parse =\n%+v\nwant\n%+v", ev, want)
	}
}

func TestParseAliases(t *testing.T) {
	body := `{
		"symbol": "BTC-USDT", "bot_name": "b", "api_key": "k", "secret_key": "s",
		"position_side": "SHORT", "leverage": "3", "growth_factor": 2,
		"tp_percent": 1.5, "sl_percent": 0.5, "beenden": "true", "action": "CLOSE"
	}`
	ev, err := Parse([]byte(body), defaults)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Identity.BotName != "b" || ev.Credentials.APISecret != "s" || ev.Side != domain.SideShort {
		t.Fatalf("aliases not resolved: %+v", ev)
	}
	if ev.Leverage != 3 || ev.GrowthFactor != 2 || ev.TakeProfitPercent != 1.5 || ev.StopLossBufferPercent != 0.5 {
		t.Fatalf("numbers not resolved: %+v", ev)
	}
	if !ev.Stop || ev.Action != domain.ActionClose {
		t.Fatalf("stop=%v action=%s", ev.Stop, ev.Action)
	}
	if ev.BaseOrderFactor != 1 {
		t.Fatalf("default baseOrderFactor not applied: %v", ev.BaseOrderFactor)
	}
}

func TestParseLegacyEnvelope(t *testing.T) {
	body := `{
		"RENDER": {"symbol": "ETH-USDT", "api_key": "k", "secret_key": "s", "position_side": "short", "tp_percent": 3},
		"vyn": {"action": ""}
	}`
	ev, err := Parse([]byte(body), defaults)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Identity.BotName != "ETH-USDT" || ev.Side != domain.SideShort || ev.Action != domain.ActionBase {
		t.Fatalf("legacy identity/side/action = %+v", ev)
	}
	if ev.Leverage != 1 || ev.TakeProfitPercent != 3 || ev.StopLossBufferPercent != 1 || ev.BaseOrderFactor != 0.98 {
		t.Fatalf("legacy defaults = %+v", ev)
	}
}

func TestParseLegacyCloseAction(t *testing.T) {
	body := `{"RENDER": {"symbol": "ETH-USDT", "api_key": "k", "secret_key": "s"}, "vyn": {"action": "close"}}`
	ev, err := Parse([]byte(body), defaults)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Action != domain.ActionClose || ev.Side != domain.SideLong {
		t.Fatalf("action=%s side=%s", ev.Action, ev.Side)
	}
}

func TestParseInvalid(t *testing.T) {
	base := `"symbol": "X-USDT", "botName": "b", "apiKey": "k", "apiSecret": "s", "positionSide": "LONG", "pyramiding": 1.4, "takeProfitPercent": 2, "stopLossBufferPercent": 1`
	tests := []struct {
		name    string
		body    string
		problem string
	}{
		{"not json", `{`, "decode body"},
		{"missing symbol", `{"botName": "b"}`, "symbol is required"},
		{"missing leverage", `{` + base + `}`, "leverage is required"},
		{"bad side", `{` + base + `, "leverage": 2, "positionSide": "flat", "position_side": "flat"}`, "must be LONG or SHORT"},
		{"bad number", `{` + base + `, "leverage": "two"}`, "leverage is not a number"},
		{"fractional leverage", `{` + base + `, "leverage": 2.5}`, "whole number"},
		{"leverage range", `{` + base + `, "leverage": 500}`, "out of range"},
		{"unknown action", `{` + base + `, "leverage": 2, "action": "flip"}`, "not one of"},
		{"conflicting aliases", `{` + base + `, "leverage": 2, "tp_percent": 5}`, "disagree"},
		{"decay without trigger", `{` + base + `, "leverage": 2, "decayedTakeProfitPercent": 1}`, "needs afterHours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.body), defaults)
			if !errors.Is(err, domain.ErrInvalidInput) {
				t.Fatalf("err = %v, want ErrInvalidInput", err)
			}
			if !strings.Contains(err.Error(), tt.problem) {
				t.Fatalf("err = %v, want mention of %q", err, tt.problem)
			}
		})
	}
}

func TestParseCloseNeedsNoSizing(t *testing.T) {
	body := `{"symbol": "X-USDT", "botName": "b", "apiKey": "k", "apiSecret": "s", "positionSide": "LONG", "action": "close"}`
	if _, err := Parse([]byte(body), defaults); err != nil {
		t.Fatalf("close rejected: %v", err)
	}
}
