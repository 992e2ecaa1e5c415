// Package signal turns inbound webhook JSON into a validated domain.Event.
// Every recognized field and its aliases are listed in fieldAliases; both
// the flat payload and the legacy {"RENDER": {...}, "vyn": {...}} envelope
// are accepted.
package signal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
)

// Defaults fill optional sizing fields absent from a flat payload.
type Defaults struct {
	SafetyBuffer    float64
	BaseOrderFactor float64
}

// Canonical field names.
const (
	fSymbol          = "symbol"
	fBotName         = "botName"
	fAPIKey          = "apiKey"
	fAPISecret       = "apiSecret"
	fPositionSide    = "positionSide"
	fLeverage        = "leverage"
	fGrowthFactor    = "growthFactor"
	fSafetyBuffer    = "safetyBuffer"
	fBaseOrderFactor = "baseOrderFactor"
	fTakeProfit      = "takeProfitPercent"
	fStopLossBuffer  = "stopLossBufferPercent"
	fAction          = "action"
	fStop            = "beenden"
	fAfterHours      = "afterHours"
	fAfterSafety     = "afterSafetyOrders"
	fDecayedTP       = "decayedTakeProfitPercent"
	fAlertAfter      = "alertAfterSafetyOrders"
	fIdempotencyKey  = "idempotencyKey"
)

var fieldAliases = map[string][]string{
	fSymbol:          {"symbol"},
	fBotName:         {"botName", "botname", "bot_name"},
	fAPIKey:          {"apiKey", "api_key"},
	fAPISecret:       {"apiSecret", "secret_key", "api_secret"},
	fPositionSide:    {"positionSide", "position_side"},
	fLeverage:        {"leverage"},
	fGrowthFactor:    {"pyramiding", "growthFactor", "growth_factor"},
	fSafetyBuffer:    {"safetyBuffer", "safety_buffer"},
	fBaseOrderFactor: {"baseOrderFactor", "base_order_factor"},
	fTakeProfit:      {"takeProfitPercent", "tp_percent"},
	fStopLossBuffer:  {"stopLossBufferPercent", "sl_buffer_percent", "sl_percent"},
	fAction:          {"action"},
	fStop:            {"beenden"},
	fAfterHours:      {"afterHours", "after_hours"},
	fAfterSafety:     {"afterSafetyOrders", "after_safety_orders"},
	fDecayedTP:       {"decayedTakeProfitPercent", "decayed_tp_percent"},
	fAlertAfter:      {"alertAfterSafetyOrders", "alert_after_safety_orders"},
	fIdempotencyKey:  {"idempotencyKey", "idempotency_key"},
}

// legacyDefaults reproduce the behaviour of the envelope format: a 2%
// margin reserve, 1x leverage, 1% take-profit and stop-loss buffer.
var legacyDefaults = map[string]any{
	fPositionSide:    "LONG",
	fLeverage:        json.Number("1"),
	fGrowthFactor:    json.Number("1"),
	fSafetyBuffer:    json.Number("0"),
	fBaseOrderFactor: json.Number("0.98"),
	fTakeProfit:      json.Number("1"),
	fStopLossBuffer:  json.Number("1"),
}

// Parse decodes and validates a webhook body. Every failure wraps
// domain.ErrInvalidInput and lists all problems found.
func Parse(body []byte, d Defaults) (domain.Event, error) {
	raw := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return domain.Event{}, fmt.Errorf("%w: decode body: %v", domain.ErrInvalidInput, err)
	}

	p := &payload{fields: raw}
	if render, ok := raw["RENDER"].(map[string]any); ok {
		p.fields = flatten(raw, render)
		p.legacy = true
	}
	if vyn, ok := raw["vyn"].(map[string]any); ok {
		if a, ok := vyn["action"]; ok {
			if _, set := p.fields["action"]; !set {
				p.fields["action"] = a
			}
		}
	}

	var ev domain.Event
	ev.Identity.Symbol = strings.ToUpper(p.str(fSymbol, true))
	ev.Identity.BotName = p.str(fBotName, !p.legacy)
	if ev.Identity.BotName == "" && p.legacy {
		ev.Identity.BotName = ev.Identity.Symbol
	}
	ev.Credentials.APIKey = p.str(fAPIKey, true)
	ev.Credentials.APISecret = p.str(fAPISecret, true)

	switch a := strings.ToLower(p.str(fAction, false)); a {
	case "", string(domain.ActionBase):
		ev.Action = domain.ActionBase
	case string(domain.ActionIncrease):
		ev.Action = domain.ActionIncrease
	case string(domain.ActionClose):
		ev.Action = domain.ActionClose
	default:
		p.problem("action %q is not one of base, increase, close", a)
	}
	entry := ev.Action != domain.ActionClose

	if side := p.str(fPositionSide, true); side != "" {
		s, err := domain.ParseSide(side)
		if err != nil {
			p.problem("positionSide %q must be LONG or SHORT", side)
		}
		ev.Side = s
	}
	ev.Stop = p.boolean(fStop)
	ev.IdempotencyKey = p.str(fIdempotencyKey, false)

	ev.Leverage = p.integer(fLeverage, entry, 0)
	ev.GrowthFactor = p.number(fGrowthFactor, entry, 0)
	ev.TakeProfitPercent = p.number(fTakeProfit, entry, 0)
	ev.StopLossBufferPercent = p.number(fStopLossBuffer, entry, 0)
	ev.SafetyBuffer = p.number(fSafetyBuffer, false, d.SafetyBuffer)
	ev.BaseOrderFactor = p.number(fBaseOrderFactor, false, d.BaseOrderFactor)
	ev.Decay = domain.DecayRule{
		AfterHours:               p.number(fAfterHours, false, 0),
		AfterSafetyOrders:        p.integer(fAfterSafety, false, 0),
		DecayedTakeProfitPercent: p.number(fDecayedTP, false, 0),
	}
	ev.AlertAfterSafetyOrders = p.integer(fAlertAfter, false, 0)

	if entry && len(p.problems) == 0 {
		validate(p, ev)
	}
	if len(p.problems) > 0 {
		return domain.Event{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, strings.Join(p.problems, "; "))
	}
	return ev, nil
}

func validate(p *payload, ev domain.Event) {
	if ev.Leverage < 1 || ev.Leverage > 150 {
		p.problem("leverage %d out of range 1..150", ev.Leverage)
	}
	if ev.GrowthFactor <= 0 {
		p.problem("pyramiding must be positive")
	}
	if ev.TakeProfitPercent <= 0 {
		p.problem("takeProfitPercent must be positive")
	}
	if ev.StopLossBufferPercent < 0 {
		p.problem("stopLossBufferPercent must not be negative")
	}
	if ev.SafetyBuffer < 0 {
		p.problem("safetyBuffer must not be negative")
	}
	if ev.BaseOrderFactor <= 0 {
		p.problem("baseOrderFactor must be positive")
	}
	d := ev.Decay
	if d.AfterHours < 0 || d.AfterSafetyOrders < 0 || d.DecayedTakeProfitPercent < 0 {
		p.problem("decay thresholds must not be negative")
	}
	if d.DecayedTakeProfitPercent > 0 && d.AfterHours == 0 && d.AfterSafetyOrders == 0 {
		p.problem("decayedTakeProfitPercent needs afterHours or afterSafetyOrders")
	}
	if ev.AlertAfterSafetyOrders < 0 {
		p.problem("alertAfterSafetyOrders must not be negative")
	}
}

// flatten merges the RENDER object with the top-level fields and fills
// legacy defaults for fields given under none of their aliases.
func flatten(raw, render map[string]any) map[string]any {
	out := make(map[string]any, len(raw)+len(render)+len(legacyDefaults))
	for k, v := range raw {
		if k != "RENDER" && k != "vyn" {
			out[k] = v
		}
	}
	for k, v := range render {
		out[k] = v
	}
	for canonical, v := range legacyDefaults {
		present := false
		for _, alias := range fieldAliases[canonical] {
			if _, ok := out[alias]; ok {
				present = true
				break
			}
		}
		if !present {
			out[canonical] = v
		}
	}
	return out
}

type payload struct {
	fields   map[string]any
	legacy   bool
	problems []string
}

func (p *payload) problem(format string, args ...any) {
	p.problems = append(p.problems, fmt.Sprintf(format, args...))
}

// lookup returns the value of the first alias present. Aliases carrying
// different values are reported as a problem.
func (p *payload) lookup(canonical string) (any, bool) {
	var (
		found any
		name  string
	)
	for _, alias := range fieldAliases[canonical] {
		v, ok := p.fields[alias]
		if !ok || v == nil {
			continue
		}
		if name == "" {
			found, name = v, alias
			continue
		}
		if fmt.Sprint(v) != fmt.Sprint(found) {
			p.problem("%s and %s disagree (%v vs %v)", name, alias, found, v)
		}
	}
	return found, name != ""
}

func (p *payload) str(canonical string, required bool) string {
	v, ok := p.lookup(canonical)
	if !ok {
		if required {
			p.problem("%s is required", canonical)
		}
		return ""
	}
	var s string
	switch t := v.(type) {
	case string:
		s = t
	case json.Number:
		s = t.String()
	default:
		p.problem("%s must be a string", canonical)
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" && required {
		p.problem("%s is required", canonical)
	}
	return s
}

func (p *payload) number(canonical string, required bool, def float64) float64 {
	f, ok := p.float(canonical, required)
	if !ok {
		return def
	}
	return f
}

func (p *payload) integer(canonical string, required bool, def int) int {
	f, ok := p.float(canonical, required)
	if !ok {
		return def
	}
	if f != math.Trunc(f) {
		p.problem("%s must be a whole number: %v", canonical, f)
		return def
	}
	return int(f)
}

// float reports false when the field is absent or unparseable.
func (p *payload) float(canonical string, required bool) (float64, bool) {
	v, ok := p.lookup(canonical)
	if !ok {
		if required {
			p.problem("%s is required", canonical)
		}
		return 0, false
	}
	var (
		f   float64
		err error
	)
	switch t := v.(type) {
	case json.Number:
		f, err = t.Float64()
	case string:
		f, err = strconv.ParseFloat(strings.TrimSpace(t), 64)
	default:
		err = fmt.Errorf("unsupported type %T", v)
	}
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		p.problem("%s is not a number: %v", canonical, v)
		return 0, false
	}
	return f, true
}

func (p *payload) boolean(canonical string) bool {
	v, ok := p.lookup(canonical)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case json.Number:
		return t.String() != "0"
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			p.problem("%s is not a boolean: %q", canonical, t)
		}
		return b
	}
	p.problem("%s is not a boolean", canonical)
	return false
}
