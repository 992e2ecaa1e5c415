package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v3"

	"github.com/Runner89/mexc-trading-bot/internal/domain"
	"github.com/Runner89/mexc-trading-bot/internal/engine"
)

// BotControl is the operator surface the command bot drives.
type BotControl interface {
	Snapshot(ctx context.Context, id domain.BotIdentity) (engine.BotSnapshot, error)
	Resume(ctx context.Context, id domain.BotIdentity) error
}

// CommandBot answers /status and /resume in the configured Telegram chat.
// Messages from any other chat are ignored.
type CommandBot struct {
	bot     *tele.Bot
	control BotControl
	chatID  int64
	timeout time.Duration
	logger  *slog.Logger
}

// NewCommandBot connects to the Bot API with long polling. apiURL may be
// empty for the public endpoint.
func NewCommandBot(apiURL, token, chatID string, control BotControl, logger *slog.Logger) (*CommandBot, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chatID), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("notify: telegram chat id %q: %w", chatID, err)
	}
	b, err := tele.NewBot(tele.Settings{
		URL:    apiURL,
		Token:  token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("notify: telegram bot: %w", err)
	}
	c := &CommandBot{
		bot:     b,
		control: control,
		chatID:  id,
		timeout: 10 * time.Second,
		logger:  logger.With(slog.String("component", "telegram-commands")),
	}

	b.Use(func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(ctx tele.Context) error {
			if ctx.Chat() == nil || ctx.Chat().ID != c.chatID {
				return nil
			}
			return next(ctx)
		}
	})
	for _, cmd := range []string{"/status", "/resume", "/help"} {
		b.Handle(cmd, c.handle)
	}
	return c, nil
}

// Run polls for commands until ctx is cancelled.
func (c *CommandBot) Run(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.bot.Start()
	}()
	c.logger.Info("polling for commands")
	<-ctx.Done()
	c.bot.Stop()
	<-done
	return nil
}

func (c *CommandBot) handle(tc tele.Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	cmd := strings.TrimPrefix(strings.Fields(tc.Text())[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return tc.Send(c.reply(ctx, cmd, tc.Args()))
}

// reply executes one command and renders the answer.
func (c *CommandBot) reply(ctx context.Context, cmd string, args []string) string {
	if cmd == "help" {
		return "/status SYMBOL BOT\n/resume SYMBOL BOT"
	}
	if len(args) != 2 {
		return fmt.Sprintf("usage: /%s SYMBOL BOT", cmd)
	}
	id := domain.BotIdentity{Symbol: strings.ToUpper(args[0]), BotName: args[1]}

	switch cmd {
	case "status":
		snap, err := c.control.Snapshot(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Sprintf("%s: not seen since start", id)
		}
		if err != nil {
			return fmt.Sprintf("%s: %v", id, err)
		}
		return formatSnapshot(id, snap)
	case "resume":
		if err := c.control.Resume(ctx, id); err != nil {
			c.logger.Error("resume failed", slog.String("identity", id.Key()), slog.String("error", err.Error()))
			return fmt.Sprintf("%s: resume failed: %v", id, err)
		}
		return fmt.Sprintf("%s: stop flag cleared", id)
	default:
		return "unknown command, try /help"
	}
}

func formatSnapshot(id domain.BotIdentity, snap engine.BotSnapshot) string {
	st := snap.State
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s (%s)\n", id, st.Side, st.Phase, st.Status)
	if st.Open() {
		fmt.Fprintf(&b, "qty %.8g avg %.8g liq %.8g\n", st.Quantity, st.AvgEntryPrice, st.LiquidationPrice)
		fmt.Fprintf(&b, "safety orders %d\n", st.SafetyOrderCount)
		fmt.Fprintf(&b, "exits %s tp %.8g sl %.8g", snap.Exit, snap.ExitPair.TakeProfitPrice, snap.ExitPair.StopLossPrice)
	}
	if st.StopRequested {
		b.WriteString("\nstop requested")
	}
	return strings.TrimRight(b.String(), "\n")
}
