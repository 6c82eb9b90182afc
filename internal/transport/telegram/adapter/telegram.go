package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"tgcast/internal/metrics"
	rtsup "tgcast/internal/runtime/supervisor"
	"tgcast/internal/storage"
	kit "tgcast/internal/transport"
	logx "tgcast/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
	// RatePerSec caps outgoing Bot API calls; 0 means DefaultRatePerSec.
	RatePerSec int
	// Offline skips the getMe handshake (tests).
	Offline bool
}

const DefaultRatePerSec = 25

// Registry is the part of storage the adapter needs. The Bot API cannot
// enumerate dialogs, so every observed update is recorded here instead.
type Registry interface {
	TouchConversation(ctx context.Context, c storage.Conversation) error
	ListConversations(ctx context.Context) ([]storage.Conversation, error)
}

// Adapter is the Telegram Bot API client.
type Adapter struct {
	cfg      Config
	log      logx.Logger
	registry Registry
	limiter  *rate.Limiter
	now      func() time.Time

	bot     *tele.Bot
	runMu   sync.Mutex
	running bool

	// sup owns the poll loop and the stop watcher. Created on Start, cancelled on Stop.
	sup *rtsup.Supervisor
}

var _ kit.Client = (*Adapter)(nil)

func New(cfg Config, registry Registry, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if registry == nil {
		return nil, errors.New("conversation registry is nil")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = DefaultRatePerSec
	}

	a := &Adapter{
		cfg:      cfg,
		log:      log,
		registry: registry,
		limiter:  rate.NewLimiter(rate.Limit(perSec), 1),
		now:      time.Now,
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  &tele.LongPoller{Timeout: timeout},
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			a.log.Warn("telegram handler error", logx.Err(err))
		},
	})
	if err != nil {
		return nil, err
	}
	a.bot = b
	a.registerHandlers()
	return a, nil
}

func (a *Adapter) registerHandlers() {
	onMessage := func(kind kit.ActivityKind) tele.HandlerFunc {
		return func(c tele.Context) error {
			m := c.Message()
			if m == nil || m.Chat == nil {
				return nil
			}
			at := m.Time()
			if kind == kit.ActivityEdit && m.LastEdit > 0 {
				at = time.Unix(m.LastEdit, 0)
			}
			a.record(kit.Activity{Kind: kind, ChatID: m.Chat.ID, Name: chatName(m.Chat), At: at})
			return nil
		}
	}

	a.bot.Handle(tele.OnText, onMessage(kit.ActivityMessage))
	a.bot.Handle(tele.OnMedia, onMessage(kit.ActivityMessage))
	a.bot.Handle(tele.OnChannelPost, onMessage(kit.ActivityMessage))
	a.bot.Handle(tele.OnEdited, onMessage(kit.ActivityEdit))
	a.bot.Handle(tele.OnAddedToGroup, onMessage(kit.ActivityMember))
	a.bot.Handle(tele.OnUserJoined, onMessage(kit.ActivityMember))

	a.bot.Handle(tele.OnCallback, func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		a.record(kit.Activity{Kind: kit.ActivityCallback, ChatID: chat.ID, Name: chatName(chat), At: a.now()})
		return c.Respond()
	})

	// Private chats appear here when a user starts or blocks the bot.
	a.bot.Handle(tele.OnMyChatMember, func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return nil
		}
		a.record(kit.Activity{Kind: kit.ActivityMember, ChatID: chat.ID, Name: chatName(chat), At: a.now()})
		return nil
	})
}

func (a *Adapter) record(act kit.Activity) {
	if act.ChatID == 0 {
		return
	}
	if act.At.IsZero() {
		act.At = a.now()
	}
	metrics.RegistryUpdates.WithLabelValues(string(act.Kind)).Inc()
	err := a.registry.TouchConversation(context.Background(), storage.Conversation{
		ChatID:       act.ChatID,
		Name:         act.Name,
		LastActivity: act.At,
	})
	if err != nil {
		a.log.Warn("registry update failed", logx.Int64("chat_id", act.ChatID), logx.Err(err))
	}
}

// chatName prefers the title (groups, channels), then the person's name, then the username.
func chatName(c *tele.Chat) string {
	if c == nil {
		return ""
	}
	if t := strings.TrimSpace(c.Title); t != "" {
		return t
	}
	full := strings.TrimSpace(strings.TrimSpace(c.FirstName) + " " + strings.TrimSpace(c.LastName))
	if full != "" {
		return full
	}
	return strings.TrimSpace(c.Username)
}

// ListConversations returns the registry, most recent activity first.
func (a *Adapter) ListConversations(ctx context.Context) ([]kit.Dialog, error) {
	convs, err := a.registry.ListConversations(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]kit.Dialog, 0, len(convs))
	for _, c := range convs {
		out = append(out, kit.Dialog{ID: c.ChatID, Name: c.Name, LastActivity: c.LastActivity})
	}
	return out, nil
}

func (a *Adapter) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	a.runMu.Lock()
	if a.running {
		a.runMu.Unlock()
		return nil
	}
	a.running = true
	a.sup = rtsup.New(ctx,
		rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.adapter"))),
		// adapter errors should not take down the whole app
		rtsup.WithCancelOnError(false),
	)
	sup := a.sup
	a.runMu.Unlock()

	sup.Go("telebot.stop_on_cancel", func(c context.Context) error {
		<-c.Done()
		a.bot.Stop()
		return nil
	})

	// Telebot's Start() can exit unexpectedly; restart it while the context is alive.
	sup.GoRestart("telebot.poll", func(c context.Context) error {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
		return nil
	}, 500*time.Millisecond, 10*time.Second, false)

	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.runMu.Lock()
	sup := a.sup
	a.sup = nil
	wasRunning := a.running
	a.running = false
	a.runMu.Unlock()

	if !wasRunning || sup == nil {
		a.log.Debug("telegram stop called but not running")
		return nil
	}
	a.log.Info("stopping")
	sup.Cancel()

	// Keep shutdown snappy even if getUpdates long-poll is still waiting.
	grace := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem > 0 && rem < grace {
			grace = rem
		}
	}
	wctx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := sup.Wait(wctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			a.log.Warn("telegram stop timed out", logx.Err(err))
			return nil
		}
		a.log.Debug("telegram stopped with supervisor error", logx.Err(err))
	}
	return nil
}

const telegramTextLimit = 4000

// splitTelegramText splits long messages into chunks Telegram accepts,
// preferring newline boundaries.
func splitTelegramText(s string, limit int) []string {
	if limit <= 0 {
		limit = telegramTextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}

	out := make([]string, 0, (len(rs)+limit-1)/limit)
	start := 0
	for start < len(rs) {
		end := min(start+limit, len(rs))

		if end < len(rs) {
			for i := end - 1; i > start; i-- {
				// Avoid extremely small chunks.
				if rs[i] == '\n' && i-start >= limit/3 {
					end = i + 1
					break
				}
			}
		}

		out = append(out, strings.TrimRight(string(rs[start:end]), "\n"))
		start = end
		for start < len(rs) && rs[start] == '\n' {
			start++
		}
	}
	return out
}

// Send delivers text to chatID as plain text, split into several messages
// when it exceeds Telegram's length limit. Calls are paced by the adapter's
// rate limiter.
func (a *Adapter) Send(ctx context.Context, chatID int64, text string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	chat := &tele.Chat{ID: chatID}
	for _, chunk := range splitTelegramText(text, telegramTextLimit) {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		if _, err := a.bot.Send(chat, chunk, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
			return err
		}
	}
	return nil
}
