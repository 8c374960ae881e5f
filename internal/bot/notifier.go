package bot

import (
	"context"
	"errors"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

	"github.com/fihsr/giftescrow/core/telegram/helpers"
	"github.com/fihsr/giftescrow/internal/flow"
	"github.com/fihsr/giftescrow/internal/metrics"
)

// ActionPrefix prefixes the dispatcher action of every notice.
const ActionPrefix = "notice."

// ErrNotAttached is returned by Notify before the bot is running.
var ErrNotAttached = errors.New("bot: notifier not attached")

// Notifier renders notices and hands them to the send dispatcher.
type Notifier struct {
	mu    sync.RWMutex
	api   tele.API
	texts Texts
}

// NewNotifier returns a detached notifier; texts.BotUsername may be empty until Attach.
func NewNotifier(texts Texts) *Notifier {
	return &Notifier{texts: texts}
}

// Attach binds the running bot. The configured username wins over the one
// reported by Telegram.
func (n *Notifier) Attach(api tele.API, username string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.api = api
	if n.texts.BotUsername == "" {
		n.texts.BotUsername = strings.TrimPrefix(username, "@")
	}
}

// Detach drops the bot; later notices fail with ErrNotAttached.
func (n *Notifier) Detach() {
	n.mu.Lock()
	n.api = nil
	n.mu.Unlock()
}

// Notify implements flow.Notifier.
func (n *Notifier) Notify(ctx context.Context, userID int64, notice flow.Notice) error {
	n.mu.RLock()
	api, texts := n.api, n.texts
	n.mu.RUnlock()
	if api == nil {
		return ErrNotAttached
	}
	text, markup := texts.Render(notice)
	return helpers.SendMDTo(ctx, api, tele.ChatID(userID), ActionPrefix+string(notice.Kind), text, markup)
}

// CountFailures returns a dispatcher failure hook that counts failed notices.
func CountFailures(m *metrics.Collector) func(ctx context.Context, action string, err error) {
	return func(_ context.Context, action string, _ error) {
		if kind, ok := strings.CutPrefix(action, ActionPrefix); ok {
			m.NotifyFailed(kind)
		}
	}
}

// OnPanic tells the sender of a crashed update that the service is unavailable.
func (n *Notifier) OnPanic(c tele.Context, _ any) {
	u := c.Sender()
	if u == nil {
		return
	}
	_ = n.Notify(helpers.BuildContext(c), u.ID, flow.Notice{Kind: flow.NoticeUnavailable})
}
