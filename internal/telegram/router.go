package telegram

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/ykvlv/timekeeper/internal/store"
	"github.com/ykvlv/timekeeper/internal/timekeeper"
)

// Pending state keys used in conversational flows.
const (
	pendingTZ = "await_tz_text"
)

// Bot is the part of *tgbotapi.BotAPI used by the router.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type pendingKey struct {
	chatID int64
	userID int64
}

// Router wires Telegram updates to the timekeeper service and holds minimal
// in-memory state.
type Router struct {
	bot      Bot
	username string // bot username without '@'
	log      *zap.Logger
	svc      *timekeeper.Service
	state    map[pendingKey]string
	mu       sync.RWMutex
}

// NewRouter creates a new Telegram router.
func NewRouter(bot Bot, username string, log *zap.Logger, svc *timekeeper.Service) *Router {
	return &Router{
		bot:      bot,
		username: username,
		log:      log,
		svc:      svc,
		state:    make(map[pendingKey]string),
	}
}

// setPending sets a pending state for a user in a chat (non-persistent, in-memory).
func (r *Router) setPending(k pendingKey, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[k] = s
}

// takePending returns and clears the pending state for a user in a chat.
func (r *Router) takePending(k pendingKey) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state[k]
	delete(r.state, k)
	return s
}

// identity maps a Telegram sender to a service identity. Bots and unknown
// senders are rejected.
func identity(u *tgbotapi.User) (timekeeper.Identity, bool) {
	if u == nil || u.IsBot {
		return timekeeper.Identity{}, false
	}
	return timekeeper.Identity{
		ID:   strconv.FormatInt(u.ID, 10),
		Name: u.UserName,
	}, true
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		r.handleMessage(ctx, upd.Message)
		return
	}
	if upd.CallbackQuery != nil {
		r.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	id, ok := identity(msg.From)
	if !ok || msg.Chat == nil {
		return
	}
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}
	key := pendingKey{chatID: msg.Chat.ID, userID: msg.From.ID}

	var m Match
	if msg.IsCommand() {
		if !r.forMe(msg.CommandWithAt()) {
			return
		}
		m = RecognizeCommand(msg.Command(), msg.CommandArguments())
	} else {
		body, mentioned := stripMention(text, r.username)
		addressed := mentioned || msg.Chat.IsPrivate()
		m = Recognize(body, addressed)
		// A pending zone question only takes addressed text nothing else recognised.
		if addressed && m.Intent == IntentUnknown && r.takePending(key) == pendingTZ {
			reply, err := r.svc.SetTimezone(ctx, id, body)
			r.respond(msg, IntentTimezone, reply, err)
			return
		}
	}
	r.dispatch(ctx, msg, id, key, m)
}

// forMe reports whether a command like "timesheet@name" targets this bot.
func (r *Router) forMe(commandWithAt string) bool {
	_, at, found := strings.Cut(commandWithAt, "@")
	return !found || strings.EqualFold(at, r.username)
}

func (r *Router) dispatch(ctx context.Context, msg *tgbotapi.Message, id timekeeper.Identity, key pendingKey, m Match) {
	var (
		reply timekeeper.Reply
		err   error
	)
	switch m.Intent {
	case IntentNone:
		return
	case IntentStartWorking:
		reply, err = r.svc.StartWorking(ctx, id, msg.Time())
	case IntentFinishWorking:
		reply, err = r.svc.FinishWorking(ctx, id, msg.Time())
	case IntentHelp:
		r.sendHelp(msg.Chat)
		return
	case IntentTrack:
		reply, err = r.svc.OptIn(ctx, id)
	case IntentUntrack:
		reply, err = r.svc.OptOut(ctx, id)
	case IntentTimezone:
		if m.Arg == "" {
			r.askTZPresets(key)
			return
		}
		reply, err = r.svc.SetTimezone(ctx, id, m.Arg)
	case IntentTimesheet:
		reply, err = r.svc.Timesheet(ctx, id)
	case IntentDailyTimesheet:
		reply, err = r.svc.DailyTimesheet(ctx, id)
	case IntentContributions:
		reply, err = r.svc.Contributions(ctx, id)
	case IntentDebug:
		reply, err = r.svc.Debug(ctx, m.Arg)
	default:
		reply = timekeeper.Reply{Messages: []string{timekeeper.DefaultReply}}
	}
	r.respond(msg, m.Intent, reply, err)
}

// respond delivers reply, or logs err and sends the fallback text.
func (r *Router) respond(msg *tgbotapi.Message, intent Intent, reply timekeeper.Reply, err error) {
	if err != nil {
		r.fail(msg.Chat.ID, intent, err)
		return
	}
	if reply.Empty() {
		r.log.Debug("nothing to deliver", zap.String("intent", intent.String()))
		return
	}
	r.deliver(msg.Chat.ID, msg.MessageID, reply)
}

func (r *Router) fail(chatID int64, intent Intent, err error) {
	var se *store.StorageError
	if errors.As(err, &se) {
		r.log.Error("storage error",
			zap.String("intent", intent.String()),
			zap.String("op", se.Op),
			zap.Error(se.Err),
		)
	} else {
		r.log.Error("handler failed", zap.String("intent", intent.String()), zap.Error(err))
	}
	r.sendText(chatID, failureText)
}

// deliver sends the acknowledgement, the texts, then the attachment.
func (r *Router) deliver(chatID int64, replyTo int, reply timekeeper.Reply) {
	if reply.Ack {
		ack := tgbotapi.NewMessage(chatID, ackText)
		ack.ReplyToMessageID = replyTo
		r.send(ack)
	}
	for _, t := range reply.Messages {
		r.sendText(chatID, t)
	}
	if f := reply.File; f != nil {
		file := tgbotapi.FileBytes{Name: f.Name, Bytes: f.Data}
		if f.Text {
			doc := tgbotapi.NewDocument(chatID, file)
			doc.Caption = f.Comment
			r.send(doc)
		} else {
			photo := tgbotapi.NewPhoto(chatID, file)
			photo.Caption = f.Comment
			r.send(photo)
		}
	}
}

func (r *Router) sendHelp(chat *tgbotapi.Chat) {
	help := r.svc.Help()
	for _, t := range help.Messages {
		msg := tgbotapi.NewMessage(chat.ID, t)
		if chat.IsPrivate() {
			msg.ReplyMarkup = mainMenuKeyboard()
		}
		r.send(msg)
	}
}

// --- Timezone flow ---

func (r *Router) askTZPresets(key pendingKey) {
	msg := tgbotapi.NewMessage(key.chatID, askTZText)
	msg.ReplyMarkup = tzPresetsKeyboard()
	r.send(msg)
	r.setPending(key, pendingTZ)
}

func (r *Router) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	_ = r.answerCallback(cb.ID)
	id, ok := identity(cb.From)
	if !ok || cb.Message == nil || cb.Message.Chat == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	key := pendingKey{chatID: chatID, userID: cb.From.ID}

	switch {
	case cb.Data == "tz:custom":
		r.sendText(chatID, customTZText)
		r.setPending(key, pendingTZ)
	case strings.HasPrefix(cb.Data, "tz:"):
		r.takePending(key)
		reply, err := r.svc.SetTimezone(ctx, id, strings.TrimPrefix(cb.Data, "tz:"))
		if err != nil {
			r.fail(chatID, IntentTimezone, err)
			return
		}
		r.deliver(chatID, 0, reply)
	default:
		// Unknown callback: ignore silently
	}
}

// --- Generic helpers ---

func (r *Router) send(c tgbotapi.Chattable) {
	if _, err := r.bot.Send(c); err != nil {
		r.log.Warn("telegram send failed", zap.Error(err))
	}
}

func (r *Router) sendText(chatID int64, text string) {
	r.send(tgbotapi.NewMessage(chatID, text))
}

func (r *Router) answerCallback(id string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, ""))
	return err
}
