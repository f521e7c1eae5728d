package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbot "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"

	"options_bot/internal/models"
	engine "options_bot/internal/modules/engine/service"
	"options_bot/pkg/logger"
)

// Notifier канал оператора: получает события движка и принимает команды.
type Notifier interface {
	Publish(ev models.Event)
	Send(msg string)
	Sendf(format string, args ...any)
	Run(ctx context.Context, ctl Controller)
}

// Controller: то, чем оператор управляет из чата.
type Controller interface {
	Start(ctx context.Context) error
	Stop(reason string)
	Status() engine.Status
	ClearHistory(ctx context.Context) error
}

type botAPI interface {
	Send(c tgbot.Chattable) (tgbot.Message, error)
	Request(c tgbot.Chattable) (*tgbot.APIResponse, error)
	GetUpdatesChan(config tgbot.UpdateConfig) tgbot.UpdatesChannel
	StopReceivingUpdates()
}

const (
	btnStart  = "▶️ Запустить бота"
	btnStop   = "⏹ Остановить бота"
	btnStatus = "📊 Статус"

	confirmTimeout = time.Minute
)

// Telegram: алерты и смены состояния в чат оператора + команды /start /stop /status /clear.
type Telegram struct {
	bot    botAPI
	chatID int64
	queue  chan string

	mu       sync.Mutex
	pendings map[string]*pending
}

type pending struct {
	ch     chan bool
	msgID  int
	prompt string
}

func NewTelegram(token string, chatID int64) (*Telegram, error) {
	b, err := tgbot.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return newTelegram(b, chatID), nil
}

func newTelegram(bot botAPI, chatID int64) *Telegram {
	return &Telegram{
		bot:      bot,
		chatID:   chatID,
		queue:    make(chan string, 64),
		pendings: make(map[string]*pending),
	}
}

// Publish не блокирует: при переполненной очереди сообщение теряется.
func (t *Telegram) Publish(ev models.Event) {
	if text, ok := FormatEvent(ev); ok {
		t.Send(text)
	}
}

func (t *Telegram) Send(msg string) {
	select {
	case t.queue <- msg:
	default:
		logger.Warn("[TG] queue full, dropped: %s", msg)
	}
}

func (t *Telegram) Sendf(format string, args ...any) { t.Send(fmt.Sprintf(format, args...)) }

// Run отправляет очередь и слушает команды, пока жив ctx.
func (t *Telegram) Run(ctx context.Context, ctl Controller) {
	go t.sendLoop(ctx)
	if ctl == nil {
		return
	}

	u := tgbot.NewUpdate(0)
	u.Timeout = 30
	u.AllowedUpdates = []string{"message", "callback_query"}
	updates := t.bot.GetUpdatesChan(u)
	defer t.bot.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, ctl, upd)
		}
	}
}

func (t *Telegram) sendLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case text := <-t.queue:
			if t.chatID == 0 {
				continue
			}
			if _, err := t.bot.Send(tgbot.NewMessage(t.chatID, text)); err != nil {
				logger.Warn("[TG] send: %v", err)
			}
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, ctl Controller, upd tgbot.Update) {
	if cb := upd.CallbackQuery; cb != nil {
		if cb.Message == nil || cb.Message.Chat == nil || cb.Message.Chat.ID != t.chatID {
			return
		}
		t.HandleCallback(cb)
		return
	}

	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.Chat.ID != t.chatID {
		return
	}

	cmd := msg.Command()
	switch msg.Text {
	case btnStart:
		cmd = "start"
	case btnStop:
		cmd = "stop"
	case btnStatus:
		cmd = "status"
	}

	switch cmd {
	case "start":
		if err := ctl.Start(ctx); err != nil {
			t.Sendf("❗️ Не удалось запустить: %v", err)
		}
	case "stop":
		ctl.Stop("stopped from telegram")
	case "status":
		t.Send(FormatStatus(ctl.Status()))
	case "clear":
		go func() {
			if !t.Confirm(ctx, "Очистить историю сделок за день?", confirmTimeout) {
				return
			}
			if err := ctl.ClearHistory(ctx); err != nil {
				t.Sendf("❗️ Не удалось очистить: %v", err)
				return
			}
			t.Send("🧹 История очищена")
		}()
	case "help":
		t.sendMenu()
	}
}

func (t *Telegram) sendMenu() {
	msg := tgbot.NewMessage(t.chatID, "Команды: /start /stop /status /clear")
	msg.ReplyMarkup = tgbot.NewReplyKeyboard(
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnStart),
			tgbot.NewKeyboardButton(btnStop),
		),
		tgbot.NewKeyboardButtonRow(
			tgbot.NewKeyboardButton(btnStatus),
		),
	)
	if _, err := t.bot.Send(msg); err != nil {
		logger.Warn("[TG] menu: %v", err)
	}
}

// HandleCallback разбирает CONF::token / REJ::token от кнопок Confirm.
func (t *Telegram) HandleCallback(cb *tgbot.CallbackQuery) {
	if cb == nil {
		return
	}
	_, _ = t.bot.Request(tgbot.NewCallback(cb.ID, ""))

	verb, token, ok := strings.Cut(cb.Data, "::")
	if !ok || token == "" {
		return
	}

	t.mu.Lock()
	p, ok := t.pendings[token]
	delete(t.pendings, token)
	var msgID int
	if ok {
		msgID = p.msgID
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	accepted := verb == "CONF"
	p.ch <- accepted

	status := "❌ Отклонено"
	if accepted {
		status = "✅ Подтверждено"
	}
	_ = t.editReplyMarkupRemove(msgID)
	_ = t.editText(msgID, fmt.Sprintf("%s\n\n%s", p.prompt, status))
}

// Confirm: сообщение с кнопками и ожиданием ответа.
func (t *Telegram) Confirm(ctx context.Context, prompt string, timeout time.Duration) bool {
	token := uuid.NewString()
	p := &pending{
		ch:     make(chan bool, 1),
		prompt: prompt,
	}

	btnYes := tgbot.NewInlineKeyboardButtonData("✅ Да", "CONF::"+token)
	btnNo := tgbot.NewInlineKeyboardButtonData("❌ Нет", "REJ::"+token)
	msg := tgbot.NewMessage(t.chatID, prompt)
	msg.ReplyMarkup = tgbot.NewInlineKeyboardMarkup(tgbot.NewInlineKeyboardRow(btnYes, btnNo))

	// ответ может прийти раньше, чем вернётся Send
	t.mu.Lock()
	t.pendings[token] = p
	t.mu.Unlock()

	sent, err := t.bot.Send(msg)
	if err != nil {
		t.mu.Lock()
		delete(t.pendings, token)
		t.mu.Unlock()
		logger.Warn("[TG] confirm: %v", err)
		return false
	}
	t.mu.Lock()
	p.msgID = sent.MessageID
	t.mu.Unlock()

	tmr := time.NewTimer(timeout)
	defer tmr.Stop()

	var note string
	select {
	case ok := <-p.ch:
		return ok
	case <-tmr.C:
		note = "⏳ Таймаут"
	case <-ctx.Done():
		note = "⛔️ Отменено"
	}

	t.mu.Lock()
	delete(t.pendings, token)
	msgID := p.msgID
	t.mu.Unlock()
	_ = t.editReplyMarkupRemove(msgID)
	_ = t.editText(msgID, fmt.Sprintf("%s\n\n%s", prompt, note))
	return false
}

func (t *Telegram) editReplyMarkupRemove(msgID int) error {
	rm := tgbot.InlineKeyboardMarkup{InlineKeyboard: [][]tgbot.InlineKeyboardButton{}}
	_, err := t.bot.Request(tgbot.NewEditMessageReplyMarkup(t.chatID, msgID, rm))
	return err
}

func (t *Telegram) editText(msgID int, text string) error {
	_, err := t.bot.Request(tgbot.NewEditMessageText(t.chatID, msgID, text))
	return err
}

// Stdout используется без телеграма, события просто пишутся в лог.
type Stdout struct{}

func NewStdout() *Stdout { return &Stdout{} }

func (s *Stdout) Publish(ev models.Event) {
	if text, ok := FormatEvent(ev); ok {
		s.Send(text)
	}
}

func (s *Stdout) Send(msg string)                  { logger.Info("[NOTIFY] %s", msg) }
func (s *Stdout) Sendf(format string, args ...any) { s.Send(fmt.Sprintf(format, args...)) }
func (s *Stdout) Run(context.Context, Controller)  {}
