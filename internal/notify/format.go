package notify

import (
	"fmt"
	"strings"

	"options_bot/internal/models"
	engine "options_bot/internal/modules/engine/service"
)

// FormatEvent: текст для оператора. analysis и update в чат не идут.
func FormatEvent(ev models.Event) (string, bool) {
	switch p := ev.Payload.(type) {
	case models.AlertPayload:
		text := levelIcon(ev.Level) + " " + p.Message
		if p.Asset != "" {
			text = fmt.Sprintf("%s %s: %s", levelIcon(ev.Level), p.Asset, p.Message)
		}
		return text, true

	case models.StatePayload:
		var head string
		switch p.State {
		case models.StateRunning:
			head = "▶️ Бот запущен"
		case models.StatePaused:
			head = "⏸ Бот на паузе"
		case models.StateStopped:
			head = "⏹ Бот остановлен"
		default:
			head = "ℹ️ Состояние: " + string(p.State)
		}
		if p.Reason != "" {
			head += ": " + p.Reason
		}
		return head, true

	case models.OperationPayload:
		if !p.Operation.Settled() {
			return "", false
		}
		return formatOperation(p.Operation, p.Stats), true
	}
	return "", false
}

func formatOperation(op models.Operation, st models.DailyStats) string {
	icon := "➖"
	switch op.Outcome {
	case models.OutcomeWin:
		icon = "✅"
	case models.OutcomeLoss:
		icon = "🔻"
	case models.OutcomeError:
		icon = "❗️"
	}
	return fmt.Sprintf("%s %s %s %s → %s\nP/L за день: %s | %d/%d (%.1f%%)",
		icon,
		op.Asset,
		strings.ToUpper(string(op.Direction)),
		op.Amount.StringFixed(2),
		signed(op.ProfitAmount.StringFixed(2)),
		signed(st.ProfitLoss.StringFixed(2)),
		st.Wins,
		st.TotalOperations,
		st.WinRate,
	)
}

func FormatStatus(st engine.Status) string {
	conn := "🔴 нет связи"
	if st.Session.Connected {
		conn = "🟢 на связи"
	}
	return fmt.Sprintf(
		"📊 Статус: %s\n"+
			"Брокер: %s, счёт %s, баланс %s\n"+
			"Стратегия: %s\n"+
			"Сделок: %d (✅ %d / 🔻 %d), win rate %.1f%%\n"+
			"P/L: %s\n"+
			"Торговые часы: %s",
		st.State,
		conn, st.Session.AccountMode, st.Session.Balance.StringFixed(2),
		st.Settings,
		st.Stats.TotalOperations, st.Stats.Wins, st.Stats.Losses, st.Stats.WinRate,
		signed(st.Stats.ProfitLoss.StringFixed(2)),
		st.Hours,
	)
}

func levelIcon(l models.Level) string {
	switch l {
	case models.LevelError:
		return "❌"
	case models.LevelWarning:
		return "⚠️"
	}
	return "ℹ️"
}

func signed(v string) string {
	if strings.HasPrefix(v, "-") {
		return v
	}
	return "+" + v
}
