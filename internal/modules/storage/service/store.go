package service

import (
	"context"
	"time"

	"options_bot/internal/models"
)

// Store: журнал закрытых сделок. Повторная запись того же ID игнорируется.
type Store interface {
	Save(ctx context.Context, op models.Operation) error
	List(ctx context.Context, since time.Time) ([]models.Operation, error)
	Clear(ctx context.Context) error
}

// DayStart: полночь UTC дня t; от неё считается дневная история.
func DayStart(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
