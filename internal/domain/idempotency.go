package domain

import (
	"net/http"
	"time"
)

// IdempotencyStatus описывает жизненный цикл ключа Idempotency-Key
// на запросах оформления заказа.
type IdempotencyStatus string

const (
	// IdempotencyStatusProcessing: первый запрос ещё выполняется, повтор получает 409.
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: заказ создан, повтор получает сохранённый 2xx-ответ.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: запрос завершился ошибкой, повтор получает тот же
	// статус и тело, а не повторное списание остатков.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// Valid проверяет, что статус относится к поддерживаемым значениям.
func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	default:
		return false
	}
}

// IdempotencyRecord хранит ответ на запрос с Idempotency-Key.
//
// Key уже включает идентификатор вызывающего, поэтому разные покупатели
// не делят ключи. RequestHash снимается с метода, пути, роли и тела.
// Записи живут в памяти, в таблице idempotency_keys postgres или в Redis;
// в Redis срок TTLAt дублируется TTL самого ключа.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	ResponseBody []byte
	HTTPStatus   int
	Status       IdempotencyStatus
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Expired сообщает, что ключ можно занять заново.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	return !r.TTLAt.After(now)
}

// Completed сообщает, что ответ сохранён и его можно отдать повтору.
func (r IdempotencyRecord) Completed() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// ReplayStatus возвращает HTTP-статус для повтора. Записи без статуса
// (старые строки postgres) отдаются как 200.
func (r IdempotencyRecord) ReplayStatus() int {
	if r.HTTPStatus == 0 {
		return http.StatusOK
	}
	return r.HTTPStatus
}
