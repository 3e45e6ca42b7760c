package service

import "errors"

var (
	// ErrNotFound возвращается, если счёт (или связанная с ним сущность) не найден.
	ErrNotFound = errors.New("not found")
	// ErrConflict возвращается при недопустимом переходе состояния счёта.
	ErrConflict = errors.New("conflict")
	// ErrDeliveryFailed возвращается при сбое доставки письма или формирования PDF.
	ErrDeliveryFailed = errors.New("delivery failed")
	// ErrInvalidInput возвращается при некорректных входных данных.
	ErrInvalidInput = errors.New("invalid input")
	// ErrProviderUnavailable возвращается, если клиент платёжного провайдера не настроен.
	ErrProviderUnavailable = errors.New("payment provider unavailable")
)
