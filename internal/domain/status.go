package domain

import "fmt"

// Status - состояние подключения интеграции
type Status string

const (
	StatusPending Status = "PENDING"
	StatusActive  Status = "ACTIVE"
	StatusError   Status = "ERROR"
	StatusRevoked Status = "REVOKED"
)

// Допустимые переходы. REVOKED терминален: повторное подключение
// пересоздает интеграцию (см. ResetPending в репозитории).
var transitions = map[Status][]Status{
	StatusPending: {StatusPending, StatusActive, StatusError, StatusRevoked},
	StatusActive:  {StatusActive, StatusError, StatusRevoked},
	StatusError:   {StatusActive, StatusError, StatusPending, StatusRevoked},
	StatusRevoked: {},
}

// Valid сообщает, что статус известен
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition проверяет переход from -> to
func (s Status) CanTransition(to Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition возвращает ошибку, если переход запрещен
func (s Status) Transition(to Status) error {
	if !s.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
	}
	return nil
}
