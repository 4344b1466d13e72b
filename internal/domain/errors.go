package domain

import (
	"errors"
	"fmt"
)

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrInvalidTransition   = errors.New("invalid integration status transition")
	ErrHookEstablished     = errors.New("webhook subscription already established")
	ErrIntegrationExists   = errors.New("integration already exists")
)

// PersistenceError - ошибка слоя хранения
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence оборачивает ошибку хранилища. ErrIntegrationNotFound не оборачивается.
func Persistence(op string, err error) error {
	if err == nil || errors.Is(err, ErrIntegrationNotFound) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}
