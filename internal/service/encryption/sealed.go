package encryption

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Sealed - значение, которое уже прошло через Encryptor.
// Открытый текст в Sealed положить нельзя: единственный способ получить
// непустое значение - Encryptor.Seal или чтение из хранилища.
type Sealed struct {
	ciphertext string
}

// SealedFromStorage восстанавливает Sealed из сохраненного шифртекста.
// Используется только слоем хранения.
func SealedFromStorage(ciphertext string) Sealed {
	return Sealed{ciphertext: ciphertext}
}

// IsZero сообщает, что значение отсутствует
func (s Sealed) IsZero() bool { return s.ciphertext == "" }

// Ciphertext возвращает шифртекст для записи
func (s Sealed) Ciphertext() string { return s.ciphertext }

// String никогда не раскрывает содержимое
func (s Sealed) String() string {
	if s.IsZero() {
		return ""
	}
	return "***"
}

// MarshalJSON скрывает значение в ответах API и логах
func (s Sealed) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Value реализует driver.Valuer
func (s Sealed) Value() (driver.Value, error) {
	if s.IsZero() {
		return nil, nil
	}
	return s.ciphertext, nil
}

// Scan реализует sql.Scanner
func (s *Sealed) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		s.ciphertext = ""
	case string:
		s.ciphertext = v
	case []byte:
		s.ciphertext = string(v)
	default:
		return fmt.Errorf("encryption: cannot scan %T into Sealed", src)
	}
	return nil
}
