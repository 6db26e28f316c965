// Package validation содержит функции валидации входных данных.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mmeshcher/storefront-system/internal/model"
)

// ErrMissingField возвращается, если не заполнено обязательное поле доставки.
var ErrMissingField = errors.New("missing required shipping field")

// ErrInvalidEmail возвращается при некорректном адресе электронной почты.
var ErrInvalidEmail = errors.New("invalid email address")

// ValidateShipping проверяет данные доставки перед оформлением заказа.
// Обязательны имя, фамилия, email, адрес и город; телефон и индекс
// сохраняются опционально.
func ValidateShipping(s model.ShippingDetails) error {
	required := []struct {
		name  string
		value string
	}{
		{"first_name", s.FirstName},
		{"last_name", s.LastName},
		{"email", s.Email},
		{"line1", s.Line1},
		{"city", s.City},
	}

	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: %s", ErrMissingField, f.name)
		}
	}

	if !IsValidEmail(s.Email) {
		return fmt.Errorf("%w: %s", ErrInvalidEmail, s.Email)
	}

	return nil
}

// IsValidEmail выполняет минимальную проверку формы адреса электронной почты.
func IsValidEmail(email string) bool {
	email = strings.TrimSpace(email)

	at := strings.Index(email, "@")
	if at <= 0 || at == len(email)-1 {
		return false
	}

	domain := email[at+1:]
	if strings.Contains(domain, "@") {
		return false
	}

	dot := strings.LastIndex(domain, ".")
	if dot <= 0 || dot == len(domain)-1 {
		return false
	}

	return !strings.ContainsAny(email, " \t\r\n")
}
