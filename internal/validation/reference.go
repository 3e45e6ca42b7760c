// Package validation содержит проверки платёжных реквизитов.
package validation

import (
	"regexp"
	"unicode"

	"github.com/mmeshcher/drivingschool/internal/model"
)

const (
	minOCRLength = 2
	maxOCRLength = 25
)

// Ссылка Swish: буквы, цифры и дефис; UUID счёта помещается целиком.
var swishReference = regexp.MustCompile(`^[A-Za-z0-9-]{1,36}$`)

// IsValidOCR проверяет номер OCR для Bankgiro: только цифры, контрольная цифра по алгоритму Луна.
func IsValidOCR(number string) bool {
	if len(number) < minOCRLength || len(number) > maxOCRLength {
		return false
	}

	sum := 0
	double := false

	for i := len(number) - 1; i >= 0; i-- {
		ch := rune(number[i])
		if !unicode.IsDigit(ch) {
			return false
		}
		digit := int(ch - '0')
		if double {
			digit *= 2
			if digit > 9 {
				digit -= 9
			}
		}
		sum += digit
		double = !double
	}

	return sum%10 == 0
}

// IsValidPaymentReference проверяет формат ссылки на платёж для указанного способа оплаты.
func IsValidPaymentReference(method model.PaymentMethod, reference string) bool {
	switch method {
	case model.PaymentMethodBankgiro:
		return IsValidOCR(reference)
	case model.PaymentMethodSwish:
		return swishReference.MatchString(reference)
	case model.PaymentMethodQliro, model.PaymentMethodManual:
		return reference != "" && len(reference) <= 128
	}
	return false
}
