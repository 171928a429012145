package service

import (
	"strings"

	"github.com/rookgm/orderflow/internal/models"
)

// anonymizeCustomerData masks personally identifying fields before the
// order is persisted. The transformation is irreversible.
func anonymizeCustomerData(data *models.CustomerData) *models.CustomerData {
	if data == nil {
		return nil
	}
	return &models.CustomerData{
		Name:  data.Name,
		Email: maskEmail(data.Email),
		Phone: maskPhone(data.Phone),
	}
}

// maskEmail keeps the first character of the local part and the domain:
// john@example.com -> j***@example.com
func maskEmail(email string) string {
	if email == "" {
		return ""
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

// maskPhone keeps the last two digits
func maskPhone(phone string) string {
	if phone == "" {
		return ""
	}
	if len(phone) <= 2 {
		return "***"
	}
	return "***" + phone[len(phone)-2:]
}
