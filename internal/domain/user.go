package domain

import "time"

// User - владелец заказов. Регистрация и аутентификация живут вне этого сервиса.
type User struct {
	UserID           int64
	Email            string
	CreatedDate      time.Time
	LastModifiedDate time.Time
}
