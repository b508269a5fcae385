package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect описывает различия SQL-движков, которые видны репозиториям.
// Запросы пишутся с плейсхолдером `?` и переписываются под движок.
type Dialect struct {
	// Name попадает в логи и ошибки.
	Name string
	// NumberedPlaceholders включает `$1, $2, ...` вместо `?`.
	NumberedPlaceholders bool
	// IsUniqueViolation распознаёт нарушение уникального ключа.
	IsUniqueViolation func(err error) bool
	// IsLockConflict распознаёт взаимную блокировку и сбой сериализации:
	// транзакцию откатил сервер, повтор может пройти.
	IsLockConflict func(err error) bool
}

func (d Dialect) rebind(query string) string {
	if !d.NumberedPlaceholders || !strings.Contains(query, "?") {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r != '?' {
			b.WriteRune(r)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

func (d Dialect) uniqueViolation(err error) bool {
	return d.IsUniqueViolation != nil && d.IsUniqueViolation(err)
}

func (d Dialect) lockConflict(err error) bool {
	return d.IsLockConflict != nil && d.IsLockConflict(err)
}
