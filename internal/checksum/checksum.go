package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/BearBump/TrackHooks/internal/models"
	"github.com/pkg/errors"
)

// Canonical сериализует значение в JSON с отсортированными ключами объектов
// на любой глубине: marshal -> generic maps -> marshal (encoding/json
// всегда пишет ключи map в лексикографическом порядке).
func Canonical(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Wrap(err, "marshal")
	}

	var generic any
	if err := json.Unmarshal(b, &generic); err != nil {
		return nil, errors.Wrap(err, "unmarshal generic")
	}

	canon, err := json.Marshal(generic)
	if err != nil {
		return nil, errors.Wrap(err, "marshal canonical")
	}
	return canon, nil
}

// OfEvents — SHA-256 (hex) от канонической формы ленты событий.
// Хэшируются только события: sender/recipient меняются редко и дали бы
// ложные срабатывания детектора изменений.
func OfEvents(events []models.TrackEvent) (string, error) {
	canon, err := Canonical(events)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}
