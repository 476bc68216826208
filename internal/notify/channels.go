package notify

import (
	"encoding/json"
	"fmt"

	"github.com/umbrellaops/umbrella/internal/domain"
	"github.com/umbrellaops/umbrella/pkg/crypto"
)

// SealChannels encrypts a channel list for storage. Channel configs carry
// webhook URLs and tokens, so they are never persisted in the clear.
func SealChannels(channels []domain.NotificationChannel, key string) ([]byte, error) {
	if len(channels) == 0 {
		return nil, nil
	}
	plain, err := json.Marshal(channels)
	if err != nil {
		return nil, fmt.Errorf("marshal channels: %w", err)
	}
	sealed, err := crypto.EncryptString(key, string(plain))
	if err != nil {
		return nil, fmt.Errorf("seal channels: %w", err)
	}
	return sealed, nil
}

// DecodeChannels decrypts a sealed channel list.
func DecodeChannels(sealed []byte, key string) ([]domain.NotificationChannel, error) {
	if len(sealed) == 0 {
		return nil, nil
	}
	plain, err := crypto.DecryptToString(key, sealed)
	if err != nil {
		return nil, fmt.Errorf("open channels: %w", err)
	}
	var channels []domain.NotificationChannel
	if err := json.Unmarshal([]byte(plain), &channels); err != nil {
		return nil, fmt.Errorf("decode channels: %w", err)
	}
	return channels, nil
}
