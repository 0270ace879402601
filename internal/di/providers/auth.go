package providers

import (
	"github.com/samber/do/v2"

	"github.com/listenupapp/listenup-captions/internal/auth"
	"github.com/listenupapp/listenup-captions/internal/config"
	"github.com/listenupapp/listenup-captions/internal/logger"
)

// ProvideTokenService provides the PASETO session handle service.
// Without a configured key one is loaded from, or generated into, the metadata directory.
func ProvideTokenService(i do.Injector) (*auth.TokenService, error) {
	cfg := do.MustInvoke[*config.Config](i)
	log := do.MustInvoke[*logger.Logger](i)

	keyHex := cfg.Session.TokenKey
	if keyHex == "" {
		var err error
		if keyHex, err = auth.LoadOrGenerateKey(cfg.Metadata.BasePath); err != nil {
			return nil, err
		}
	}

	log.Info("Session key loaded", "token_duration", cfg.Session.TokenDuration)

	return auth.NewTokenService(keyHex, cfg.Session.TokenDuration)
}
