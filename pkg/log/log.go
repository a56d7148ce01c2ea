package log

import (
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/d3clan/dynamic-branch-env/internal/config"
)

var Module = fx.Module("log",
	fx.Provide(New),
)

// New builds the root logger: JSON in production, console elsewhere.
func New(cfg *config.Config) (*zap.Logger, error) {
	if strings.EqualFold(cfg.Environment, "production") {
		zcfg := zap.NewProductionConfig()
		zcfg.InitialFields = map[string]any{
			"service": cfg.AppName,
			"version": cfg.AppVersion,
		}
		return zcfg.Build()
	}
	return zap.NewDevelopment()
}
