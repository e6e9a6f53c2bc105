//go:build wireinject

package app

import (
	"net/http"

	"github.com/google/wire"
	"github.com/gowvp/viewport/internal/conf"
	"github.com/gowvp/viewport/internal/core/backend"
	"github.com/gowvp/viewport/internal/web/api"
)

func wireApp(bc *conf.Bootstrap) (http.Handler, func(), error) {
	panic(wire.Build(api.ProviderBackendSet, api.ProviderSet))
}

func wireManager(bc *conf.Bootstrap) (*backend.Manager, func(), error) {
	panic(wire.Build(api.ProviderBackendSet))
}
