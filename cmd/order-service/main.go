// cmd/order-service/main.go
package main

import (
	"os"

	"fulfillment/internal/pkg/bootstrap"

	"github.com/rs/zerolog/log"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：加载配置、组装所有依赖项，然后启动应用。
func main() {
	cfg, err := bootstrap.LoadConfig(getEnv("CONFIG_FILE", "configs/config.yaml"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName:      cfg.App.Name,
		Port:             cfg.App.Port,
		RegisterHandlers: wire,
	})
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
