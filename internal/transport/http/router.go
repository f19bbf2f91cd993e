package http

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/dualpay/fiat-wallet-service/internal/config"
	"github.com/dualpay/fiat-wallet-service/internal/service"
)

func NewRouter(svc *service.FiatWalletService, kyc *service.KYCService, rl config.RateLimitConfig, log *zap.SugaredLogger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware(log))
	r.Use(RateLimitMiddleware(rl.RPS, rl.Burst))
	RegisterHandlers(r, svc, kyc)
	return r
}
