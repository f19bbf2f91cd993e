package http

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/dualpay/fiat-wallet-service/internal/model"
	"github.com/dualpay/fiat-wallet-service/internal/service"
)

func RegisterHandlers(r *gin.Engine, svc *service.FiatWalletService, kyc *service.KYCService) {
	v1 := r.Group("/v1")
	{
		v1.POST("/users/:id/wallets", createWalletHandler(svc))
		v1.GET("/users/:id/wallets", listWalletsHandler(svc))
		v1.GET("/users/:id/wallets/:currency", getWalletHandler(svc))
		v1.PATCH("/users/:id/wallets/:currency", setActiveHandler(svc))
		v1.GET("/users/:id/wallets/:currency/balance", balanceHandler(svc))
		v1.GET("/users/:id/wallets/:currency/history", historyHandler(svc))
		v1.POST("/users/:id/wallets/:currency/deposit", depositHandler(svc))
		v1.POST("/users/:id/wallets/:currency/withdraw", withdrawHandler(svc))
		v1.POST("/users/:id/wallets/:currency/transfer", transferHandler(svc))
		v1.GET("/rates/:base", ratesHandler(svc))
		v1.POST("/convert", convertHandler(svc))
		v1.POST("/users/:id/kyc", kycSubmitHandler(kyc))
		v1.GET("/users/:id/kyc", kycStatusHandler(kyc))
		v1.POST("/webhooks/kyc", kycWebhookHandler(kyc))
	}
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrWalletNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrDuplicateWallet):
		return http.StatusConflict
	case errors.Is(err, service.ErrKYCRequired):
		return http.StatusForbidden
	case errors.Is(err, service.ErrInvalidSignature):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrProviderUnreachable):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrLimitExceeded),
		errors.Is(err, service.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadRequest
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func pathUser(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
		return 0, false
	}
	return id, true
}

func pathCurrency(c *gin.Context) model.Currency {
	return model.Currency(c.Param("currency"))
}

type createWalletReq struct {
	Currency string `json:"currency" binding:"required"`
}

func createWalletHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createWalletReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := pathUser(c)
		if !ok {
			return
		}
		w, err := svc.CreateWallet(c, id, model.Currency(req.Currency))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, w)
	}
}

func listWalletsHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathUser(c)
		if !ok {
			return
		}
		ws, err := svc.GetAllWallets(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, ws)
	}
}

func getWalletHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathUser(c)
		if !ok {
			return
		}
		w, err := svc.GetWallet(c, id, pathCurrency(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, w)
	}
}

type setActiveReq struct {
	Active *bool `json:"active" binding:"required"`
}

func setActiveHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req setActiveReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := pathUser(c)
		if !ok {
			return
		}
		if err := svc.SetWalletActive(c, id, pathCurrency(c), *req.Active); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": *req.Active})
	}
}

func balanceHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathUser(c)
		if !ok {
			return
		}
		bal, err := svc.GetBalance(c, id, pathCurrency(c))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"balance": bal})
	}
}

func historyHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathUser(c)
		if !ok {
			return
		}
		limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		sinceStr := c.DefaultQuery("since", time.Now().Add(-24*time.Hour).Format(time.RFC3339))
		since, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since"})
			return
		}
		txs, err := svc.GetHistory(c, id, pathCurrency(c), limit, since)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, txs)
	}
}

type amountReq struct {
	Amount string `json:"amount" binding:"required"`
}

func depositHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req amountReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := pathUser(c)
		if !ok {
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		res, err := svc.Deposit(c, id, pathCurrency(c), amt)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": res.TransactionRef, "balance": res.NewBalance})
	}
}

type withdrawReq struct {
	Amount      string `json:"amount" binding:"required"`
	Destination string `json:"destination" binding:"required"`
}

func withdrawHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req withdrawReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := pathUser(c)
		if !ok {
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		res, err := svc.Withdraw(c, id, pathCurrency(c), amt, req.Destination)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transaction": res.TransactionRef, "balance": res.NewBalance})
	}
}

type transferReq struct {
	ToUserID string `json:"to_user_id" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

func transferHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req transferReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		fromID, ok := pathUser(c)
		if !ok {
			return
		}
		toID, err := strconv.ParseUint(req.ToUserID, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to_user_id"})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		res, err := svc.Transfer(c, fromID, toID, pathCurrency(c), amt)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"source_transaction": res.SourceRef,
			"target_transaction": res.TargetRef,
			"source_balance":     res.NewSourceBalance,
			"target_balance":     res.NewTargetBalance,
		})
	}
}

func ratesHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := svc.GetExchangeRates(c, model.Currency(c.Param("base")))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"base":      snap.Base,
			"timestamp": snap.Timestamp.Unix(),
			"rates":     snap.Rates,
		})
	}
}

type convertReq struct {
	Amount string `json:"amount" binding:"required"`
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
}

func convertHandler(svc *service.FiatWalletService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req convertReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		amt, err := decimal.NewFromString(req.Amount)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount"})
			return
		}
		out, err := svc.ConvertCurrency(c, amt, model.Currency(req.From), model.Currency(req.To))
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"amount": out, "from": req.From, "to": req.To})
	}
}

type kycSubmitReq struct {
	ApplicantID string `json:"applicant_id" binding:"required"`
}

func kycSubmitHandler(kyc *service.KYCService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req kycSubmitReq
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		id, ok := pathUser(c)
		if !ok {
			return
		}
		k, err := kyc.Submit(c, id, req.ApplicantID)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusAccepted, k)
	}
}

func kycStatusHandler(kyc *service.KYCService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := pathUser(c)
		if !ok {
			return
		}
		k, err := kyc.Status(c, id)
		if err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, k)
	}
}

func kycWebhookHandler(kyc *service.KYCService) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
			return
		}
		if err := kyc.HandleWebhook(c, body, c.GetHeader("X-Signature")); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "processed"})
	}
}
