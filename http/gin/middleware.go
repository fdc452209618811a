// Package gin provides Gin-compatible middleware for gate402 payment gating.
// It translates gin.Context to the stdlib middleware and aborts the handler
// chain whenever the payment layer has already written a response.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	gatehttp "github.com/devicepay/gate402/http"
)

// ContextKey is the Gin context key under which the verified *gate.Receipt is
// stored.
const ContextKey = "gate402_payment"

// NewPaymentMiddleware returns Gin-compatible payment-gating middleware.
//
// Example usage:
//
//	r := gin.Default()
//	r.Use(ginx.NewPaymentMiddleware(&gatehttp.Config{Gate: g}))
//	r.POST("/devices/command", func(c *gin.Context) {
//		receipt := c.MustGet(ginx.ContextKey).(*gate.Receipt)
//		c.JSON(200, gin.H{"payer": receipt.State.Payer})
//	})
func NewPaymentMiddleware(config *gatehttp.Config) gin.HandlerFunc {
	inner := gatehttp.NewPaymentMiddleware(config)

	return func(c *gin.Context) {
		authorized := false

		inner(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authorized = true
			if receipt := r.Context().Value(gatehttp.PaymentContextKey); receipt != nil {
				c.Set(ContextKey, receipt)
			}
			c.Request = r
		})).ServeHTTP(c.Writer, c.Request)

		if !authorized {
			// The payment layer already wrote a 402/400 response.
			c.Abort()
			return
		}
		c.Next()
	}
}
