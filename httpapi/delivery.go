package httpapi

import (
	"net/http"

	"github.com/MrEthical07/otpgate"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// POST /api/send-otp
//
// Delivers a caller-supplied code. The body shapes are fixed: 400
// {"error"}, 500 {"error"[,"details"]}, 200 {"success":true}.
func (h *Handler) sendOTP(c *gin.Context) {
	var req sendOTPRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}
	if req.Email == "" || req.OTP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Email and OTP are required"})
		return
	}
	if err := h.validate.Struct(&req); err != nil {
		_, msg := validationFailure(err)
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	if err := h.delivery.SendOTP(c.Request.Context(), req.Email, string(req.OTP)); err != nil {
		h.logger.Error("otp delivery failed",
			zap.String("to", otpgate.MaskDestination(req.Email)),
			zap.String("request_id", otpgate.RequestIDFromContext(c.Request.Context())),
			zap.Error(err),
		)
		body := gin.H{"error": "Failed to send OTP. Please try again."}
		if !h.production {
			body["details"] = err.Error()
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
