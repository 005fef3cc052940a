package httpapi

import (
	"context"
	"time"

	"github.com/MrEthical07/otpgate"
	"github.com/MrEthical07/otpgate/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Service is the engine surface the handlers drive. *otpgate.Engine
// satisfies it.
type Service interface {
	BeginSignup(ctx context.Context, name, email string) (otpgate.ChallengeHandle, error)
	BeginLogin(ctx context.Context, email string) (otpgate.ChallengeHandle, error)
	Resend(ctx context.Context, sessionID string) (otpgate.ChallengeHandle, error)
	Verify(ctx context.Context, sessionID, code string) (otpgate.VerifyResult, error)
	Pending(ctx context.Context, sessionID string) (otpgate.PendingAttempt, error)
	Refresh(ctx context.Context, refreshToken string) (otpgate.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	Validate(ctx context.Context, accessToken string) (*otpgate.Claims, error)
}

// CredentialChecker vets the password step that precedes a code. A nil
// checker accepts every well-formed request.
type CredentialChecker interface {
	// CheckSignup rejects a signup before a code is sent, for example when
	// the email is already registered.
	CheckSignup(ctx context.Context, name, email, password string) error
	CheckLogin(ctx context.Context, email, password string) error
}

// Options configures a Handler.
type Options struct {
	// Config supplies cookie names, token lifetimes and ProductionMode.
	// Usually Engine.Config().
	Config otpgate.Config
	Logger *zap.Logger

	Credentials CredentialChecker

	// Delivery serves POST /api/send-otp when set.
	Delivery otpgate.Notifier

	// CORSOrigins are the browser origins allowed on /api/auth. Empty
	// allows any origin without credentials.
	CORSOrigins []string
}

// Handler serves the JSON API in front of an engine.
type Handler struct {
	svc         Service
	delivery    otpgate.Notifier
	credentials CredentialChecker
	logger      *zap.Logger
	validate    *validator.Validate

	cookies     otpgate.CookieConfig
	production  bool
	accessTTL   time.Duration
	refreshTTL  time.Duration
	corsOrigins []string
}

// New builds a Handler for svc.
func New(svc Service, opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		svc:         svc,
		delivery:    opts.Delivery,
		credentials: opts.Credentials,
		logger:      logger.Named("httpapi"),
		validate:    newValidator(),
		cookies:     opts.Config.Cookie,
		production:  opts.Config.Security.ProductionMode,
		accessTTL:   opts.Config.Token.AccessTTL,
		refreshTTL:  opts.Config.Token.RefreshTTL,
		corsOrigins: opts.CORSOrigins,
	}
}

// Router returns a gin engine with logging, recovery and every route
// registered. Callers may add more routes, such as /metrics.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(h.logger), middleware.RequestLogger(h.logger))
	h.Register(r)
	return r
}

// Register mounts the API under /api on r.
func (h *Handler) Register(r gin.IRouter) {
	api := r.Group("/api")

	if h.delivery != nil {
		delivery := api.Group("/send-otp", middleware.DeliveryCORS())
		delivery.POST("", h.sendOTP)
		delivery.OPTIONS("", func(*gin.Context) {})
	}

	auth := api.Group("/auth", middleware.CORS(h.corsOrigins))
	auth.OPTIONS("/*path", func(*gin.Context) {})
	auth.POST("/signup", h.signup)
	auth.POST("/login", h.login)
	auth.POST("/verify", h.verify)
	auth.POST("/resend", h.resend)
	auth.GET("/pending", h.pending)
	auth.POST("/refresh", h.refresh)
	auth.POST("/logout", h.logout)

	api.GET("/me", middleware.Guard(h.svc), h.me)
}
