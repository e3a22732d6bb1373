// Package api is the HTTP surface over the ledger services.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"schoolattend/internal/academics"
	"schoolattend/internal/approval"
	"schoolattend/internal/attendance"
	"schoolattend/internal/auth"
	"schoolattend/internal/capture"
	"schoolattend/internal/cloudinary"
	"schoolattend/internal/entitlement"
	"schoolattend/internal/httpmiddleware"
	"schoolattend/internal/ledger"
	"schoolattend/internal/metrics"
)

// Auth configures token verification and refresh.
type Auth struct {
	SigningKey string
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Deps are the collaborators the handlers call. Submitter, Photos, Metrics
// and Gatherer may be nil; the matching routes then report 503 or are absent.
type Deps struct {
	Store        *ledger.Store
	Approvals    *approval.Service
	Attendance   *attendance.Service
	Academics    *academics.Service
	Entitlements *entitlement.Service
	Submitter    *capture.Submitter
	Photos       *cloudinary.Client
	Metrics      *metrics.Metrics
	Gatherer     prometheus.Gatherer
	Logger       *slog.Logger
	Now          func() time.Time
	Auth         Auth
	RateLimit    int
	// Health checks reported by /healthz, keyed by component name.
	Health map[string]func(context.Context) bool
}

// Handler serves the HTTP API.
type Handler struct {
	Deps
	repo *attendance.Repository
}

// New creates a handler. Missing clock and logger get defaults.
func New(d Deps) *Handler {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{Deps: d, repo: attendance.NewRepository(d.Store)}
}

// Router builds the gin engine with every route registered.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(h.Logger, "/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}))
	r.Use(securityHeaders())
	if h.Metrics != nil {
		r.Use(h.Metrics.GinMiddleware())
	}

	if h.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", h.healthz)

	limiter := httpmiddleware.NewSimpleTokenBucket(h.RateLimit, h.RateLimit).GinMiddleware()

	public := r.Group("/v1", limiter)
	public.POST("/auth/refresh", h.refreshToken)
	public.POST("/staff", h.registerStaff)

	v1 := r.Group("/v1", auth.ActorAuth(h.Auth.SigningKey, h.Auth.Issuer), limiter)

	staff := auth.RequireRole(auth.RoleTeacher, auth.RolePrincipal)
	approvers := auth.RequireRole(auth.RolePrincipal, auth.RoleGovernment)
	capturers := auth.RequireRole(auth.RoleDevice, auth.RoleTeacher, auth.RolePrincipal)
	dashboards := auth.RequireRole(auth.RoleTeacher, auth.RolePrincipal, auth.RoleGovernment)
	advancers := auth.RequireRole(auth.RoleTeacher, auth.RolePrincipal, auth.RoleGovernment, auth.RoleStudent)

	v1.POST("/students", staff, h.registerStudent)
	v1.POST("/students/:id/photos", staff, h.addFacePhotos)
	v1.POST("/students/:id/guardian/verify", staff, h.verifyGuardian)
	v1.GET("/students/:id/attendance", h.studentHistory)
	v1.GET("/students/:id/summary", h.studentSummary)
	v1.GET("/students/:id/materials", h.studentMaterials)
	v1.GET("/students/:id/entitlements", h.studentEntitlements)

	v1.POST("/approvals/:kind/:id/approve", approvers, h.approve)
	v1.POST("/approvals/:kind/:id/reject", approvers, h.reject)
	v1.GET("/approvals/:kind", approvers, h.pending)

	v1.POST("/attendance/captures", capturers, h.submitCapture)
	v1.POST("/attendance/verify", capturers, h.verify)
	v1.POST("/attendance/manual", staff, h.markManual)
	v1.POST("/attendance/events/:id/amend", staff, h.amend)
	v1.GET("/attendance/events/:id", dashboards, h.getEvent)
	v1.GET("/attendance/events", dashboards, h.listEvents)
	v1.GET("/attendance/review", dashboards, h.pendingReview)

	v1.GET("/classes/:class/roster", dashboards, h.roster)
	v1.GET("/stats/attendance", dashboards, h.attendanceStats)
	v1.GET("/stats/staff", dashboards, h.staffStats)
	v1.GET("/stats/entitlements", dashboards, h.entitlementStats)

	v1.POST("/materials", staff, h.uploadMaterial)
	v1.POST("/entitlements", staff, h.grantEntitlement)
	v1.POST("/entitlements/:id/advance", advancers, h.advanceEntitlement)
	v1.POST("/photos", capturers, h.uploadPhoto)

	return r
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	components := gin.H{}
	for name, check := range h.Health {
		ok := check(c.Request.Context())
		components[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "components": components})
}

func (h *Handler) refreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refreshToken" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	pair, err := auth.Refresh(req.RefreshToken, h.Auth.Issuer, h.Auth.SigningKey, h.Auth.AccessTTL, h.Auth.RefreshTTL)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid refresh token"})
		return
	}
	c.JSON(http.StatusOK, pair)
}

func actor(c *gin.Context) auth.Actor {
	a, _ := auth.ActorFrom(c)
	return a
}
