package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/auth"
	"campusattend/internal/enrollment"
	"campusattend/internal/face"
	"campusattend/internal/geofence"
	"campusattend/internal/stats"
	"campusattend/internal/verification"
)

// FaceModel is the face evaluator as seen by enrollment and admin routes.
type FaceModel interface {
	Detect(ctx context.Context, imageURL string) (face.Detection, error)
	Load(ctx context.Context) error
	Ready() bool
}

// RecordQuerier lists committed attendance records.
type RecordQuerier interface {
	Query(ctx context.Context, f attendance.Filter) ([]attendance.Record, error)
}

// Check reports whether a dependency is healthy.
type Check func(ctx context.Context) bool

// Deps wires a Handler.
type Deps struct {
	Verify  *verification.Service
	Marker  *attendance.Marker
	Records RecordQuerier
	Stats   *stats.Service
	Enroll  enrollment.Store
	Faces   FaceModel
	Blobs   verification.BlobStore
	Zones   *geofence.Registry
	Checks  map[string]Check
}

// Handler serves the HTTP API.
type Handler struct {
	Deps
	validate *validator.Validate
}

// New creates a Handler.
func New(d Deps) *Handler {
	return &Handler{Deps: d, validate: validator.New()}
}

// Routes registers every endpoint on r. authn must authenticate the
// caller; limit runs after it so it can key on the token subject.
func (h *Handler) Routes(r gin.IRouter, authn, limit gin.HandlerFunc) {
	r.GET("/healthz", h.Healthz)

	v1 := r.Group("/v1", authn, limit)
	staff := auth.RequireRole(auth.RoleLecturer, auth.RoleStaff, auth.RoleAdmin)
	self := auth.SelfOrRole("id", auth.RoleLecturer, auth.RoleStaff, auth.RoleAdmin)
	admins := auth.RequireRole(auth.RoleStaff, auth.RoleAdmin)

	v1.GET("/zones", h.ListZones)

	v1.POST("/sessions", h.StartSession)
	v1.GET("/sessions/:id", h.GetSession)
	v1.POST("/sessions/:id/location", h.VerifyLocation)
	v1.POST("/sessions/:id/face", h.VerifyFace)
	v1.POST("/sessions/:id/mark", h.MarkSession)
	v1.DELETE("/sessions/:id", h.AbandonSession)

	v1.POST("/attendance", staff, h.MarkManual)
	v1.GET("/students/:id/attendance", self, h.StudentAttendance)
	v1.GET("/students/:id/stats", self, h.StudentStats)
	v1.GET("/classes/:id/stats", staff, h.ClassStats)

	v1.POST("/students/:id/face", admins, h.EnrollFace)
	v1.PUT("/students/:id/location", admins, h.SetRegisteredLocation)
	v1.POST("/admin/face/reload", auth.RequireRole(auth.RoleAdmin), h.ReloadFaceModel)
}

// Healthz reports each dependency check. Any failing check turns the
// response into a 503.
func (h *Handler) Healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{}
	status := http.StatusOK
	for name, check := range h.Checks {
		ok := check(ctx)
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
		}
	}
	if h.Faces != nil {
		body["face_model"] = h.Faces.Ready()
	}
	if status == http.StatusOK {
		body["status"] = "ok"
	} else {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

// ListZones returns the configured campus zones.
func (h *Handler) ListZones(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"zones": h.Zones.Zones()})
}

// fail renders err with its status, code and whether a retry may help.
func fail(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		log.Printf("%s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{
		"error":     err.Error(),
		"code":      apperr.Code(err),
		"retryable": apperr.Retryable(err),
	})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "code": apperr.Code(apperr.ErrInputInvalid), "retryable": false})
}

func forbidden(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "code": "forbidden"})
}

func claims(c *gin.Context) auth.Claims {
	cl, _ := auth.ClaimsFrom(c)
	return cl
}

// actsFor reports whether the caller may act on studentID's behalf.
func actsFor(cl auth.Claims, studentID string) bool {
	return cl.Role != auth.RoleStudent || cl.Subject == studentID
}
