package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"campusattend/internal/attendance"
	"campusattend/internal/geofence"
)

type manualMarkRequest struct {
	StudentID        string             `json:"student_id" validate:"required"`
	ClassID          string             `json:"class_id" validate:"required"`
	Date             string             `json:"date" validate:"omitempty,datetime=2006-01-02"`
	LocationVerified bool               `json:"location_verified"`
	FaceVerified     bool               `json:"face_verified"`
	FaceConfidence   float64            `json:"face_confidence" validate:"gte=0,lte=1"`
	Location         *geofence.GeoPoint `json:"location"`
	Notes            string             `json:"notes" validate:"max=500"`
}

// MarkManual lets lecturers and staff record attendance directly, e.g. for
// a student whose device failed. The status still derives from the flags.
func (h *Handler) MarkManual(c *gin.Context) {
	var req manualMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, err.Error())
		return
	}
	rec, err := h.Marker.Mark(c.Request.Context(), attendance.MarkRequest{
		StudentID:        req.StudentID,
		ClassID:          req.ClassID,
		Date:             req.Date,
		LocationVerified: req.LocationVerified,
		FaceVerified:     req.FaceVerified,
		FaceConfidence:   req.FaceConfidence,
		Location:         req.Location,
		MarkedBy:         claims(c).Subject,
		Notes:            req.Notes,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// StudentAttendance lists a student's records, optionally for one class.
func (h *Handler) StudentAttendance(c *gin.Context) {
	f := attendance.Filter{
		StudentID: c.Param("id"),
		ClassID:   c.Query("class_id"),
		From:      c.Query("from"),
		To:        c.Query("to"),
	}
	if err := f.Validate(); err != nil {
		fail(c, err)
		return
	}
	recs, err := h.Records.Query(c.Request.Context(), f)
	if err != nil {
		fail(c, err)
		return
	}
	if recs == nil {
		recs = []attendance.Record{}
	}
	c.JSON(http.StatusOK, gin.H{"records": recs})
}

// StudentStats summarises a student's attendance over ?from&to.
func (h *Handler) StudentStats(c *gin.Context) {
	st, err := h.Stats.ForStudent(c.Request.Context(), c.Param("id"), c.Query("from"), c.Query("to"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}

// ClassStats summarises a class's attendance over ?from&to.
func (h *Handler) ClassStats(c *gin.Context) {
	st, err := h.Stats.ForClass(c.Request.Context(), c.Param("id"), c.Query("from"), c.Query("to"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, st)
}
