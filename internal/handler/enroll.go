package handler

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campusattend/internal/apperr"
	"campusattend/internal/attendance"
	"campusattend/internal/face"
	"campusattend/internal/frame"
	"campusattend/internal/geofence"
	"campusattend/internal/verification"
)

type embeddingRequest struct {
	Embedding face.Embedding `json:"embedding" validate:"required,min=1"`
	ImageURL  string         `json:"image_url" validate:"omitempty,url"`
}

// EnrollFace stores the reference embedding for a student. A multipart
// "photo" is uploaded and run through the face model; a JSON body may
// instead carry a precomputed embedding.
func (h *Handler) EnrollFace(c *gin.Context) {
	studentID := c.Param("id")
	if err := attendance.ValidateID("student id", studentID); err != nil {
		fail(c, err)
		return
	}
	ctx := c.Request.Context()

	if !strings.HasPrefix(c.ContentType(), "multipart/") {
		var req embeddingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := h.validate.Struct(req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := h.Enroll.SaveFaceEmbedding(ctx, studentID, req.Embedding, req.ImageURL); err != nil {
			fail(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"student_id": studentID, "dimensions": len(req.Embedding)})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*verification.MaxFrameBytes)
	photo, err := readFrame(c, "photo")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	defer photo.Close()
	data, err := io.ReadAll(io.LimitReader(photo, verification.MaxFrameBytes+1))
	if err != nil || len(data) == 0 || len(data) > verification.MaxFrameBytes {
		badRequest(c, "photo must be a non-empty image up to 5MB")
		return
	}
	if data, err = frame.Normalize(data, frame.MaxSide); err != nil {
		fail(c, err)
		return
	}

	url, err := h.Blobs.Upload(ctx, fmt.Sprintf("enrollments/%s.jpg", studentID), data)
	if err != nil {
		fail(c, err)
		return
	}
	det, err := h.Faces.Detect(ctx, url)
	if err != nil {
		fail(c, err)
		return
	}
	if !det.Found {
		fail(c, fmt.Errorf("enrollment photo has %d faces, want 1: %w", det.Faces, apperr.ErrInputInvalid))
		return
	}
	if err := h.Enroll.SaveFaceEmbedding(ctx, studentID, det.Embedding, url); err != nil {
		fail(c, err)
		return
	}
	log.Printf("enrolled face for %s (confidence %.2f)", studentID, det.Confidence)
	c.JSON(http.StatusCreated, gin.H{
		"student_id": studentID,
		"image_url":  url,
		"confidence": det.Confidence,
		"dimensions": len(det.Embedding),
	})
}

// SetRegisteredLocation stores the fallback location used when no campus
// zone applies to a student.
func (h *Handler) SetRegisteredLocation(c *gin.Context) {
	studentID := c.Param("id")
	if err := attendance.ValidateID("student id", studentID); err != nil {
		fail(c, err)
		return
	}
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p := geofence.GeoPoint{Lat: *req.Lat, Lng: *req.Lng}
	if err := p.Validate(); err != nil {
		fail(c, err)
		return
	}
	if err := h.Enroll.SaveRegisteredLocation(c.Request.Context(), studentID, p); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"student_id": studentID, "location": p, "radius_meters": geofence.RegisteredRadiusMeters})
}

// ReloadFaceModel retries loading the face model after a failed start.
func (h *Handler) ReloadFaceModel(c *gin.Context) {
	if err := h.Faces.Load(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"face_model": h.Faces.Ready()})
}
