package handler

import (
	"bytes"
	"encoding/base64"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"campusattend/internal/geofence"
	"campusattend/internal/geolocation"
	"campusattend/internal/verification"
)

type startRequest struct {
	StudentID string `json:"student_id"`
	ClassID   string `json:"class_id" validate:"required"`
}

// StartSession opens a verification session. Students start sessions for
// themselves; staff may start one on a student's behalf.
func (h *Handler) StartSession(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		badRequest(c, err.Error())
		return
	}
	cl := claims(c)
	if req.StudentID == "" {
		req.StudentID = cl.Subject
	}
	if !actsFor(cl, req.StudentID) {
		forbidden(c)
		return
	}

	sess, err := h.Verify.Start(c.Request.Context(), req.StudentID, req.ClassID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, sess)
}

// session loads the :id session and checks the caller may act on it.
func (h *Handler) session(c *gin.Context) (verification.Session, bool) {
	sess, err := h.Verify.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return verification.Session{}, false
	}
	if !actsFor(claims(c), sess.StudentID) {
		forbidden(c)
		return verification.Session{}, false
	}
	return sess, true
}

// GetSession returns both outcomes and whether the session can be marked.
func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess, "can_mark": h.Verify.CanMark(sess)})
}

type locationRequest struct {
	Lat      *float64 `json:"lat" validate:"required"`
	Lng      *float64 `json:"lng" validate:"required"`
	Accuracy float64  `json:"accuracy" validate:"gte=0"`
	ZoneID   string   `json:"zone_id"`
}

// VerifyLocation checks a client-reported fix against the campus zones.
func (h *Handler) VerifyLocation(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
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
	src := geolocation.Reported{Point: geofence.GeoPoint{Lat: *req.Lat, Lng: *req.Lng}, Accuracy: req.Accuracy}
	out, err := h.Verify.VerifyLocation(c.Request.Context(), sess.ID, src, req.ZoneID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

type frameRequest struct {
	Data string `json:"data"`
}

// VerifyFace accepts a multipart "frame" file or a JSON base64 data URL.
func (h *Handler) VerifyFace(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*verification.MaxFrameBytes)

	frame, err := readFrame(c, "frame")
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	out, err := h.Verify.VerifyFace(c.Request.Context(), sess.ID, frame)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// MarkSession commits the attendance record for a fully verified session.
func (h *Handler) MarkSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	rec, err := h.Verify.Mark(c.Request.Context(), sess.ID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec)
}

// AbandonSession discards a session, e.g. when the user closes the camera view.
func (h *Handler) AbandonSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.Verify.Abandon(c.Request.Context(), sess.ID); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// readFrame returns the uploaded image from the multipart field or from a
// JSON body holding a base64 data URL.
func readFrame(c *gin.Context, field string) (io.ReadCloser, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		fh, err := c.FormFile(field)
		if err != nil {
			return nil, err
		}
		return fh.Open()
	}

	var req frameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, err
	}
	if req.Data == "" {
		return nil, errMissingImage
	}
	data, err := decodeDataURL(req.Data)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

type handlerError string

func (e handlerError) Error() string { return string(e) }

const errMissingImage = handlerError("provide a multipart file or {\"data\": \"<base64 data URL>\"}")

func decodeDataURL(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		i := strings.Index(s, ",")
		if i < 0 || !strings.Contains(s[:i], ";base64") {
			return nil, handlerError("data URL must be base64 encoded")
		}
		s = s[i+1:]
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, handlerError("invalid base64 image: " + err.Error())
	}
	return data, nil
}
