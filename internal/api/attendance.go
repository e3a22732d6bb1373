package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/attendance"
	"schoolattend/internal/auth"
	"schoolattend/internal/capture"
	"schoolattend/internal/ledger"
)

func (h *Handler) submitCapture(c *gin.Context) {
	if h.Submitter == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "capture pipeline not running", "kind": "unavailable"})
		return
	}
	var req capture.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	job, err := h.Submitter.Submit(c.Request.Context(), req, actor(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, job)
}

type verifyRequest struct {
	StudentID     string   `json:"studentId"`
	CapturedPhoto string   `json:"capturedPhoto"`
	Location      string   `json:"gpsLocation"`
	Score         *float64 `json:"verificationScore"`
}

// verify records a capture synchronously. Devices that score on board send
// the score; everyone else has it computed by the face service.
func (h *Handler) verify(c *gin.Context) {
	var req verifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a := actor(c)

	var (
		evt ledger.AttendanceEvent
		err error
	)
	if req.Score != nil {
		if a.Role != auth.RoleDevice {
			forbidden(c, "only capture devices may supply a verification score")
			return
		}
		evt, err = h.Attendance.RecordAttendance(c.Request.Context(), attendance.Capture{
			StudentID:     req.StudentID,
			CapturedPhoto: req.CapturedPhoto,
			Score:         *req.Score,
			Location:      req.Location,
			ActorID:       a.ID,
		})
	} else {
		evt, err = h.Attendance.VerifyAndRecord(c.Request.Context(), req.StudentID, req.CapturedPhoto, req.Location, a.ID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if evt.Score != nil {
		h.Metrics.CaptureOutcome(string(evt.Status), evt.Score)
	}
	c.JSON(http.StatusCreated, evt)
}

func (h *Handler) markManual(c *gin.Context) {
	var req struct {
		StudentID string                  `json:"studentId"`
		Status    ledger.AttendanceStatus `json:"status"`
		Date      string                  `json:"date"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	evt, err := h.Attendance.MarkAttendance(c.Request.Context(), req.StudentID, req.Status, actor(c).ID, req.Date)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, evt)
}

func (h *Handler) amend(c *gin.Context) {
	var req struct {
		Status ledger.AttendanceStatus `json:"status"`
		Reason string                  `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	evt, err := h.Attendance.AmendAttendance(c.Request.Context(), c.Param("id"), req.Status, actor(c).ID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, evt)
}

// getEvent returns an event with its camera log when it has one.
func (h *Handler) getEvent(c *gin.Context) {
	evt, err := h.repo.GetEvent(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{"event": evt}
	if log, err := h.repo.CameraLogFor(evt.ID); err == nil {
		body["cameraLog"] = log
	}
	c.JSON(http.StatusOK, body)
}

func (h *Handler) listEvents(c *gin.Context) {
	f := attendance.Filter{
		StudentID: c.Query("studentId"),
		Date:      c.Query("date"),
		MarkedBy:  c.Query("markedBy"),
		Status:    ledger.AttendanceStatus(c.Query("status")),
	}
	var err error
	if f.Limit, err = intQuery(c, "limit"); err != nil {
		badRequest(c, err)
		return
	}
	if f.Offset, err = intQuery(c, "offset"); err != nil {
		badRequest(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": nonNil(h.repo.ListEvents(f))})
}

func (h *Handler) pendingReview(c *gin.Context) {
	date := c.Query("date")
	if date == "" {
		date = ledger.DateOf(h.Now())
	}
	c.JSON(http.StatusOK, gin.H{"date": date, "events": nonNil(h.repo.PendingReview(date))})
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
