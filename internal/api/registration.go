package api

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/approval"
	"schoolattend/internal/auth"
	"schoolattend/internal/ledger"
)

func (h *Handler) registerStaff(c *gin.Context) {
	var in approval.StaffInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	member, err := h.Approvals.RegisterStaff(c.Request.Context(), in)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, member)
}

func (h *Handler) registerStudent(c *gin.Context) {
	var in approval.StudentInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	student, err := h.Approvals.RegisterStudent(c.Request.Context(), in, actor(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, student)
}

func (h *Handler) addFacePhotos(c *gin.Context) {
	var req struct {
		Photos []string `json:"photos" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	student, err := h.Approvals.AddFacePhotos(c.Request.Context(), c.Param("id"), req.Photos)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

func (h *Handler) verifyGuardian(c *gin.Context) {
	student, err := h.Approvals.VerifyGuardian(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, student)
}

func kindParam(c *gin.Context) ledger.Kind {
	switch k := c.Param("kind"); k {
	case "students", "student":
		return ledger.KindStudent
	case "staff", "teachers", "principals":
		return ledger.KindStaff
	default:
		return ledger.Kind(k)
	}
}

func (h *Handler) approve(c *gin.Context) {
	var (
		result ledger.Approval
		err    error
	)
	if c.Query("idempotent") == "true" {
		result, err = h.Approvals.EnsureApproved(c.Request.Context(), kindParam(c), c.Param("id"), actor(c).ID)
	} else {
		result, err = h.Approvals.Approve(c.Request.Context(), kindParam(c), c.Param("id"), actor(c).ID)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) reject(c *gin.Context) {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	result, err := h.Approvals.Reject(c.Request.Context(), kindParam(c), c.Param("id"), actor(c).ID, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// pending lists the live approval queue. Principals only see their school.
func (h *Handler) pending(c *gin.Context) {
	schoolID := c.Query("schoolId")
	if a := actor(c); a.Role == auth.RolePrincipal && a.SchoolID != "" {
		schoolID = a.SchoolID
	}
	switch kindParam(c) {
	case ledger.KindStudent:
		c.JSON(http.StatusOK, gin.H{"students": nonNil(slices.Collect(h.Approvals.PendingStudents(schoolID)))})
	case ledger.KindStaff:
		c.JSON(http.StatusOK, gin.H{"staff": nonNil(slices.Collect(h.Approvals.PendingStaff(schoolID)))})
	default:
		writeError(c, ledger.Invalid("kind", "must be students or staff"))
	}
}

// nonNil keeps empty lists rendering as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
