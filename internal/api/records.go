package api

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/academics"
	"schoolattend/internal/auth"
	"schoolattend/internal/cloudinary"
	"schoolattend/internal/entitlement"
	"schoolattend/internal/ledger"
)

func (h *Handler) uploadMaterial(c *gin.Context) {
	var in academics.MaterialInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	m, err := h.Academics.UploadAcademicMaterial(c.Request.Context(), in, actor(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, m)
}

func (h *Handler) studentMaterials(c *gin.Context) {
	if !ownStudent(c) {
		return
	}
	materials, err := h.Academics.MaterialsForStudent(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"materials": nonNil(materials)})
}

func (h *Handler) grantEntitlement(c *gin.Context) {
	var in entitlement.GrantInput
	if err := c.ShouldBindJSON(&in); err != nil {
		badRequest(c, err)
		return
	}
	e, err := h.Entitlements.Grant(c.Request.Context(), in, actor(c).ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, e)
}

// advanceEntitlement moves a benefit forward. Students may only confirm
// receipt of their own entitlements.
func (h *Handler) advanceEntitlement(c *gin.Context) {
	var req struct {
		Status ledger.EntitlementStatus `json:"status" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a := actor(c)
	if a.Role == auth.RoleStudent {
		cur, ok := ledger.Get[ledger.Entitlement](h.Store, c.Param("id"))
		if !ok || cur.StudentID != a.ID || req.Status != ledger.EntitlementReceived {
			forbidden(c, "students may only confirm receipt of their own entitlements")
			return
		}
	}
	e, err := h.Entitlements.Advance(c.Request.Context(), c.Param("id"), req.Status, a.ID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, e)
}

func (h *Handler) studentEntitlements(c *gin.Context) {
	if !ownStudent(c) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"entitlements": nonNil(h.Entitlements.ForStudent(c.Param("id")))})
}

// uploadPhoto stores a multipart "file" or a JSON {"data": "<base64>"} image
// and returns the reference to use in captures and registrations.
func (h *Handler) uploadPhoto(c *gin.Context) {
	if !h.Photos.Configured() {
		writeError(c, cloudinary.ErrNotConfigured)
		return
	}
	var (
		result *cloudinary.UploadResult
		err    error
	)
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			badRequest(c, ferr)
			return
		}
		defer file.Close()
		data, ferr := io.ReadAll(io.LimitReader(file, 10<<20))
		if ferr != nil {
			badRequest(c, ferr)
			return
		}
		result, err = h.Photos.UploadBytes(c.Request.Context(), data, header.Filename, c.PostForm("studentId"))
	} else {
		var body struct {
			Data      string `json:"data" binding:"required"`
			StudentID string `json:"studentId"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			badRequest(c, berr)
			return
		}
		result, err = h.Photos.UploadBase64(c.Request.Context(), body.Data, body.StudentID)
	}
	if err != nil {
		h.Logger.ErrorContext(c.Request.Context(), "photo upload failed", "error", err)
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": "image upload failed", "kind": "upstream"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"photo":    result.Reference(),
		"publicId": result.PublicID,
		"width":    result.Width,
		"height":   result.Height,
		"bytes":    result.Bytes,
	})
}
