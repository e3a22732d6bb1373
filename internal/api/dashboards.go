package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"schoolattend/internal/auth"
	"schoolattend/internal/ledger"
	"schoolattend/internal/stats"
)

// ownStudent rejects student actors reading another student's records.
func ownStudent(c *gin.Context) bool {
	a := actor(c)
	if a.Role == auth.RoleStudent && a.ID != c.Param("id") {
		forbidden(c, "students may only read their own records")
		return false
	}
	return true
}

// aggregator pins one ledger state for the whole request.
func (h *Handler) aggregator() *stats.Aggregator {
	return stats.New(h.Store.View())
}

func dateRange(c *gin.Context) stats.DateRange {
	return stats.DateRange{From: c.Query("from"), To: c.Query("to")}
}

func (h *Handler) studentHistory(c *gin.Context) {
	if !ownStudent(c) {
		return
	}
	within := dateRange(c)
	history, err := h.aggregator().HistoryForStudent(c.Param("id"), &within)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"studentId": c.Param("id"), "events": nonNil(history)})
}

func (h *Handler) studentSummary(c *gin.Context) {
	if !ownStudent(c) {
		return
	}
	sum, err := h.aggregator().StudentSummary(c.Param("id"), dateRange(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) roster(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"class": c.Param("class"), "students": nonNil(h.aggregator().RosterForClass(c.Param("class")))})
}

// attendanceStats reports today's figures, or those of ?date=YYYY-MM-DD,
// optionally scoped by ?schoolId and ?class.
func (h *Handler) attendanceStats(c *gin.Context) {
	asOf := h.Now()
	if d := c.Query("date"); d != "" {
		parsed, err := time.Parse(ledger.DateLayout, d)
		if err != nil {
			writeError(c, ledger.Invalid("date", "must be a date in YYYY-MM-DD format"))
			return
		}
		asOf = parsed
	}
	scope := stats.Scope{SchoolID: c.Query("schoolId"), Class: c.Query("class")}
	c.JSON(http.StatusOK, h.aggregator().ScopedStats(asOf, scope))
}

func (h *Handler) staffStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.aggregator().StaffOverview(c.Query("schoolId")))
}

func (h *Handler) entitlementStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.aggregator().EntitlementSummary(c.Query("schoolId")))
}
