package reconcile

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/books_sync/diff"
	"bitbucket.org/mmdatafocus/books_sync/models"
	"bitbucket.org/mmdatafocus/books_sync/utils"
	"bitbucket.org/mmdatafocus/books_sync/workflow"
)

// Resolution failures must tell the operator what actually happened:
// refreshing stale data (404/409) is a different fix than correcting the
// merge payload (422).
func writeError(c *gin.Context, err error) {
	switch {
	case utils.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case utils.IsInvalidState(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case utils.IsValidation(err):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func parseFilters(c *gin.Context) (models.ConflictFilters, bool) {
	var filters models.ConflictFilters
	if v := c.Query("status"); v != "" {
		status, err := models.ParseConflictStatus(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return filters, false
		}
		filters.Status = &status
	}
	if v := c.Query("severity"); v != "" {
		severity := diff.Severity(strings.ToUpper(strings.TrimSpace(v)))
		if !severity.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid severity: " + v})
			return filters, false
		}
		filters.Severity = &severity
	}
	if v := c.Query("entityType"); v != "" {
		entityType, err := models.ParseEntityType(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return filters, false
		}
		filters.EntityType = &entityType
	}
	return filters, true
}

// DetectConflictHandler registers a diverged pair observed during sync.
// Returns data=null when the pair turns out convergent.
func DetectConflictHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req DetectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		entityType, err := models.ParseEntityType(req.EntityType)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		record, err := models.OpenConflict(c.Request.Context(), entityType, req.EntityId, req.LocalVersion, req.ServerVersion)
		if err != nil {
			writeError(c, err)
			return
		}
		if record == nil {
			c.JSON(http.StatusOK, gin.H{"success": true, "data": nil})
			return
		}
		view, err := newConflictView(record)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": view})
	}
}

func ListConflictsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, ok := parseFilters(c)
		if !ok {
			return
		}
		records, err := models.ListConflicts(c.Request.Context(), filters)
		if err != nil {
			writeError(c, err)
			return
		}
		views, err := newConflictViews(records)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
	}
}

func GetConflictHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
			return
		}
		record, err := models.GetConflict(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		view, err := newConflictView(record)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": view})
	}
}

func ResolveConflictHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid conflict id"})
			return
		}
		var req ResolveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		action, err := models.ParseResolutionAction(req.Action)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		record, err := models.GetConflict(c.Request.Context(), id)
		if err != nil {
			writeError(c, err)
			return
		}
		resolved, err := workflow.ResolveConflict(c.Request.Context(), record, action, req.MergedData, req.Reason)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": resolved})
	}
}

func AutoResolveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		businessId, ok := utils.GetBusinessIdFromContext(c.Request.Context())
		if !ok || businessId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		resolvedCount, err := workflow.AutoResolve(c.Request.Context(), businessId)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"resolvedCount": resolvedCount}})
	}
}

// ConflictSummaryHandler recomputes the dashboard counts on every request;
// nothing is cached, so the numbers can never go stale.
func ConflictSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := models.CountConflictSummary(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": summary})
	}
}
