package snapshots

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bitbucket.org/mmdatafocus/books_sync/utils"
)

// The backup endpoints operate on the calling client's own slot. The session
// middleware supplies businessId; clientId comes from the x-client-id header
// (falling back to the session's client) so each device keeps its own ring.

type snapshotRequest struct {
	Data map[string]interface{} `json:"data" binding:"required"`
}

func storeForRequest(c *gin.Context) (*Store, bool) {
	ctx := c.Request.Context()
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	clientId := c.GetHeader("x-client-id")
	if clientId == "" {
		clientId, _ = utils.GetClientIdFromContext(ctx)
	}
	if clientId == "" {
		clientId = "default"
	}
	return NewStore(NewRedisSlot(businessId, clientId)), true
}

func CreateSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := storeForRequest(c)
		if !ok {
			return
		}

		var req snapshotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		snap, err := store.CreateSnapshot(c.Request.Context(), req.Data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": snap})
	}
}

// AutoSnapshotHandler is the throttled variant used by the client's periodic
// timer. It reports whether a snapshot was actually taken so callers can tell
// a throttle skip apart from a write.
func AutoSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := storeForRequest(c)
		if !ok {
			return
		}

		var req snapshotRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}

		created, err := store.AutoSnapshot(c.Request.Context(), req.Data)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": gin.H{"created": created}})
	}
}

func ListSnapshotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := storeForRequest(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": store.ListSnapshots(c.Request.Context())})
	}
}

func RestoreSnapshotHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := storeForRequest(c)
		if !ok {
			return
		}
		index, err := strconv.Atoi(c.Param("index"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid snapshot index"})
			return
		}
		payload, err := store.Restore(c.Request.Context(), index)
		if err != nil {
			if utils.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "data": payload})
	}
}

func ClearSnapshotsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		store, ok := storeForRequest(c)
		if !ok {
			return
		}
		store.ClearAll(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
