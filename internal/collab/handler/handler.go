package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/scrolluniversity/doc-service/internal/collab"
	"github.com/scrolluniversity/doc-service/internal/collab/service"
)

// RegisterDocumentRoutes wires the collaborative document API onto r.
// Caller identity comes from the auth middleware's claims (`sub`); the
// X-User-ID header is honored only when no claims are present (local dev).
func RegisterDocumentRoutes(r *gin.Engine, svc *service.Service) {
	r.POST("/api/groups/:groupId/documents", func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			Title   string `json:"title"`
			Content string `json:"content"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Title == "" {
			req.Title = "Untitled document"
		}
		doc, err := svc.CreateDocument(c.Request.Context(), caller, c.Param("groupId"), req.Title, req.Content)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	})

	r.GET("/api/groups/:groupId/documents", func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		docs, err := svc.ListDocuments(c.Request.Context(), caller, c.Param("groupId"))
		if err != nil {
			abortWith(c, err)
			return
		}
		out := make([]gin.H, 0, len(docs))
		for _, d := range docs {
			out = append(out, gin.H{
				"id": d.ID, "title": d.Title, "version": d.Version,
				"lastEditedBy": d.LastEditedBy, "updatedAt": d.UpdatedAt,
				"locked": d.Lock != nil,
			})
		}
		c.JSON(http.StatusOK, out)
	})

	r.GET("/api/documents/:id", func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		doc, err := svc.GetDocument(c.Request.Context(), caller, c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	r.PATCH("/api/documents/:id", func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		var req struct {
			Title       *string `json:"title,omitempty"`
			Content     string  `json:"content"`
			AcquireLock bool    `json:"acquireLock"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		doc, version, err := svc.UpdateDocument(c.Request.Context(), caller, c.Param("id"), req.Content, req.Title, req.AcquireLock)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"document": doc, "version": version})
	})

	r.POST("/api/documents/:id/lock", func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		doc, err := svc.LockDocument(c.Request.Context(), caller, c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	r.DELETE("/api/documents/:id/lock", func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		doc, err := svc.UnlockDocument(c.Request.Context(), caller, c.Param("id"))
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	r.GET("/api/documents/:id/history", func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "0"), 10, 64)
		before, _ := strconv.ParseInt(c.DefaultQuery("beforeVersion", "0"), 10, 64)
		recs, err := svc.GetHistory(c.Request.Context(), caller, c.Param("id"), limit, before)
		if err != nil {
			abortWith(c, err)
			return
		}
		c.JSON(http.StatusOK, recs)
	})

	r.DELETE("/api/documents/:id", func(c *gin.Context) {
		caller, ok := callerID(c)
		if !ok {
			return
		}
		if err := svc.DeleteDocument(c.Request.Context(), caller, c.Param("id")); err != nil {
			abortWith(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})
}

func callerID(c *gin.Context) (string, bool) {
	if v, ok := c.Get("claims"); ok {
		if cm, ok2 := v.(map[string]interface{}); ok2 {
			if sub, ok3 := cm["sub"].(string); ok3 && sub != "" {
				return sub, true
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token has no subject"})
		return "", false
	}
	if id := c.GetHeader("X-User-ID"); id != "" {
		return id, true
	}
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "caller identity required"})
	return "", false
}

// abortWith maps the stable error conditions onto HTTP statuses so the UI
// can distinguish "locked by another user" from "no access" from "gone".
func abortWith(c *gin.Context, err error) {
	switch {
	case errors.Is(err, collab.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.Is(err, collab.ErrNotAMember):
		c.JSON(http.StatusForbidden, gin.H{"error": "not a member of this group"})
	case errors.Is(err, collab.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "not authorized"})
	case errors.Is(err, collab.ErrDocumentLocked), errors.Is(err, collab.ErrAlreadyLocked):
		c.JSON(http.StatusConflict, gin.H{"error": "document is locked by another editor"})
	case errors.Is(err, collab.ErrNotLockHolder):
		c.JSON(http.StatusConflict, gin.H{"error": "caller does not hold the lock"})
	case errors.Is(err, collab.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "document changed concurrently, re-fetch and retry"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
