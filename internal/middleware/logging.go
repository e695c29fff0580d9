// internal/middleware/logging.go
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/scrylabs/scry-backend/internal/models"
)

// Request fields never written to the audit trail.
var redactedFields = map[string]bool{
	"password":     true,
	"new_password": true,
	"passphrase":   true,
	"private_key":  true,
}

type bodyLogWriter struct {
	gin.ResponseWriter
	body *bytes.Buffer
}

func (w bodyLogWriter) Write(b []byte) (int, error) {
	w.body.Write(b)
	return w.ResponseWriter.Write(b)
}

// AuditLogMiddleware records every mutating request in audit_logs and writes
// one log line per request. Audit rows are saved off the request path.
func AuditLogMiddleware(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Skip auditing for reads, health checks and the event stream
		if !isAudited(c.Request) {
			c.Next()
			logRequest(c, time.Since(start))
			return
		}

		// Read JSON request bodies; uploads are not copied
		var requestBody []byte
		if c.Request.Body != nil && strings.HasPrefix(c.ContentType(), "application/json") {
			requestBody, _ = io.ReadAll(c.Request.Body)
			c.Request.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		blw := &bodyLogWriter{body: bytes.NewBufferString(""), ResponseWriter: c.Writer}
		c.Writer = blw

		c.Next()
		duration := time.Since(start)

		var requestData map[string]interface{}
		if len(requestBody) > 0 {
			json.Unmarshal(requestBody, &requestData)
		}
		for field := range requestData {
			if redactedFields[field] {
				requestData[field] = "[redacted]"
			}
		}

		auditLog := &models.AuditLog{
			TraderID:     contextTraderID(c),
			Action:       c.Request.Method + " " + c.FullPath(),
			ResourceType: extractResourceType(c.Request.URL.Path),
			Status:       c.Writer.Status(),
			IPAddress:    c.ClientIP(),
			UserAgent:    c.Request.UserAgent(),
			NewValues:    models.JSONB(requestData),
		}
		if auditLog.Action == c.Request.Method+" " {
			auditLog.Action += c.Request.URL.Path
		}

		// Extract resource ID from URL if present, otherwise from the response
		if resourceID := extractResourceID(c.Request.URL.Path); resourceID != "" {
			if parsed, err := uuid.Parse(resourceID); err == nil {
				auditLog.ResourceID = &parsed
			}
		} else if id, ok := responseEntityID(blw.body.Bytes()); ok {
			auditLog.ResourceID = &id
		}

		// Save audit log asynchronously
		go func() {
			if err := db.Create(auditLog).Error; err != nil {
				logrus.WithError(err).Error("Failed to create audit log")
			}
		}()

		logRequest(c, duration)
	}
}

func isAudited(r *http.Request) bool {
	if r.Method == http.MethodGet || r.Method == http.MethodOptions || r.Method == http.MethodHead {
		return false
	}
	return r.URL.Path != "/health"
}

func logRequest(c *gin.Context, duration time.Duration) {
	fields := logrus.Fields{
		"method":     c.Request.Method,
		"path":       c.Request.URL.Path,
		"status":     c.Writer.Status(),
		"duration":   duration.Milliseconds(),
		"ip":         c.ClientIP(),
		"user_agent": c.Request.UserAgent(),
	}
	if traderID, ok := c.Get("trader_id"); ok {
		fields["trader_id"] = traderID
	}
	entry := logrus.WithFields(fields)
	if c.Writer.Status() >= http.StatusInternalServerError {
		entry.Warn("Request failed")
		return
	}
	entry.Info("Request processed")
}

func contextTraderID(c *gin.Context) *uuid.UUID {
	traderID, ok := c.Get("trader_id")
	if !ok {
		return nil
	}
	if tid, ok := traderID.(string); ok {
		if parsed, err := uuid.Parse(tid); err == nil {
			return &parsed
		}
	}
	return nil
}

// responseEntityID picks data.id out of a success envelope, so creations are
// audited against the row they produced.
func responseEntityID(body []byte) (uuid.UUID, bool) {
	var envelope struct {
		Data struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(envelope.Data.ID)
	return id, err == nil
}

func extractResourceType(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) >= 2 && parts[0] == "v1" {
		return parts[1]
	}
	if len(parts) >= 1 && parts[0] != "" {
		return parts[0]
	}
	return "unknown"
}

func extractResourceID(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for _, part := range parts {
		if _, err := uuid.Parse(part); err == nil {
			return part
		}
	}
	return ""
}
