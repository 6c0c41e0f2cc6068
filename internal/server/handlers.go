package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/10xr-agents/copilot-core/api/schemas"
	"github.com/10xr-agents/copilot-core/internal/agent"
)

const (
	headerTenantID = "X-Tenant-ID"
	headerUserID   = "X-User-ID"
)

// errorResponse is the uniform error envelope.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func errorBody(code, message string) gin.H {
	return gin.H{"error": errorResponse{Code: code, Message: message}}
}

// requireIdentity enforces the authenticated identity headers that an
// upstream gateway injects. Requests without both are rejected before any
// state is touched.
func requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(headerTenantID) == "" || c.GetHeader(headerUserID) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				errorBody("UNAUTHENTICATED", "X-Tenant-ID and X-User-ID headers are required"))
			return
		}
		c.Next()
	}
}

func (s *Server) handleInteract(c *gin.Context) {
	var req schemas.InteractRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity,
			errorBody(string(agent.CodeValidation), err.Error()))
		return
	}
	req.TenantID = c.GetHeader(headerTenantID)
	req.UserID = c.GetHeader(headerUserID)

	next, err := s.interactor.Interact(c.Request.Context(), req)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, next)
}

// renderError maps the agent error taxonomy onto HTTP statuses.
func (s *Server) renderError(c *gin.Context, err error) {
	code := agent.CodeOf(err)
	status := http.StatusInternalServerError

	switch code {
	case agent.CodeTaskNotFound:
		status = http.StatusNotFound
	case agent.CodeTaskComplete, agent.CodeTaskFailed,
		agent.CodeMaxRetriesExceeded, agent.CodeConsecutiveFailures,
		agent.CodeStepLimitExceeded:
		status = http.StatusConflict
	case agent.CodeValidation, agent.CodeInvalidActionFormat:
		status = http.StatusUnprocessableEntity
	case agent.CodeGenerationError:
		status = http.StatusBadGateway
	case agent.CodeStoreFailure:
		status = http.StatusInternalServerError
	}

	if status >= http.StatusInternalServerError {
		s.logger.Error("Interaction failed",
			zap.String("code", string(code)),
			zap.Error(err))
	}
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	c.JSON(status, errorBody(string(code), err.Error()))
}
