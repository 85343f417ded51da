package runtime

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/drblury/funcflow/internal/runtime/config"
	"github.com/drblury/funcflow/internal/runtime/jsoncodec"
	transportpkg "github.com/drblury/funcflow/internal/runtime/transport"
)

// IntrospectionPath serves the description of the hosted function.
const IntrospectionPath = "/api/function"

// FunctionInfo is the document served on IntrospectionPath.
type FunctionInfo struct {
	Function      *config.Function           `json:"function"`
	Inputs        []string                   `json:"subscribedInputs,omitempty"`
	Transport     *transportpkg.Capabilities `json:"transport,omitempty"`
	UserPlugins   []string                   `json:"userPlugins"`
	SystemPlugins []string                   `json:"systemPlugins"`
	Stats         *InvocationStats           `json:"stats"`
}

func (s *Service) registerIntrospectionEndpoint() {
	if !s.Conf.IntrospectionEnabled {
		return
	}
	port := s.Conf.IntrospectionPort
	if port == 0 {
		port = 8081
	}
	e := s.engine(port)
	e.GET(IntrospectionPath, s.handleGetFunction)
	e.OPTIONS(IntrospectionPath, s.handleGetFunction)
}

// Describe returns the hosted function with its plugins and stats.
func (s *Service) Describe() FunctionInfo {
	user, system := s.pipeline.Plugins()
	return FunctionInfo{
		Function:      s.Function,
		Inputs:        s.Inputs(),
		UserPlugins:   user.Names(),
		SystemPlugins: system.Names(),
		Stats:         s.stats,
		Transport:     s.transportCaps,
	}
}

func (s *Service) handleGetFunction(c *gin.Context) {
	if len(s.Conf.IntrospectionCORSAllowedOrigins) > 0 {
		if allowed := s.allowedCORSOrigin(c.GetHeader("Origin")); allowed != "" {
			c.Header("Access-Control-Allow-Origin", allowed)
			c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if c.Request.Method == http.MethodOptions {
		c.Status(http.StatusNoContent)
		return
	}

	body, err := jsoncodec.Marshal(s.Describe())
	if err != nil {
		s.Logger.Error("Failed to encode function description", err, nil)
		c.String(http.StatusInternalServerError, "Internal Server Error")
		return
	}
	c.Data(http.StatusOK, "application/json", body)
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for the
// request origin, or "" when it is not allowed.
func (s *Service) allowedCORSOrigin(requestOrigin string) string {
	for _, allowed := range s.Conf.IntrospectionCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
