package runtime

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/drblury/funcflow/internal/runtime/config"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/metadata"
)

// HTTPSource is the invocation source reported for knative requests.
const HTTPSource = "http"

// registerKnativeHandler serves every unmatched route of the function port
// with the pipeline.
func (s *Service) registerKnativeHandler() {
	port, err := strconv.Atoi(s.Function.ListenPort())
	if err != nil {
		port, _ = strconv.Atoi(config.DefaultKnativePort)
	}
	s.engine(port).NoRoute(s.serveKnative)
}

func (s *Service) serveKnative(c *gin.Context) {
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err = s.pipeline.Invoke(c.Request.Context(), data,
		WithTrigger(c.Request, c.Writer),
		WithMetadata(headerMetadata(c.Request.Header)),
		WithSource(HTTPSource),
	)
	if c.Writer.Written() {
		if err != nil {
			s.Logger.Debug("Function failed after writing the response", loggingpkg.LogFields{"error": err.Error()})
		}
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "kind": defaultErrorClassifier(err)})
		return
	}
	// Flushes a status set by the handler without a body, 200 otherwise.
	c.Writer.WriteHeaderNow()
}

func headerMetadata(h http.Header) metadata.Metadata {
	md := make(metadata.Metadata, len(h))
	for k, v := range h {
		md[strings.ToLower(k)] = strings.Join(v, ",")
	}
	return md
}
