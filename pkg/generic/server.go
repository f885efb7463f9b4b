package generic

import (
	"github.com/gin-gonic/gin"
	"k8s.io/apimachinery/pkg/util/sets"
	"net/http"
)

type Server struct {
	Router  *gin.Engine
	Port    string
	Methods []string
}

// AllowMethods answers 405 for verbs the server does not expose.
func AllowMethods(methods ...string) gin.HandlerFunc {
	allowed := sets.NewString(methods...)
	allowed.Insert(http.MethodHead, http.MethodOptions)
	return func(c *gin.Context) {
		if !allowed.Has(c.Request.Method) {
			c.AbortWithStatus(http.StatusMethodNotAllowed)
			return
		}
		c.Next()
	}
}
