package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	goRenew "github.com/MrEthical07/goRenew"
)

// GinContextKey is the gin context key holding the gate's [*Auth].
const GinContextKey = "gorenew.auth"

// GinGate is [Gate] as gin middleware. The [*Auth] is stored both in the
// request context and under GinContextKey.
func GinGate(m *goRenew.Manager, opts Options) gin.HandlerFunc {
	g := newGate(m, opts)
	return func(c *gin.Context) {
		a, err := g.check(c.Writer, c.Request)
		if err != nil {
			d := g.classify(c.Request, err)
			if d.status == http.StatusSeeOther || d.status == http.StatusUnauthorized {
				g.clearCookies(c.Writer)
			}
			if d.retry > 0 {
				c.Header("Retry-After", strconv.Itoa(int(d.retry/time.Second)))
			}
			if d.redirect != "" {
				c.Redirect(d.status, d.redirect)
				c.Abort()
				return
			}
			c.AbortWithStatusJSON(d.status, gin.H{"error": d.code})
			return
		}

		c.Request = c.Request.WithContext(withAuth(c.Request.Context(), a))
		c.Set(GinContextKey, a)
		c.Next()
	}
}
