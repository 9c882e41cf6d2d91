package telephony

import (
	"net/http"
	"net/url"
	"strings"

	"contact-center/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
)

const headerSignature = "X-Twilio-Signature"

// RequireSignature verifies X-Twilio-Signature on form webhooks. The signed
// URL is rebuilt from publicBaseURL's scheme and host, since the service
// usually sits behind a proxy that rewrites them. An empty authToken
// disables the check.
func RequireSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	if authToken == "" {
		return func(c *gin.Context) { c.Next() }
	}
	validator := client.NewRequestValidator(authToken)

	var origin string
	if u, err := url.Parse(publicBaseURL); err == nil && u.Host != "" {
		origin = u.Scheme + "://" + u.Host
	}

	return func(c *gin.Context) {
		if !strings.HasPrefix(c.ContentType(), "application/x-www-form-urlencoded") {
			c.Next()
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatus(http.StatusBadRequest)
			return
		}

		params := make(map[string]string, len(c.Request.PostForm))
		for k, v := range c.Request.PostForm {
			if len(v) > 0 {
				params[k] = v[0]
			}
		}

		if !validator.Validate(signedURL(c, origin), params, c.GetHeader(headerSignature)) {
			logger.FromGin(c).Warn("webhook signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}

func signedURL(c *gin.Context, origin string) string {
	if origin == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		if fwd := c.GetHeader("X-Forwarded-Proto"); fwd != "" {
			scheme = fwd
		}
		origin = scheme + "://" + c.Request.Host
	}
	return origin + c.Request.URL.RequestURI()
}
