package middleware

import "github.com/gin-gonic/gin"

// APIContentSecurityPolicy forbids every resource type; the server only returns JSON.
const APIContentSecurityPolicy = "default-src 'none'; frame-ancestors 'none'"

// SecurityHeaders hardens JSON responses. HSTS is only sent when strictTransport is set,
// so plain HTTP development setups keep working.
func SecurityHeaders(strictTransport bool) gin.HandlerFunc {
	headers := [][2]string{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Content-Security-Policy", APIContentSecurityPolicy},
		{"Referrer-Policy", "no-referrer"},
		{"Cache-Control", "no-store"},
	}
	if strictTransport {
		headers = append(headers, [2]string{"Strict-Transport-Security", "max-age=31536000; includeSubDomains"})
	}

	return func(c *gin.Context) {
		for _, h := range headers {
			c.Header(h[0], h[1])
		}
		c.Next()
	}
}
