package middleware

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

// securityHeaders are added to gateway-generated responses unless the
// handler already set them.
var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
}

// SecurityHeaders returns an Echo middleware that adds default security
// headers. It hooks the header write so streamed responses get them too.
// Requests matched by skipper are left alone; skipper may be nil.
func SecurityHeaders(skipper echomw.Skipper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper != nil && skipper(c) {
				return next(c)
			}
			res := c.Response()
			res.Before(func() {
				h := res.Header()
				for key, val := range securityHeaders {
					if h.Get(key) == "" {
						h.Set(key, val)
					}
				}
			})
			return next(c)
		}
	}
}
