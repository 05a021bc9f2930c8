package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"promise-service.io/promise/internal/api/openapi"
	"promise-service.io/promise/internal/pkg/logger"
)

const openAPIResponseValidationMessage = "response does not conform to OpenAPI contract"

// MustOpenAPIValidator is NewOpenAPIValidator that panics on setup failure.
func MustOpenAPIValidator(basePath string) gin.HandlerFunc {
	mw, err := NewOpenAPIValidator(basePath)
	if err != nil {
		panic(fmt.Sprintf("init openapi validator: %v", err))
	}
	return mw
}

// contractValidator checks traffic against the embedded OpenAPI document.
type contractValidator struct {
	router   routers.Router
	basePath string
	opts     *openapi3filter.Options
}

// NewOpenAPIValidator validates requests and responses against the embedded
// contract. Paths the contract does not know pass through untouched.
func NewOpenAPIValidator(basePath string) (gin.HandlerFunc, error) {
	doc, err := openapi.Load(context.Background())
	if err != nil {
		return nil, err
	}
	router, err := gorillamux.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("create openapi router: %w", err)
	}

	v := &contractValidator{
		router:   router,
		basePath: normalizeBasePath(basePath),
		opts: &openapi3filter.Options{
			// JWTAuth and RequirePermission run later in the chain.
			AuthenticationFunc: func(context.Context, *openapi3filter.AuthenticationInput) error { return nil },
		},
	}
	return v.handle, nil
}

func (v *contractValidator) handle(c *gin.Context) {
	routed, route, pathParams, err := v.findRoute(c.Request)
	switch {
	case routeMissing(err, routers.ErrPathNotFound):
		c.Next()
		return
	case routeMissing(err, routers.ErrMethodNotAllowed):
		abortWithOpenAPIError(c, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", err.Error())
		return
	case err != nil:
		abortWithOpenAPIError(c, http.StatusBadRequest, "OPENAPI_ROUTE_INVALID", err.Error())
		return
	}

	in := &openapi3filter.RequestValidationInput{
		Request:    routed,
		PathParams: pathParams,
		Route:      route,
		Options:    v.opts,
	}
	if err := openapi3filter.ValidateRequest(c.Request.Context(), in); err != nil {
		abortWithOpenAPIError(c, http.StatusBadRequest, "OPENAPI_REQUEST_INVALID", err.Error())
		return
	}

	capture := newCapturedResponse(c.Writer)
	c.Writer = capture
	c.Next()
	c.Writer = capture.ResponseWriter

	out := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: in,
		Status:                 capture.Status(),
		Header:                 capture.Header().Clone(),
		Options:                v.opts,
	}
	if capture.body.Len() > 0 {
		out.SetBodyBytes(capture.body.Bytes())
	}
	if err := openapi3filter.ValidateResponse(c.Request.Context(), out); err != nil {
		logger.FromContext(c.Request.Context()).Error("openapi response validation failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", capture.Status()),
			zap.Error(err),
		)
		capture.replaceJSON(http.StatusInternalServerError, "OPENAPI_RESPONSE_INVALID", openAPIResponseValidationMessage)
	}

	if err := capture.flush(); err != nil {
		logger.Warn("failed to flush validated response",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err),
		)
	}
}

// findRoute tries the path as served, then with the base path stripped. The
// returned request is a shallow copy carrying the path that matched.
func (v *contractValidator) findRoute(req *http.Request) (*http.Request, *routers.Route, map[string]string, error) {
	candidates := []string{req.URL.Path}
	if stripped := normalizeValidationPath(v.basePath, req.URL.Path); stripped != req.URL.Path {
		candidates = append(candidates, stripped)
	}

	var lastErr error
	for _, path := range candidates {
		routed := withPath(req, path)
		route, params, err := v.router.FindRoute(routed)
		if err == nil {
			return routed, route, params, nil
		}
		if !routeMissing(err, routers.ErrPathNotFound) {
			return nil, nil, nil, err
		}
		lastErr = err
	}
	return nil, nil, nil, lastErr
}

func withPath(req *http.Request, path string) *http.Request {
	if path == req.URL.Path {
		return req
	}
	out := new(http.Request)
	*out = *req
	u := *req.URL
	u.Path = path
	u.RawPath = ""
	out.URL = &u
	return out
}

func normalizeBasePath(basePath string) string {
	basePath = strings.Trim(strings.TrimSpace(basePath), "/")
	if basePath == "" {
		return ""
	}
	return "/" + basePath
}

func normalizeValidationPath(basePath, path string) string {
	switch {
	case basePath == "" && path == "":
		return "/"
	case basePath == "":
		return path
	case path == basePath:
		return "/"
	case strings.HasPrefix(path, basePath+"/"):
		return strings.TrimPrefix(path, basePath)
	}
	return path
}

// routeMissing matches the router's sentinel whether it arrives bare or
// inside a RouteError.
func routeMissing(err, sentinel error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sentinel) {
		return true
	}
	var routeErr *routers.RouteError
	if errors.As(err, &routeErr) {
		return routeErr.Reason == sentinel.Error()
	}
	return strings.Contains(err.Error(), sentinel.Error())
}

func abortWithOpenAPIError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"code": code, "message": message})
}

// capturedResponse holds the handler output until it has been checked.
type capturedResponse struct {
	gin.ResponseWriter
	body   bytes.Buffer
	status int
}

func newCapturedResponse(w gin.ResponseWriter) *capturedResponse {
	return &capturedResponse{ResponseWriter: w}
}

func (w *capturedResponse) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
}

func (w *capturedResponse) WriteHeaderNow() {
	w.WriteHeader(http.StatusOK)
}

func (w *capturedResponse) Write(data []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(data)
}

func (w *capturedResponse) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func (w *capturedResponse) Status() int {
	if w.status == 0 {
		return http.StatusOK
	}
	return w.status
}

func (w *capturedResponse) Size() int     { return w.body.Len() }
func (w *capturedResponse) Written() bool { return w.status != 0 }

func (w *capturedResponse) replaceJSON(status int, code, message string) {
	w.status = status
	w.body.Reset()
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	fmt.Fprintf(&w.body, `{"code":%q,"message":%q}`, code, message)
}

func (w *capturedResponse) flush() error {
	w.ResponseWriter.WriteHeader(w.Status())
	if w.body.Len() == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.body.Bytes())
	return err
}
