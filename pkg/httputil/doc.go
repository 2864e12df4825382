// Package httputil provides HTTP handler utilities for consistent error handling,
// JSON encoding/decoding, request parsing and request-scoped middleware.
//
//	router.Use(httputil.RequestIDMiddleware(logger), httputil.LoggingMiddleware, httputil.RecoveryMiddleware)
//
//	var req invalidateRequest
//	if !httputil.ParseJSONOrError(w, r, &req) {
//		return
//	}
//	httputil.WriteSuccess(w, result)
package httputil
