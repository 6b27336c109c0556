package proxyhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/tomasen/realip"

	"github.com/tos-network/rpc-gateway/internal/metrics"
	"github.com/tos-network/rpc-gateway/internal/util"
)

// maxBodyBytes bounds the method-extractor's buffered read. A body over
// this limit is forwarded empty and without a method tag rather than
// fully buffered.
const maxBodyBytes = 10 * 1024 * 1024

const (
	ctxRPCMethod = "rpc_method"
	ctxBackend   = "backend"
	ctxRequestID = "request_id"
)

// corsMiddleware allows cross-origin requests from any client.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

// requestIDMiddleware attaches a per-request correlation id for structured
// logs.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(ctxRequestID, uuid.NewString())
		c.Next()
	}
}

// methodExtractorMiddleware reads the body once (bounded at maxBodyBytes),
// partially deserializes it to find only the `method` key via a streaming
// token scan that never allocates the full parameter list, tags the
// request, and reconstructs the body so downstream handlers see the
// original bytes.
func methodExtractorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body == nil {
			c.Next()
			return
		}

		limited := io.LimitReader(c.Request.Body, maxBodyBytes+1)
		buf, err := io.ReadAll(limited)
		c.Request.Body.Close()

		if err != nil || len(buf) > maxBodyBytes {
			// Overflow or read failure: forward empty body, no method tag.
			c.Request.Body = io.NopCloser(bytes.NewReader(nil))
			c.Next()
			return
		}

		if method, ok := extractMethod(buf); ok {
			c.Set(ctxRPCMethod, method)
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(buf))
		c.Next()
	}
}

// extractMethod scans JSON tokens looking for a top-level "method" string
// field, skipping every other field's value without materializing it. It
// never builds a dynamic document.
func extractMethod(body []byte) (string, bool) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return "", false
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return "", false
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return "", false
		}
		key, ok := keyTok.(string)
		if !ok {
			return "", false
		}

		if key == "method" {
			valTok, err := dec.Token()
			if err != nil {
				return "", false
			}
			method, ok := valTok.(string)
			return method, ok
		}

		if err := skipValue(dec); err != nil {
			return "", false
		}
	}
	return "", false
}

// skipValue advances dec past one JSON value without allocating it,
// recursing into nested objects/arrays only as deep as needed to find
// their matching close delimiter.
func skipValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		// Scalar value (string, number, bool, null): already consumed.
		return nil
	}
	if delim != '{' && delim != '[' {
		return fmt.Errorf("unexpected delimiter %v", delim)
	}
	depth := 1
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
	}
	return nil
}

// requestLoggerMiddleware logs method/path/addr/duration plus the
// rpc_method/backend tags set by earlier/later stages.
func requestLoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ip := realip.FromRequest(c.Request)

		c.Next()

		fields := []interface{}{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"remote_addr", ip,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		}
		if rpcMethod, ok := c.Get(ctxRPCMethod); ok {
			fields = append(fields, "rpc_method", rpcMethod)
		}
		if backend, ok := c.Get(ctxBackend); ok {
			fields = append(fields, "backend", backend)
		}
		if reqID, ok := c.Get(ctxRequestID); ok {
			fields = append(fields, "request_id", reqID)
		}
		util.Debugw("proxy request", fields...)
	}
}

// metricsMiddleware records the request duration histogram and count.
func metricsMiddleware(m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		rpcMethod, _ := c.Get(ctxRPCMethod)
		backend, _ := c.Get(ctxBackend)
		rpcMethodStr, _ := rpcMethod.(string)
		backendStr, _ := backend.(string)

		m.ObserveRequest(rpcMethodStr, backendStr, c.Request.Method, c.Writer.Status(), time.Since(start))
	}
}
