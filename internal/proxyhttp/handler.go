package proxyhttp

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/newrelic"

	"github.com/tos-network/rpc-gateway/internal/apm"
	"github.com/tos-network/rpc-gateway/internal/credential"
)

// proxyHandler authenticates, rate-limits, selects a backend, and forwards
// a single JSON-RPC request.
type proxyHandler struct {
	tables   TableSource
	gate     credential.Gate
	client   http.Client
	apmAgent *apm.Agent
}

func (h *proxyHandler) handle(c *gin.Context) {
	start := time.Now()
	method, _ := c.Get(ctxRPCMethod)
	topMethodStr, _ := method.(string)

	var txn *newrelic.Transaction
	if h.apmAgent != nil {
		if txn = h.apmAgent.StartTransaction(topMethodStr); txn != nil {
			defer txn.End()
		}
		defer func() {
			backend, _ := c.Get(ctxBackend)
			backendStr, _ := backend.(string)
			h.apmAgent.RecordProxyRequest(topMethodStr, backendStr, c.Writer.Status(), time.Since(start).Milliseconds())
		}()
	}

	apiKey := c.Query("api-key")
	if apiKey == "" {
		c.String(http.StatusUnauthorized, "missing api-key")
		return
	}

	_, verdict, err := h.gate.Validate(c.Request.Context(), apiKey)
	if err != nil {
		h.apmAgent.NoticeError(txn, err)
		c.String(http.StatusInternalServerError, "credential store error")
		return
	}
	switch verdict {
	case credential.Unknown:
		c.String(http.StatusUnauthorized, "unknown api-key")
		return
	case credential.RateLimited:
		c.String(http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	table := h.tables.Table()
	label, backendURL, ok := table.SelectHTTP(topMethodStr)
	if !ok {
		c.String(http.StatusServiceUnavailable, "No healthy backends available")
		return
	}
	c.Set(ctxBackend, label)

	cleanedPath := stripAPIKey(c.Request.URL.Path, c.Request.URL.RawQuery)
	targetURL := joinBackendPath(backendURL, cleanedPath)

	parsed, err := url.Parse(targetURL)
	if err != nil {
		h.apmAgent.NoticeError(txn, err)
		c.String(http.StatusInternalServerError, "failed to construct upstream request")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), table.ProxyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, c.Request.Method, parsed.String(), c.Request.Body)
	if err != nil {
		h.apmAgent.NoticeError(txn, err)
		c.String(http.StatusInternalServerError, "failed to construct upstream request")
		return
	}
	req.Header = c.Request.Header.Clone()
	req.Host = parsed.Host

	resp, err := h.client.Do(req)
	if err != nil {
		h.apmAgent.NoticeError(txn, err)
		if ctx.Err() == context.DeadlineExceeded {
			c.String(http.StatusGatewayTimeout, "upstream timeout")
		} else {
			c.String(http.StatusBadGateway, "upstream transport error")
		}
		return
	}
	defer resp.Body.Close()

	for k, vals := range resp.Header {
		for _, v := range vals {
			c.Writer.Header().Add(k, v)
		}
	}
	c.Writer.WriteHeader(resp.StatusCode)
	io.Copy(c.Writer, resp.Body)
}

// stripAPIKey removes the api-key=... query parameter while preserving
// every other parameter and its original ordering.
func stripAPIKey(path, rawQuery string) string {
	if rawQuery == "" {
		return path
	}
	parts := strings.Split(rawQuery, "&")
	kept := parts[:0]
	for _, p := range parts {
		if !strings.HasPrefix(p, "api-key=") {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return path
	}
	return path + "?" + strings.Join(kept, "&")
}

// joinBackendPath implements the normalized URI-rewrite rule: backend_url
// keeps its path; a bare inbound "/" collapses to no suffix and yields
// backend_url with its trailing slashes removed; otherwise the inbound path
// (minus one leading "/" when backend_url already ends in "/") is appended.
func joinBackendPath(backendURL, cleanedPath string) string {
	if cleanedPath == "/" {
		return strings.TrimRight(backendURL, "/")
	}
	if strings.HasSuffix(backendURL, "/") && strings.HasPrefix(cleanedPath, "/") {
		return backendURL + cleanedPath[1:]
	}
	return backendURL + cleanedPath
}
