package logging

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"time"
)

type contextKey string

const (
	loggerKey  contextKey = "logger"
	traceIDKey contextKey = "trace_id"
)

// GenerateTraceID generates a new trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext retrieves the logger from context
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerKey).(*Logger); ok {
		return l
	}
	return Default()
}

// NewContext creates a new context with the logger
func NewContext(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// WithTraceContext adds a trace ID to the context and returns a logger with it
func WithTraceContext(ctx context.Context) (context.Context, *Logger) {
	traceID := GenerateTraceID()
	l := Default().WithTraceID(traceID)
	newCtx := context.WithValue(ctx, traceIDKey, traceID)
	newCtx = context.WithValue(newCtx, loggerKey, l)
	return newCtx, l
}

// TradeContext creates a logger context for trade-store write operations
func TradeContext(symbol, side string, quantity, price float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":   symbol,
		"side":     side,
		"quantity": quantity,
		"price":    price,
	}).WithComponent("store")
}

// OrderContext creates a logger context for order submission/lifecycle
func OrderContext(clientID, symbol, side, orderType string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"client_id":  clientID,
		"symbol":     symbol,
		"side":       side,
		"order_type": orderType,
	}).WithComponent("executor")
}

// PositionContext creates a logger context for position updates
func PositionContext(symbol, side string, entryPrice, quantity float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":      symbol,
		"side":        side,
		"entry_price": entryPrice,
		"quantity":    quantity,
	}).WithComponent("executor")
}

// CandleContext creates a logger context for the candle trade manager
func CandleContext(symbol, state string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol": symbol,
		"state":  state,
	}).WithComponent("candle")
}

// SignalContext creates a logger context for trading signals
func SignalContext(symbol, side string, confidence float64) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"side":       side,
		"confidence": confidence,
	}).WithComponent("signal")
}

// SubscriptionContext creates a logger context for subscription manager events
func SubscriptionContext(symbol string, priority int, realtime bool) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":   symbol,
		"priority": priority,
		"realtime": realtime,
	}).WithComponent("subscription")
}

// APIContext creates a logger context for operator API operations
func APIContext(method, path string, statusCode int) *Logger {
	return Default().WithFields(map[string]interface{}{
		"method":      method,
		"path":        path,
		"status_code": statusCode,
	}).WithComponent("api")
}

// StreamContext creates a logger context for the broker WebSocket stream
func StreamContext(symbol, eventType string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"symbol":     symbol,
		"event_type": eventType,
	}).WithComponent("stream")
}

// HTTPMiddleware is a middleware that adds logging to HTTP requests
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = GenerateTraceID()
		}

		l := Default().WithTraceID(traceID).WithFields(map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"remote_addr": r.RemoteAddr,
			"user_agent":  r.UserAgent(),
		}).WithComponent("http")

		ctx := NewContext(r.Context(), l)
		r = r.WithContext(ctx)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		l.WithDuration(duration).WithField("status_code", wrapped.statusCode).Info("request completed")
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// BrokerContext creates a logger context for broker REST calls
func BrokerContext(endpoint string, params map[string]interface{}) *Logger {
	l := Default().WithFields(map[string]interface{}{
		"endpoint": endpoint,
	}).WithComponent("broker")

	for k, v := range params {
		if k != "signature" && k != "appkey" && k != "appsecret" {
			l = l.WithField(k, v)
		}
	}

	return l
}

// StoreContext creates a logger context for trade-store operations
func StoreContext(operation, table string) *Logger {
	return Default().WithFields(map[string]interface{}{
		"operation": operation,
		"table":     table,
	}).WithComponent("store")
}
