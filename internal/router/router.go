package router

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"

	"dispatch_engine/internal/config"
	"dispatch_engine/internal/dispatch"
	"dispatch_engine/internal/observability"
	"dispatch_engine/internal/routing"
)

// Default security limits
const (
	DefaultMaxRequestBodySize = 10 << 20 // 10 MB
	DefaultMaxMultipartMemory = 32 << 20
)

// ClientIPItem is the RequestContext item holding the resolved client address
const ClientIPItem = "client_ip"

// Host is the engine surface the router drives
type Host interface {
	ProcessRequest(ctx context.Context, rc *dispatch.RequestContext) error
	HubHost
	StreamHost
	Dispatcher() *dispatch.Dispatcher
}

// Config holds router configuration
type Config struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Host receives translated requests and connection events
	Host Host

	// Sockets and Streams hold the live real-time connections. Either may be
	// nil to disable that endpoint.
	Sockets *HubSockets
	Streams *EventStreams

	// Endpoint paths
	HubsPath    string // default: /hubs
	StreamPath  string // default: /events
	MetricsPath string // default: /metrics
	ReadyPath   string // default: /ready

	// Gatherer serves MetricsPath. Nil disables the endpoint.
	Gatherer prometheus.Gatherer

	// Readiness checks behind ReadyPath
	Readiness *observability.HealthConfig

	// Development exposes the route listing at /_routes
	Development bool

	// MaxRequestBodySize caps buffered request bodies
	MaxRequestBodySize int64

	// TrustedProxies whose X-Forwarded-For / X-Real-IP headers are honored
	// (CIDRs or single IPs)
	TrustedProxies []string
}

// DefaultConfig returns a router configuration for host
func DefaultConfig(host Host) *Config {
	return &Config{
		Host:               host,
		HubsPath:           "/hubs",
		StreamPath:         "/events",
		MetricsPath:        "/metrics",
		ReadyPath:          "/ready",
		MaxRequestBodySize: DefaultMaxRequestBodySize,
	}
}

// Router adapts net/http to the engine: plain requests become a
// RequestContext, hub paths upgrade to websockets and stream paths hold an
// event stream open
type Router struct {
	config         *Config
	host           Host
	mux            *http.ServeMux
	logger         *slog.Logger
	trustedNets    []*net.IPNet
	streamPrefix   string
	activeRequests atomic.Int64
	isShuttingDown atomic.Bool
}

// New builds the router and registers its endpoints
func New(cfg *Config) *Router {
	if cfg == nil {
		cfg = DefaultConfig(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBodySize <= 0 {
		cfg.MaxRequestBodySize = DefaultMaxRequestBodySize
	}

	r := &Router{
		config:       cfg,
		host:         cfg.Host,
		mux:          http.NewServeMux(),
		logger:       logger,
		trustedNets:  parseTrustedProxies(cfg.TrustedProxies, logger),
		streamPrefix: cleanPrefix(cfg.StreamPath, "/events"),
	}
	r.registerEndpoints()
	return r
}

func cleanPrefix(p, fallback string) string {
	p = strings.TrimRight(strings.TrimSpace(p), "/")
	if p == "" {
		return fallback
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func (r *Router) registerEndpoints() {
	if r.config.Gatherer != nil {
		r.mux.Handle("GET "+cleanPrefix(r.config.MetricsPath, "/metrics"), observability.MetricsHandler(r.config.Gatherer))
	}
	r.mux.HandleFunc("GET "+cleanPrefix(r.config.ReadyPath, "/ready"), r.serveReady)

	if r.config.Sockets != nil {
		r.mux.HandleFunc("GET "+cleanPrefix(r.config.HubsPath, "/hubs")+"/{hub}", r.serveHub)
	}
	if r.config.Streams != nil {
		r.mux.HandleFunc("GET "+r.streamPrefix, r.serveStream)
		r.mux.HandleFunc("GET "+r.streamPrefix+"/{rest...}", r.serveStream)
	}
	if r.config.Development {
		r.mux.HandleFunc("GET /_routes", r.serveRoutes)
	}
	r.mux.HandleFunc("/", r.serveDispatch)
}

// ServeHTTP implements http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if r.isShuttingDown.Load() {
		w.Header().Set("Connection", "close")
		w.Header().Set("Retry-After", "30")
		config.RespondError(w, http.StatusServiceUnavailable, "Service Unavailable - Shutting Down", "", nil)
		return
	}

	r.activeRequests.Add(1)
	defer r.activeRequests.Add(-1)

	rw := acquireResponseWriter(w)
	defer releaseResponseWriter(rw)

	r.mux.ServeHTTP(rw, req)

	r.logger.Debug("http request served",
		"method", req.Method,
		"path", req.URL.Path,
		"status", rw.statusCode,
		"bytes", rw.bytesWritten,
	)
}

// ActiveRequests reports in-flight requests, long-lived streams included
func (r *Router) ActiveRequests() int64 {
	return r.activeRequests.Load()
}

// Drain rejects new requests and closes every hub socket and event stream.
// Register it with http.Server.RegisterOnShutdown.
func (r *Router) Drain() {
	if r.isShuttingDown.Swap(true) {
		return
	}
	r.logger.Info("router draining", "active_requests", r.activeRequests.Load())
	if r.config.Sockets != nil {
		r.config.Sockets.CloseAll()
	}
	if r.config.Streams != nil {
		r.config.Streams.CloseAll()
	}
}

func (r *Router) serveDispatch(w http.ResponseWriter, req *http.Request) {
	if req.Body != nil {
		req.Body = http.MaxBytesReader(w, req.Body, r.config.MaxRequestBodySize)
	}

	rc, err := newRequestContext(req)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			config.RespondError(w, http.StatusRequestEntityTooLarge, "Request body too large", "", r.logger)
			return
		}
		config.RespondBadRequest(w, "Malformed request body", err.Error())
		return
	}
	rc.Items[ClientIPItem] = r.extractClientIP(req)

	// the error is already logged and turned into a 500 by the host
	_ = r.host.ProcessRequest(req.Context(), rc)
	writeResponse(w, req, rc)
}

func (r *Router) serveReady(w http.ResponseWriter, req *http.Request) {
	if r.isShuttingDown.Load() {
		config.RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": string(observability.StatusUnhealthy)})
		return
	}
	checks := r.config.Readiness
	if checks == nil {
		checks = &observability.HealthConfig{}
	}
	response, status := checks.Run(req.Context())
	config.RespondJSON(w, status, response)
}

func (r *Router) serveHub(w http.ResponseWriter, req *http.Request) {
	r.config.Sockets.Serve(w, req, req.PathValue("hub"), r.host)
}

func (r *Router) serveStream(w http.ResponseWriter, req *http.Request) {
	path := "/" + req.PathValue("rest")
	r.config.Streams.Serve(w, req, path, r.host)
}

type routeInfo struct {
	Template   string   `json:"template"`
	Path       string   `json:"path"`
	Verbs      []string `json:"verbs,omitempty"`
	Area       string   `json:"area,omitempty"`
	Controller string   `json:"controller"`
	Action     string   `json:"action"`
	Declared   bool     `json:"declared"`
}

func (r *Router) serveRoutes(w http.ResponseWriter, _ *http.Request) {
	routes := r.host.Dispatcher().Table().Routes()
	out := make([]routeInfo, 0, len(routes))
	for _, rt := range routes {
		out = append(out, describeRoute(rt))
	}
	config.RespondJSON(w, http.StatusOK, map[string]any{
		"count":       len(out),
		"routes":      out,
		"stream_path": r.streamPrefix,
	})
}

func describeRoute(rt *routing.Route) routeInfo {
	info := routeInfo{
		Template: rt.Template,
		Path:     rt.Path,
		Verbs:    rt.Verbs,
		Area:     rt.Area,
		Declared: rt.Declared,
	}
	if rt.Controller != nil {
		info.Controller = rt.Controller.Name
	}
	if rt.Action != nil {
		info.Action = rt.Action.Name
	}
	return info
}

// parseTrustedProxies parses CIDR ranges and IPs into net.IPNet
func parseTrustedProxies(proxies []string, logger *slog.Logger) []*net.IPNet {
	var nets []*net.IPNet
	for _, proxy := range proxies {
		if strings.Contains(proxy, "/") {
			_, ipNet, err := net.ParseCIDR(proxy)
			if err != nil {
				logger.Warn("invalid trusted proxy CIDR", "proxy", proxy, "error", err)
				continue
			}
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(proxy)
		if ip == nil {
			logger.Warn("invalid trusted proxy IP", "proxy", proxy)
			continue
		}
		bits := 128
		if ip.To4() != nil {
			bits = 32
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

func (r *Router) trusted(ip net.IP) bool {
	for _, n := range r.trustedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// extractClientIP returns the peer address, or the rightmost untrusted
// X-Forwarded-For entry when the peer is a trusted proxy
func (r *Router) extractClientIP(req *http.Request) string {
	remoteIP, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		remoteIP = req.RemoteAddr
	}
	if len(r.trustedNets) == 0 {
		return remoteIP
	}

	ip := net.ParseIP(remoteIP)
	if ip == nil || !r.trusted(ip) {
		return remoteIP
	}

	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			parsed := net.ParseIP(hop)
			if parsed == nil {
				continue
			}
			if !r.trusted(parsed) {
				return hop
			}
		}
	}
	if xRealIP := req.Header.Get("X-Real-IP"); xRealIP != "" {
		return strings.TrimSpace(xRealIP)
	}
	return remoteIP
}
