// Package rpc implements the read-only JSON-RPC 2.0 diagnostics server.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/hive-ledger-validator/internal/action"
	"github.com/Klingon-tech/hive-ledger-validator/internal/ledger"
	"github.com/Klingon-tech/hive-ledger-validator/internal/log"
	"github.com/Klingon-tech/hive-ledger-validator/internal/metrics"
	"github.com/Klingon-tech/hive-ledger-validator/internal/p2p"
	"github.com/Klingon-tech/hive-ledger-validator/internal/storage"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// RouteLookup resolves the chain handler active for an action at a height.
type RouteLookup interface {
	Route(height uint64, name string) (*action.Handler, bool, error)
}

// HeadSource reports the latest known upstream head.
type HeadSource interface {
	Height() uint64
}

// Deps are the components the diagnostics endpoints read from.
type Deps struct {
	DB     storage.DB
	Ledger *ledger.Ledger
	Routes RouteLookup
	Head   HeadSource
	P2P    *p2p.Node // nil disables the net_* endpoints
}

// Options controls IP filtering and CORS. The zero value allows all IPs
// and disables CORS.
type Options struct {
	AllowedIPs  []string
	CORSOrigins []string
}

// Server is the JSON-RPC 2.0 HTTP server.
type Server struct {
	addr        string
	deps        Deps
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet
	corsOrigins []string
}

// New creates a diagnostics server listening on addr once started.
func New(addr string, deps Deps, opts Options) *Server {
	s := &Server{
		addr:        addr,
		deps:        deps,
		logger:      log.RPC,
		allowedNets: parseAllowedIPs(opts.AllowedIPs),
		corsOrigins: opts.CORSOrigins,
	}

	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving JSON-RPC on / and prometheus
// collectors on /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	mux.Handle("/metrics", s.filter(metrics.Handler()))
	return mux
}

// parseAllowedIPs converts string IP/CIDR entries into net.IPNet.
func parseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
// It returns immediately after the listener is bound.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("rpc listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("RPC server error")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Msg("Diagnostics server listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) filter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.remoteAllowed(r) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) remoteAllowed(r *http.Request) bool {
	if len(s.allowedNets) == 0 {
		return true
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && s.isIPAllowed(ip)
}

// handleRequest is the main HTTP handler for JSON-RPC requests.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if !s.remoteAllowed(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	s.setCORSHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	result, rpcErr := s.dispatch(&req)
	if rpcErr != nil {
		s.logger.Debug().Str("method", req.Method).Int("code", rpcErr.Code).Msg(rpcErr.Message)
		writeJSON(w, Response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeJSON(w, Response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

// dispatch routes a request to the appropriate handler.
func (s *Server) dispatch(req *Request) (any, *Error) {
	switch req.Method {
	case "ledger_status":
		return s.handleStatus(req)
	case "ledger_getBlock":
		return s.handleGetBlock(req)
	case "ledger_route":
		return s.handleRoute(req)
	case "ledger_getBalance":
		return s.handleGetBalance(req)
	case "ledger_getValidators":
		return s.handleGetValidators(req)
	case "net_getPeerInfo":
		return s.handleNetGetPeerInfo(req)
	case "net_getNodeInfo":
		return s.handleNetGetNodeInfo(req)
	case "net_getBanList":
		return s.handleNetGetBanList(req)
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// view runs fn against a read-only snapshot of the ledger.
func (s *Server) view(fn func(r storage.Reader) error) *Error {
	if err := s.deps.DB.View(fn); err != nil {
		return &Error{Code: CodeInternalError, Message: err.Error()}
	}
	return nil
}

// writeJSON writes a JSON-RPC response.
func writeJSON(w http.ResponseWriter, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// writeError writes a JSON-RPC error response.
func writeError(w http.ResponseWriter, id any, code int, message string) {
	writeJSON(w, Response{
		JSONRPC: "2.0",
		Error:   &Error{Code: code, Message: message},
		ID:      id,
	})
}

// isIPAllowed checks if the IP is in the allowed networks list.
func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if len(s.corsOrigins) == 0 || origin == "" {
		return
	}
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			w.Header().Set("Access-Control-Allow-Origin", o)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			return
		}
	}
}

// parseParams unmarshals the request params into the given target.
func parseParams(req *Request, target any) *Error {
	if req.Params == nil {
		return &Error{Code: CodeInvalidParams, Message: "params required"}
	}
	data, err := json.Marshal(req.Params)
	if err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid params"}
	}
	if err := json.Unmarshal(data, target); err != nil {
		return &Error{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}
