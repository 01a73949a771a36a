// Package rpc provides the daemon's websocket interface: swap history and
// live status subscriptions.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	logging "github.com/ipfs/go-log"

	"github.com/jamen-marz/xmr-btc-swap/db"
	pswap "github.com/jamen-marz/xmr-btc-swap/protocol/swap"
)

var log = logging.Logger("rpc")

const (
	methodSubscribeSwapStatus = "swap_subscribeStatus"
	methodSwapHistory         = "swap_history"
)

var errUnknownMethod = errors.New("unknown method")

// Request is the envelope of a websocket RPC request.
type Request struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

// Response is the envelope of a websocket RPC response.
type Response struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// SubscribeSwapStatusRequest ...
type SubscribeSwapStatusRequest struct {
	ID uuid.UUID `json:"id"`
}

// SubscribeSwapStatusResponse is streamed to the client on every transition.
type SubscribeSwapStatusResponse struct {
	ID       uuid.UUID `json:"id"`
	StateTag string    `json:"stateTag"`
	Status   string    `json:"status"`
}

// HistoryEntry ...
type HistoryEntry struct {
	ID       uuid.UUID `json:"id"`
	Role     string    `json:"role"`
	StateTag string    `json:"stateTag"`
}

// Server serves the websocket RPC endpoints.
type Server struct {
	ctx     context.Context
	sm      *pswap.Manager
	db      *db.Database
	httpSrv *http.Server
}

// Config ...
type Config struct {
	Ctx         context.Context
	Port        uint16
	SwapManager *pswap.Manager
	Database    *db.Database
}

// NewServer ...
func NewServer(cfg *Config) *Server {
	s := &Server{
		ctx: cfg.Ctx,
		sm:  cfg.SwapManager,
		db:  cfg.Database,
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", s)

	s.httpSrv = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: time.Second,
	}
	return s
}

// Start starts the server; it returns when the listener is closed.
func (s *Server) Start() error {
	log.Infof("starting websocket RPC server on %s", s.httpSrv.Addr)
	err := s.httpSrv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	return s.httpSrv.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeHTTP ...
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("failed to upgrade connection to websockets: %s", err)
		return
	}

	defer conn.Close() //nolint:errcheck

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			log.Debugf("failed to read websockets message: %s", err)
			break
		}

		var req Request
		if err := json.Unmarshal(data, &req); err != nil {
			_ = writeError(conn, err)
			continue
		}

		if err := s.handleRequest(conn, &req); err != nil {
			_ = writeError(conn, err)
		}
	}
}

func (s *Server) handleRequest(conn *websocket.Conn, req *Request) error {
	switch req.Method {
	case methodSwapHistory:
		return s.handleHistory(conn)
	case methodSubscribeSwapStatus:
		var params SubscribeSwapStatusRequest
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return fmt.Errorf("failed to unmarshal parameters: %w", err)
		}
		return s.handleSubscribeSwapStatus(conn, params.ID)
	default:
		return fmt.Errorf("%w: %s", errUnknownMethod, req.Method)
	}
}

func (s *Server) handleHistory(conn *websocket.Conn) error {
	recs, err := s.db.ListSwaps()
	if err != nil {
		return err
	}

	entries := make([]*HistoryEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, &HistoryEntry{
			ID:       rec.ID,
			Role:     rec.Role.String(),
			StateTag: rec.StateTag,
		})
	}

	return writeResponse(conn, entries)
}

// handleSubscribeSwapStatus streams every state tag the swap passes through
// until it completes or the client disconnects.
func (s *Server) handleSubscribeSwapStatus(conn *websocket.Conn, id uuid.UUID) error {
	info, err := s.sm.GetOngoingSwap(id)
	if err != nil {
		// the swap may already be done; reply with its final state
		past, perr := s.sm.GetPastSwap(id)
		if perr != nil {
			return err
		}
		return writeResponse(conn, &SubscribeSwapStatusResponse{
			ID:       id,
			StateTag: past.StateTag,
			Status:   past.Status.String(),
		})
	}

	for {
		select {
		case tag := <-info.StatusCh():
			resp := &SubscribeSwapStatusResponse{
				ID:       id,
				StateTag: tag,
				Status:   info.Status.String(),
			}
			if err := writeResponse(conn, resp); err != nil {
				return err
			}

			if !s.sm.HasOngoingSwap(id) {
				return nil
			}
		case <-s.ctx.Done():
			return nil
		}
	}
}

func writeResponse(conn *websocket.Conn, result interface{}) error {
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return conn.WriteJSON(&Response{Result: raw})
}

func writeError(conn *websocket.Conn, err error) error {
	return conn.WriteJSON(&Response{Error: err.Error()})
}
