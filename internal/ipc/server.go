package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"

	"nightshift/internal/daemon"
	"nightshift/internal/ledger"
	"nightshift/internal/logging"
	"nightshift/internal/services"
)

const defaultLimit = 50

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	logger = logging.NewComponentLogger(logger, "ipc")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	srv := &service{daemon: d, logger: logger, ctx: ctx}
	if err := rpcServer.RegisterName(serviceName, srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(s.logger, "accept failed", "ipc_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "Check socket permissions and restart the daemon if needed"))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		logging.WarnWithContext(s.logger, "failed to remove socket", "ipc_socket_cleanup_failed",
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "Remove the socket file manually"))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

// request returns the context and logger for one call, tagged with the
// client's correlation id.
func (s *service) request(meta Meta) (context.Context, *slog.Logger) {
	ctx := s.ctx
	if meta.RequestID != "" {
		ctx = services.WithRequestID(ctx, meta.RequestID)
	}
	return ctx, logging.WithContext(ctx, s.logger)
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}

func (s *service) Status(req StatusRequest, resp *StatusResponse) error {
	ctx, _ := s.request(req.Meta)
	resp.Status = s.daemon.Status(ctx, req.Checks)
	return nil
}

func (s *service) RunNow(req RunNowRequest, resp *RunNowResponse) error {
	_, logger := s.request(req.Meta)
	id, err := s.daemon.RunNow(req.Gated)
	if err != nil {
		return err
	}
	resp.SessionID = id
	logger.Info("run started via IPC",
		logging.String(logging.FieldEventType, "manual_run"),
		logging.String(logging.FieldRunID, id))
	return nil
}

func (s *service) Session(req SessionRequest, resp *SessionResponse) error {
	ctx, _ := s.request(req.Meta)
	session, err := s.daemon.Session(ctx, req.ID)
	if err != nil {
		return err
	}
	resp.Session = session
	return nil
}

func (s *service) Stop(req StopRequest, resp *StopResponse) error {
	_, logger := s.request(req.Meta)
	s.daemon.RequestShutdown()
	resp.Stopped = true
	logger.Info("daemon stop requested via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	ctx, _ := s.request(req.Meta)
	sessions, err := s.daemon.History(ctx, limitOrDefault(req.Limit))
	if err != nil {
		return err
	}
	resp.Sessions = sessions
	return nil
}

func (s *service) Retries(req RetriesRequest, resp *RetriesResponse) error {
	ctx, _ := s.request(req.Meta)
	entries, err := s.daemon.Retries(ctx, req.Exhausted)
	if err != nil {
		return err
	}
	resp.Entries = entries
	return nil
}

func (s *service) ResetRetry(req ResetRetryRequest, resp *ResetRetryResponse) error {
	ctx, logger := s.request(req.Meta)
	err := s.daemon.ResetRetry(ctx, req.Path)
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		resp.Reset = false
		return nil
	case err != nil:
		return err
	}
	resp.Reset = true
	logger.Info("retry reset via IPC",
		logging.String(logging.FieldEventType, "retry_reset"),
		logging.String(logging.FieldPath, req.Path))
	return nil
}

func (s *service) Files(req FilesRequest, resp *FilesResponse) error {
	ctx, _ := s.request(req.Meta)
	status := ledger.Status(strings.ToLower(strings.TrimSpace(req.Status)))
	switch status {
	case "", ledger.StatusUploaded, ledger.StatusFailed:
	default:
		return fmt.Errorf("unknown record status %q", req.Status)
	}
	records, err := s.daemon.Files(ctx, status, limitOrDefault(req.Limit))
	if err != nil {
		return err
	}
	resp.Records = records
	return nil
}

func (s *service) Search(req SearchRequest, resp *SearchResponse) error {
	ctx, _ := s.request(req.Meta)
	records, err := s.daemon.Search(ctx, ledger.SearchQuery{
		Pattern: req.Pattern,
		From:    req.Since,
		To:      req.Until,
		Limit:   limitOrDefault(req.Limit),
	})
	if err != nil {
		return err
	}
	resp.Records = records
	return nil
}

func (s *service) Versions(req VersionsRequest, resp *VersionsResponse) error {
	ctx, _ := s.request(req.Meta)
	records, err := s.daemon.Versions(ctx, req.Path)
	if err != nil {
		return err
	}
	resp.Records = records
	return nil
}

func (s *service) Restore(req RestoreRequest, resp *RestoreResponse) error {
	ctx, logger := s.request(req.Meta)
	summary, err := s.daemon.Restore(ctx, req.Files)
	if err != nil {
		return err
	}
	if summary.Failed > 0 {
		logger.Warn("restore finished with failures", logging.Int("failed", summary.Failed))
	}
	resp.Summary = summary
	return nil
}

func (s *service) Accounts(req AccountsRequest, resp *AccountsResponse) error {
	ctx, _ := s.request(req.Meta)
	resp.Accounts = s.daemon.Accounts(ctx)
	return nil
}

func (s *service) TestNotification(req TestNotificationRequest, resp *TestNotificationResponse) error {
	ctx, _ := s.request(req.Meta)
	sent, message, err := s.daemon.TestNotification(ctx)
	if err != nil {
		return err
	}
	resp.Sent = sent
	resp.Message = message
	return nil
}
