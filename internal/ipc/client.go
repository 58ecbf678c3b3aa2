package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"

	"github.com/google/uuid"

	"nightshift/internal/restore"
)

const serviceName = "Nightshift"

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Client) call(method string, req, resp any) error {
	return c.client.Call(serviceName+"."+method, req, resp)
}

func newMeta() Meta {
	return Meta{RequestID: uuid.NewString()}
}

// Status retrieves the daemon status.
func (c *Client) Status(checks bool) (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.call("Status", StatusRequest{Meta: newMeta(), Checks: checks}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RunNow starts a backup pass and returns its session id.
func (c *Client) RunNow(gated bool) (*RunNowResponse, error) {
	var resp RunNowResponse
	if err := c.call("RunNow", RunNowRequest{Meta: newMeta(), Gated: gated}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Session fetches one run session.
func (c *Client) Session(id string) (*SessionResponse, error) {
	var resp SessionResponse
	if err := c.call("Session", SessionRequest{Meta: newMeta(), ID: id}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop asks the daemon to shut down.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.call("Stop", StopRequest{Meta: newMeta()}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// History lists recent run sessions.
func (c *Client) History(limit int) (*HistoryResponse, error) {
	var resp HistoryResponse
	if err := c.call("History", HistoryRequest{Meta: newMeta(), Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Retries lists pending or exhausted retry entries.
func (c *Client) Retries(exhausted bool) (*RetriesResponse, error) {
	var resp RetriesResponse
	if err := c.call("Retries", RetriesRequest{Meta: newMeta(), Exhausted: exhausted}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ResetRetry clears the retry state of path.
func (c *Client) ResetRetry(path string) (*ResetRetryResponse, error) {
	var resp ResetRetryResponse
	if err := c.call("ResetRetry", ResetRetryRequest{Meta: newMeta(), Path: path}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Files lists ledger records, optionally filtered by status.
func (c *Client) Files(status string, limit int) (*FilesResponse, error) {
	var resp FilesResponse
	if err := c.call("Files", FilesRequest{Meta: newMeta(), Status: status, Limit: limit}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Search finds uploaded records by path substring and backup time.
func (c *Client) Search(pattern string, since, until time.Time, limit int) (*SearchResponse, error) {
	var resp SearchResponse
	req := SearchRequest{Meta: newMeta(), Pattern: pattern, Since: since, Until: until, Limit: limit}
	if err := c.call("Search", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Versions lists the restorable versions of path.
func (c *Client) Versions(path string) (*VersionsResponse, error) {
	var resp VersionsResponse
	if err := c.call("Versions", VersionsRequest{Meta: newMeta(), Path: path}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Restore asks the daemon to restore files.
func (c *Client) Restore(files []restore.Request) (*RestoreResponse, error) {
	var resp RestoreResponse
	if err := c.call("Restore", RestoreRequest{Meta: newMeta(), Files: files}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Accounts queries destination capacity.
func (c *Client) Accounts() (*AccountsResponse, error) {
	var resp AccountsResponse
	if err := c.call("Accounts", AccountsRequest{Meta: newMeta()}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.call("TestNotification", TestNotificationRequest{Meta: newMeta()}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
