// internal/bridge/client.go
//
// The sandboxed side of the boundary. The UI holds a Client and nothing
// else: no store path, no keys, no ssh handles.

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"sshdeck/internal/apperr"
)

// Client is the UI-process handle to the daemon. Calls are serialized; the
// control connection carries one request/response pair at a time.
type Client struct {
	socketPath string
	httpClient *http.Client

	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// Dial connects to the daemon's control endpoint over its unix socket.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	httpClient := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
	}

	conn, _, err := websocket.Dial(ctx, "ws://sshdeck/bridge", &websocket.DialOptions{
		HTTPClient: httpClient,
	})
	if err != nil {
		return nil, apperr.New(apperr.Transport, "could not reach the sshdeck daemon", err)
	}
	conn.SetReadLimit(1024 * 1024)

	return &Client{
		socketPath: socketPath,
		httpClient: httpClient,
		conn:       conn,
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.conn = nil
	return err
}

// call sends one request and decodes the matching response into out.
func (c *Client) call(ctx context.Context, op Op, in, out any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return apperr.New(apperr.InvalidState, "bridge client is closed", nil)
	}

	c.nextID++
	req := Request{ID: c.nextID, Op: op}
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return apperr.New(apperr.Validation, "failed to encode request", err)
		}
		req.Payload = payload
	}

	data, err := json.Marshal(req)
	if err != nil {
		return apperr.New(apperr.Validation, "failed to encode request", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return apperr.New(apperr.Transport, "daemon connection lost", err)
	}

	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			return apperr.New(apperr.Transport, "daemon connection lost", err)
		}

		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			return apperr.New(apperr.Protocol, "malformed daemon response", err)
		}
		if resp.ID != req.ID {
			// Response to an abandoned call; skip it.
			continue
		}

		if !resp.OK {
			if resp.Error != nil {
				return resp.Error.AsAppError()
			}
			return apperr.New(apperr.Unknown, "daemon reported failure", nil)
		}
		if out != nil && len(resp.Payload) > 0 {
			if err := json.Unmarshal(resp.Payload, out); err != nil {
				return apperr.New(apperr.Protocol, "malformed daemon payload", err)
			}
		}
		return nil
	}
}

func (c *Client) ListProfiles(ctx context.Context) (*ProfilesListResult, error) {
	var out ProfilesListResult
	if err := c.call(ctx, OpProfilesList, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) AddProfile(ctx context.Context, profile ProfilePayload, master string) (string, error) {
	var out ProfileSaveResult
	err := c.call(ctx, OpProfilesAdd, &ProfileSaveRequest{Profile: profile, Master: master}, &out)
	return out.ID, err
}

func (c *Client) UpdateProfile(ctx context.Context, profile ProfilePayload, master string) error {
	return c.call(ctx, OpProfilesUpdate, &ProfileSaveRequest{Profile: profile, Master: master}, nil)
}

func (c *Client) DeleteProfile(ctx context.Context, id string) error {
	return c.call(ctx, OpProfilesDelete, &ProfileDeleteRequest{ID: id}, nil)
}

func (c *Client) Encrypt(ctx context.Context, plaintext, passphrase, salt string) (*EncryptResult, error) {
	var out EncryptResult
	err := c.call(ctx, OpVaultEncrypt, &EncryptRequest{Plaintext: plaintext, Passphrase: passphrase, Salt: salt}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Decrypt(ctx context.Context, envelope, passphrase, salt string) (string, error) {
	var out DecryptResult
	err := c.call(ctx, OpVaultDecrypt, &DecryptRequest{Envelope: envelope, Passphrase: passphrase, Salt: salt}, &out)
	return out.Plaintext, err
}

func (c *Client) ConnectSession(ctx context.Context, req SessionConnectRequest) (*SessionConnectResult, error) {
	var out SessionConnectResult
	if err := c.call(ctx, OpSessionConnect, &req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DisconnectSession(ctx context.Context, sessionID string) error {
	return c.call(ctx, OpSessionDisconnect, &SessionRequest{SessionID: sessionID}, nil)
}

func (c *Client) ResizeSession(ctx context.Context, sessionID string, rows, cols int) error {
	return c.call(ctx, OpSessionResize, &SessionResizeRequest{SessionID: sessionID, Rows: rows, Cols: cols}, nil)
}

// TrustHost records the host key of the server behind a profile and returns
// its fingerprint. Call it after a connect failed with an unknown-host error
// and the user accepted the fingerprint from that error.
func (c *Client) TrustHost(ctx context.Context, profileID string) (string, error) {
	var out TrustHostResult
	err := c.call(ctx, OpSessionTrustHost, &TrustHostRequest{ProfileID: profileID}, &out)
	return out.Fingerprint, err
}

func (c *Client) Upload(ctx context.Context, sessionID, localPath, remotePath string) error {
	return c.call(ctx, OpSFTPUpload, &SFTPRequest{SessionID: sessionID, LocalPath: localPath, RemotePath: remotePath}, nil)
}

func (c *Client) Download(ctx context.Context, sessionID, remotePath, localPath string) error {
	return c.call(ctx, OpSFTPDownload, &SFTPRequest{SessionID: sessionID, LocalPath: localPath, RemotePath: remotePath}, nil)
}

// DialSession opens the raw byte stream of a live session as a net.Conn.
// The returned conn carries shell bytes both ways; closing it detaches the
// view without closing the session itself.
func (c *Client) DialSession(ctx context.Context, sessionID string) (net.Conn, error) {
	conn, _, err := websocket.Dial(ctx, fmt.Sprintf("ws://sshdeck/session/%s", sessionID), &websocket.DialOptions{
		HTTPClient: c.httpClient,
	})
	if err != nil {
		return nil, apperr.New(apperr.Transport, "could not attach to session stream", err)
	}
	conn.SetReadLimit(1024 * 1024)
	return websocket.NetConn(ctx, conn, websocket.MessageBinary), nil
}
