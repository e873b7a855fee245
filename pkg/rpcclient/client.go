// Package rpcclient is the HTTP+JSON peer client a node's Replicator
// and snapshot sender dial through, mirroring the teacher's
// pkg/rpc.HTTPStore/HTTPRemote shape adapted to tabletdb's
// {code,msg,data} response envelope.
package rpcclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"tabletdb/pkg/dberrors"
	"tabletdb/pkg/filetransfer"
	"tabletdb/pkg/manager"
	"tabletdb/pkg/replication"
	"tabletdb/pkg/types"
)

type wireResponse struct {
	Code dberrors.Code   `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Client talks to one peer tablet's rpcserver endpoint.
type Client struct {
	baseURL string
	http    *http.Client
}

func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *Client) call(ctx context.Context, path string, reqBody, respBody interface{}) error {
	var body io.Reader
	if reqBody != nil {
		b, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	var wr wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wr); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	if wr.Code != dberrors.CodeOK {
		return dberrors.New(wr.Code, wr.Msg)
	}
	if respBody != nil && len(wr.Data) > 0 {
		if err := json.Unmarshal(wr.Data, respBody); err != nil {
			return fmt.Errorf("%s: decode data: %w", path, err)
		}
	}
	return nil
}

// AppendEntries implements replication.FollowerClient against a peer's
// /v1/tablet/append-entries route.
func (c *Client) AppendEntries(ctx context.Context, req replication.AppendEntriesRequest) (replication.AppendEntriesResponse, error) {
	wireReq := struct {
		TID     types.TID                         `json:"tid"`
		PID     types.PID                         `json:"pid"`
		Request replication.AppendEntriesRequest `json:"request"`
	}{TID: req.TID, PID: req.PID, Request: req}

	var resp replication.AppendEntriesResponse
	err := c.call(ctx, "/v1/tablet/append-entries", wireReq, &resp)
	return resp, err
}

// SendChunk implements manager.ChunkSender against a peer's
// /v1/tablet/send-data route.
func (c *Client) SendChunk(ctx context.Context, chunk filetransfer.Chunk) error {
	return c.call(ctx, "/v1/tablet/send-data", chunk, nil)
}

// Dialer caches one Client per endpoint and implements
// manager.FollowerDialer, handing out the same *Client for both
// replication.FollowerClient and manager.ChunkSender roles — a peer
// connection is one HTTP client either way.
type Dialer struct {
	mu      sync.Mutex
	clients map[types.NodeID]*Client
}

func NewDialer() *Dialer {
	return &Dialer{clients: make(map[types.NodeID]*Client)}
}

func (d *Dialer) Dial(endpoint types.NodeID) (replication.FollowerClient, manager.ChunkSender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[endpoint]
	if !ok {
		c = New(baseURLFor(endpoint))
		d.clients[endpoint] = c
	}
	return c, c
}

// baseURLFor turns an endpoint NodeID (host:port) into an http base URL.
func baseURLFor(endpoint types.NodeID) string {
	s := string(endpoint)
	if strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://") {
		return s
	}
	return "http://" + s
}
