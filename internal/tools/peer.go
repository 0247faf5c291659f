package tools

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Peer is a named external dependency that can run operations.
type Peer interface {
	Name() string
	Invoke(ctx context.Context, operation string, params map[string]interface{}) (json.RawMessage, error)
}

// maxResponseBytes caps how much of a peer response is read.
const maxResponseBytes = 16 << 20

// HTTPPeer calls a federated peer over signed JSON HTTP.
type HTTPPeer struct {
	name    string
	baseURL string
	token   string
	client  *http.Client
	now     func() time.Time
}

// NewHTTPPeer creates a peer client. The client's own timeout is left unset;
// call timeouts come from the breaker and the caller's context.
func NewHTTPPeer(name, baseURL, token string) *HTTPPeer {
	return &HTTPPeer{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
				MaxIdleConns:    16,
				IdleConnTimeout: 90 * time.Second,
			},
		},
		now: time.Now,
	}
}

// Name implements Peer.
func (p *HTTPPeer) Name() string { return p.name }

// URL returns the peer's base URL.
func (p *HTTPPeer) URL() string { return p.baseURL }

// Invoke implements Peer.
func (p *HTTPPeer) Invoke(ctx context.Context, operation string, params map[string]interface{}) (json.RawMessage, error) {
	requestID := uuid.New().String()
	body, err := json.Marshal(InvokeRequest{Operation: operation, Params: params, RequestID: requestID})
	if err != nil {
		return nil, fmt.Errorf("encode invoke request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create invoke request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderRequestID, requestID)
	SignRequest(req, p.token, body, p.now())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", p.name, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		var er ErrorResponse
		if json.Unmarshal(raw, &er) == nil && er.Error != "" {
			return nil, &PeerError{Peer: p.name, Status: resp.StatusCode, Code: er.Code, Message: er.Error}
		}
		return nil, &PeerError{Peer: p.name, Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
	}

	var out InvokeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", p.name, err)
	}
	return out.Data, nil
}

// PeerError is a non-200 answer from a peer.
type PeerError struct {
	Peer    string
	Status  int
	Code    string
	Message string
}

func (e *PeerError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("peer %s returned %d (%s): %s", e.Peer, e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("peer %s returned %d: %s", e.Peer, e.Status, e.Message)
}

// ParsePeers parses "name=url[,name=url]" into HTTP peers sharing token.
func ParsePeers(spec, token string) ([]*HTTPPeer, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	seen := make(map[string]bool)
	var peers []*HTTPPeer
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, url, ok := strings.Cut(part, "=")
		name, url = strings.TrimSpace(name), strings.TrimSpace(url)
		if !ok || name == "" || url == "" {
			return nil, fmt.Errorf("invalid peer %q: want name=url", part)
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("invalid peer %q: url must be http or https", part)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate peer %q", name)
		}
		seen[name] = true
		peers = append(peers, NewHTTPPeer(name, url, token))
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i].name < peers[j].name })
	return peers, nil
}
