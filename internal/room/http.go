package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/whisper/roomchat/internal/protocol"
)

// HTTPDirectory talks to the room resource API on behalf of one participant.
type HTTPDirectory struct {
	baseURL  string
	identity protocol.Participant
	token    string
	client   *http.Client
}

// Option configures an HTTPDirectory.
type Option func(*HTTPDirectory)

// WithAccessToken attaches "Authorization: Bearer <token>" to every request.
func WithAccessToken(token string) Option {
	return func(d *HTTPDirectory) { d.token = token }
}

// WithHTTPClient replaces the default client (10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(d *HTTPDirectory) { d.client = c }
}

// NewHTTPDirectory creates a directory rooted at baseURL, e.g.
// "http://localhost:8080".
func NewHTTPDirectory(baseURL string, identity protocol.Participant, opts ...Option) *HTTPDirectory {
	d := &HTTPDirectory{
		baseURL:  strings.TrimRight(baseURL, "/"),
		identity: identity,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// roomResponse is the body of GET /rooms/{id}. Only name and created_by are
// required by the contract.
type roomResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy *int64 `json:"created_by"`
}

// FetchRoom implements Directory.
func (d *HTTPDirectory) FetchRoom(ctx context.Context, roomID string) (Room, error) {
	fail := func(err error) (Room, error) {
		return Room{}, &MetadataFetchError{RoomID: roomID, Err: err}
	}
	if roomID == "" {
		return fail(errors.New("empty room id"))
	}

	req, err := d.newRequest(ctx, http.MethodGet, d.roomURL(roomID), nil)
	if err != nil {
		return fail(err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fail(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fail(ErrRoomNotFound)
	case resp.StatusCode != http.StatusOK:
		return fail(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var body roomResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return fail(fmt.Errorf("decode body: %w", err))
	}
	if body.CreatedBy == nil {
		return fail(errors.New(`response without "created_by"`))
	}

	return Room{ID: roomID, Name: body.Name, OwnerID: *body.CreatedBy}, nil
}

// DeleteRoom implements Directory.
func (d *HTTPDirectory) DeleteRoom(ctx context.Context, roomID string) error {
	req, err := d.newRequest(ctx, http.MethodDelete, d.roomURL(roomID), nil)
	if err != nil {
		return &MutationFailedError{RoomID: roomID, Err: err}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return &MutationFailedError{RoomID: roomID, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	cause := fmt.Errorf("unexpected status %d", resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusNotFound:
		cause = ErrRoomNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		cause = ErrForbidden
	}
	return &MutationFailedError{RoomID: roomID, Status: resp.StatusCode, Err: cause}
}

// CreateRoom creates a room owned by the directory's identity.
func (d *HTTPDirectory) CreateRoom(ctx context.Context, name string) (Room, error) {
	payload, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return Room{}, fmt.Errorf("room: create: %w", err)
	}

	req, err := d.newRequest(ctx, http.MethodPost, d.baseURL+"/rooms", bytes.NewReader(payload))
	if err != nil {
		return Room{}, fmt.Errorf("room: create: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Room{}, fmt.Errorf("room: create: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return Room{}, fmt.Errorf("room: create: unexpected status %d", resp.StatusCode)
	}

	var created Room
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&created); err != nil {
		return Room{}, fmt.Errorf("room: create: decode body: %w", err)
	}
	return created, nil
}

func (d *HTTPDirectory) roomURL(roomID string) string {
	return d.baseURL + "/rooms/" + url.PathEscape(roomID)
}

func (d *HTTPDirectory) newRequest(ctx context.Context, method, target string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(HeaderUserID, strconv.FormatInt(d.identity.ID, 10))
	req.Header.Set(HeaderUsername, d.identity.Name)
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	return req, nil
}

// IdentityHeader returns the identity headers for a channel handshake.
func IdentityHeader(p protocol.Participant) http.Header {
	h := http.Header{}
	h.Set(HeaderUserID, strconv.FormatInt(p.ID, 10))
	h.Set(HeaderUsername, p.Name)
	return h
}
