package room

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whisper/roomchat/internal/protocol"
)

var alice = protocol.Participant{ID: 9, Name: "Alice"}

func TestFetchRoom_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rooms/42", r.URL.Path)
		assert.Equal(t, "9", r.Header.Get(HeaderUserID))
		assert.Equal(t, "Alice", r.Header.Get(HeaderUsername))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"name":"general","created_by":7}`))
	}))
	defer srv.Close()

	dir := NewHTTPDirectory(srv.URL, alice, WithAccessToken("secret"))
	got, err := dir.FetchRoom(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, Room{ID: "42", Name: "general", OwnerID: 7}, got)
}

func TestFetchRoom_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewHTTPDirectory(srv.URL, alice).FetchRoom(context.Background(), "nope")

	var fetchErr *MetadataFetchError
	require.ErrorAs(t, err, &fetchErr)
	require.Equal(t, "nope", fetchErr.RoomID)
	require.ErrorIs(t, err, ErrRoomNotFound)
}

func TestFetchRoom_Failures(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{name: "server error", status: http.StatusInternalServerError, body: `{}`},
		{name: "malformed body", status: http.StatusOK, body: `{"name":`},
		{name: "missing owner", status: http.StatusOK, body: `{"name":"general"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewHTTPDirectory(srv.URL, alice).FetchRoom(context.Background(), "1")
			var fetchErr *MetadataFetchError
			require.ErrorAs(t, err, &fetchErr)
			require.False(t, errors.Is(err, ErrRoomNotFound))
		})
	}
}

func TestFetchRoom_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPDirectory(url, alice).FetchRoom(context.Background(), "1")
	var fetchErr *MetadataFetchError
	require.ErrorAs(t, err, &fetchErr)
}

func TestDeleteRoom_OK(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/rooms/42", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewHTTPDirectory(srv.URL, alice).DeleteRoom(context.Background(), "42"))
	require.Equal(t, 1, calls)
}

func TestDeleteRoom_Rejected(t *testing.T) {
	cases := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"forbidden", http.StatusForbidden, ErrForbidden},
		{"not found", http.StatusNotFound, ErrRoomNotFound},
		{"server error", http.StatusInternalServerError, nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			err := NewHTTPDirectory(srv.URL, alice).DeleteRoom(context.Background(), "42")

			var mutErr *MutationFailedError
			require.ErrorAs(t, err, &mutErr)
			require.Equal(t, tc.status, mutErr.Status)
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
			}
		})
	}
}

func TestCreateRoom(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rooms", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"5","name":"general","created_by":9}`))
	}))
	defer srv.Close()

	got, err := NewHTTPDirectory(srv.URL, alice).CreateRoom(context.Background(), "general")
	require.NoError(t, err)
	require.Equal(t, Room{ID: "5", Name: "general", OwnerID: 9}, got)
}

func TestIdentityHeader(t *testing.T) {
	h := IdentityHeader(alice)
	require.Equal(t, "9", h.Get(HeaderUserID))
	require.Equal(t, "Alice", h.Get(HeaderUsername))
}
