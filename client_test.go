package data_portal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	assert_ "github.com/stretchr/testify/assert"
	require_ "github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, token string, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(server.URL, StaticToken(token))
}

func TestClient_Login(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	var gotBody map[string]string
	client := newTestClient(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(http.MethodPost, r.Method)
		assert.Equal("/users/login", r.URL.Path)
		assert.Empty(r.Header.Get("Authorization"))
		require.Nil(json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"access_token": "tok123", "is_admin": true}`)
	}))

	result, err := client.Login(context.Background(), "alice", "hunter2")
	require.Nil(err)
	assert.Equal("tok123", result.AccessToken)
	assert.True(result.IsAdmin)
	assert.Equal("alice", gotBody["username"])
	assert.Equal("hunter2", gotBody["password"])
}

func TestClient_Login_BadCredentials(t *testing.T) {
	assert := assert_.New(t)

	client := newTestClient(t, "", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": "invalid credentials"}`)
	}))

	_, err := client.Login(context.Background(), "alice", "wrong")
	assert.ErrorIs(err, ErrUnauthorized)
	assert.Contains(err.Error(), "invalid credentials")
}

func TestClient_BearerToken_Normalized(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	// A token persisted by the legacy client looks like b'<value>'; the
	// Authorization header must carry only <value>.
	client := newTestClient(t, "b'tok123'", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("Bearer tok123", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"files": [], "path": "/"}`)
	}))

	_, err := client.ListFiles(context.Background(), "")
	require.Nil(err)
}

func TestClient_ListFiles_PathObfuscated(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	var gotPath string
	client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Query().Get("path")
		fmt.Fprint(w, `{"files": [{"name": "a.csv", "path": "data/a.csv", "is_file": true, "size": 42, "modified": "2023-01-01"}], "path": "data"}`)
	}))

	listing, err := client.ListFiles(context.Background(), "data")
	require.Nil(err)
	require.Len(listing.Files, 1)
	assert.Equal("a.csv", listing.Files[0].Name)
	assert.EqualValues(42, listing.Files[0].Size)

	// The query parameter must be the ciphertext, not the raw path.
	assert.NotEqual("data", gotPath)
	decrypted, err := DefaultPathCipher().Decrypt(gotPath)
	require.Nil(err)
	assert.Equal("data", decrypted)
}

func TestClient_ErrorTaxonomy(t *testing.T) {
	assert := assert_.New(t)

	for _, tc := range []struct {
		status int
		header http.Header
		check  func(err error)
	}{
		{status: http.StatusUnauthorized, check: func(err error) {
			assert.ErrorIs(err, ErrUnauthorized)
		}},
		{status: http.StatusForbidden, check: func(err error) {
			assert.ErrorIs(err, ErrForbidden)
		}},
		{status: http.StatusTooManyRequests, header: http.Header{"Retry-After": []string{"7"}}, check: func(err error) {
			var rle *RateLimitError
			assert.ErrorAs(err, &rle)
			assert.Equal(7*time.Second, rle.RetryAfter)
		}},
		{status: http.StatusInternalServerError, check: func(err error) {
			var apiErr *APIError
			assert.ErrorAs(err, &apiErr)
			assert.Equal(http.StatusInternalServerError, apiErr.Status)
		}},
	} {
		client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, vs := range tc.header {
				for _, v := range vs {
					w.Header().Set(k, v)
				}
			}
			w.WriteHeader(tc.status)
		}))
		_, err := client.Profile(context.Background())
		tc.check(err)
	}
}

func TestClient_ShareLink(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	client := NewClient("http://portal.example.com", nil)
	link := client.ShareLink("data/a.csv", false)

	u, err := url.Parse(link)
	require.Nil(err)
	assert.Equal("/apikeydownload", u.Path)
	q := u.Query()
	assert.Equal("YOUR_API_KEY", q.Get("api_key"))
	assert.Equal("false", q.Get("is_folder"))

	decrypted, err := DefaultPathCipher().Decrypt(q.Get("token"))
	require.Nil(err)
	assert.Equal("data/a.csv", decrypted)

	// Folder links advertise themselves as such
	u, err = url.Parse(client.ShareLink("data", true))
	require.Nil(err)
	assert.Equal("true", u.Query().Get("is_folder"))
}

func TestClient_GenerateDownloadToken(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/files/generate-download-token", r.URL.Path)
		var body struct {
			Path     string `json:"path"`
			IsFolder bool   `json:"is_folder"`
		}
		require.Nil(json.NewDecoder(r.Body).Decode(&body))
		decrypted, err := DefaultPathCipher().Decrypt(body.Path)
		require.Nil(err)
		assert.Equal("data/a.csv", decrypted)
		assert.False(body.IsFolder)
		fmt.Fprint(w, `{"token": "dl-token"}`)
	}))

	token, err := client.GenerateDownloadToken(context.Background(), "data/a.csv", false)
	require.Nil(err)
	assert.Equal("dl-token", token)
}

func TestClient_FetchFile(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	content := "hello, world"
	client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/files/generate-download-token":
			fmt.Fprint(w, `{"token": "dl-token"}`)
		case "/files/download/dl-token":
			assert.Equal("Bearer tok", r.Header.Get("Authorization"))
			fmt.Fprint(w, content)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	stream, size, err := client.FetchFile(context.Background(), "data/a.csv")
	require.Nil(err)
	defer stream.Close()
	assert.EqualValues(len(content), size)
	data, err := io.ReadAll(stream)
	require.Nil(err)
	assert.Equal(content, string(data))
}

func TestClient_ListKeys_DoubleEncoded(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	// The keys endpoints reply with a JSON string containing the actual JSON
	// document; the client must unwrap it transparently.
	inner := `{"data": {"api_keys": [{"key_id": "k1", "name": "ci", "created_at": "2023-01-01", "expiry_date": "2024-01-01", "last_used": "never"}]}}`
	client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/key", r.URL.Path)
		require.Nil(json.NewEncoder(w).Encode(inner))
	}))

	keys, err := client.ListKeys(context.Background())
	require.Nil(err)
	require.Len(keys, 1)
	assert.Equal("k1", keys[0].KeyID)
	assert.Equal("ci", keys[0].Name)
}

func TestClient_CreateAndDeleteKey(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	var deleted string
	client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/keys":
			fmt.Fprint(w, `{"data": {"api_key": "secret-material"}}`)
		case r.Method == http.MethodDelete:
			deleted = r.URL.Path
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))

	key, err := client.CreateKey(context.Background(), "ci")
	require.Nil(err)
	assert.Equal("secret-material", key)

	require.Nil(client.DeleteKey(context.Background(), "k1"))
	assert.Equal("/keys/k1", deleted)
}

func TestClient_AdminActions(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/admin/pending":
			fmt.Fprint(w, `{"data": [{"id": 7, "username": "bob", "email": "bob@example.com", "created_at": "2023-05-01"}]}`)
		case "/admin/approve/7":
			fmt.Fprint(w, `{"status": "success", "data": {"username": "bob"}}`)
		case "/admin/reject/8":
			fmt.Fprint(w, `{"status": "error", "error": "no such user"}`)
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))

	pending, err := client.PendingUsers(context.Background())
	require.Nil(err)
	require.Len(pending, 1)
	assert.EqualValues(7, pending[0].ID)
	assert.Equal("bob", pending[0].Username)

	username, err := client.ApproveUser(context.Background(), 7)
	require.Nil(err)
	assert.Equal("bob", username)

	_, err = client.RejectUser(context.Background(), 8)
	var apiErr *APIError
	require.ErrorAs(err, &apiErr)
	assert.Contains(apiErr.Message, "no such user")
}

func TestClient_Refresh(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	client := newTestClient(t, "old-token", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("/users/refresh", r.URL.Path)
		assert.Equal("Bearer old-token", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"access_token": "new-token"}`)
	}))

	token, err := client.Refresh(context.Background())
	require.Nil(err)
	assert.Equal("new-token", token)
}

func TestClient_Profile_RoundTrip(t *testing.T) {
	assert := assert_.New(t)
	require := require_.New(t)

	client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"username": "alice", "email": "old@example.com"}`)
		case http.MethodPut:
			var p Profile
			require.Nil(json.NewDecoder(r.Body).Decode(&p))
			require.Nil(json.NewEncoder(w).Encode(p))
		}
	}))

	p, err := client.Profile(context.Background())
	require.Nil(err)
	assert.Equal("alice", p.Username)

	p.Email = "new@example.com"
	updated, err := client.UpdateProfile(context.Background(), p)
	require.Nil(err)
	assert.Equal("new@example.com", updated.Email)
}

func TestNormalizeToken(t *testing.T) {
	assert := assert_.New(t)

	assert.Equal("tok123", NormalizeToken("b'tok123'"))
	assert.Equal("tok123", NormalizeToken("tok123"))
	assert.Equal("", NormalizeToken(""))
	// Not actually wrapped, just unlucky prefixes/suffixes
	assert.Equal("b'", NormalizeToken("b'"))
	assert.Equal("b''", NormalizeToken("b''"))
	assert.Equal("banana'", NormalizeToken("banana'"))
}

func TestStatusError_UnknownBody(t *testing.T) {
	assert := assert_.New(t)

	client := newTestClient(t, "tok", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, "upstream exploded")
	}))
	_, err := client.Profile(context.Background())
	var apiErr *APIError
	assert.True(errors.As(err, &apiErr))
	assert.Equal(http.StatusBadGateway, apiErr.Status)
	assert.Equal("upstream exploded", apiErr.Message)
}
