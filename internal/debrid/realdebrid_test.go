package debrid

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAuth is a TokenSource with a fixed token and a logout flag.
type stubAuth struct {
	token     string
	err       error
	loggedOut atomic.Bool
}

func (s *stubAuth) Token(ctx context.Context) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.token, nil
}

func (s *stubAuth) Logout(ctx context.Context) error {
	s.loggedOut.Store(true)
	return nil
}

func newTestRealDebrid(srv *httptest.Server, auth *stubAuth) *RealDebrid {
	c := NewRealDebrid(auth, nil)
	c.baseURL = srv.URL
	return c
}

func TestRealDebridDownloadCycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/torrents/addMagnet", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Contains(t, r.PostForm.Get("magnet"), "magnet:?xt=urn:btih:")
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusCreated)
		fmt.Fprint(w, `{"id":"TOR1","uri":"/torrents/info/TOR1"}`)
	})
	mux.HandleFunc("/torrents/selectFiles/TOR1", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "all", r.PostForm.Get("files"))
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/torrents/info/TOR1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"id":"TOR1","hash":"aaa","status":"downloaded","progress":100,
			"files":[{"id":1,"path":"/movie.mkv","bytes":1000,"selected":1}],
			"links":["https://real-debrid.com/d/ABC"]}`)
	})
	mux.HandleFunc("/unrestrict/link", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "https://real-debrid.com/d/ABC", r.PostForm.Get("link"))
		fmt.Fprint(w, `{"filename":"movie.mkv","filesize":1000,"download":"https://dl.real-debrid.com/movie.mkv"}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestRealDebrid(srv, &stubAuth{token: "tok"})
	ctx := context.Background()

	id, err := c.AddMagnet(ctx, "magnet:?xt=urn:btih:aaa")
	require.NoError(t, err)
	assert.Equal(t, "TOR1", id)

	require.NoError(t, c.SelectFiles(ctx, id, nil))

	torrent, err := c.PollStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, torrent.Ready)
	require.Len(t, torrent.Links, 1)

	result, err := c.ResolveLink(ctx, torrent.Links[0])
	require.NoError(t, err)
	assert.Equal(t, "https://dl.real-debrid.com/movie.mkv", result.URL)
	assert.Equal(t, "movie.mkv", result.Filename)
}

func TestRealDebridCheckHashes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{
			"aaa":{"rd":[{"1":{"filename":"movie.mkv","filesize":1000}}]},
			"bbb":{"rd":[]},
			"ccc":{"rd":[
				{"1":{"filename":"e01.mkv","filesize":10},"2":{"filename":"e02.mkv","filesize":20}},
				{"1":{"filename":"e01.mkv","filesize":10}}
			]}
		}`)
	}))
	defer srv.Close()

	c := newTestRealDebrid(srv, &stubAuth{token: "tok"})

	records, err := c.CheckHashes(context.Background(), []string{"AAA", "BBB", "CCC", "DDD"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	full := records["AAA"]
	require.NotNil(t, full)
	assert.Empty(t, full.Batches)
	require.Len(t, full.Files, 1)
	assert.Equal(t, "movie.mkv", full.Files[0].Name)

	partial := records["CCC"]
	require.NotNil(t, partial)
	assert.Len(t, partial.Batches, 2)
	assert.Len(t, partial.Files, 2)

	assert.Nil(t, records["BBB"])
	assert.Nil(t, records["DDD"])
}

func TestRealDebridUnauthorizedForcesLogout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	auth := &stubAuth{token: "stale"}
	c := newTestRealDebrid(srv, auth)

	_, err := c.AddMagnet(context.Background(), "magnet:?xt=urn:btih:aaa")
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.True(t, auth.loggedOut.Load())
}

func TestRealDebridRequestErrorCarriesStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "maintenance")
	}))
	defer srv.Close()

	c := newTestRealDebrid(srv, &stubAuth{token: "tok"})

	_, err := c.PollStatus(context.Background(), "TOR1")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.Status)
	assert.Equal(t, "maintenance", reqErr.Description)
}

func TestMissingTokenShortCircuits(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := newTestRealDebrid(srv, &stubAuth{err: ErrInvalidToken})

	_, err := c.AddMagnet(context.Background(), "magnet:?xt=urn:btih:aaa")
	require.ErrorIs(t, err, ErrInvalidToken)
	assert.EqualValues(t, 0, hits.Load(), "no network call without a token")
}
