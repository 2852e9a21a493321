package debrid

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAllDebrid(srv *httptest.Server, auth *stubAuth) *AllDebrid {
	c := NewAllDebrid(auth, nil)
	c.baseURL = srv.URL
	return c
}

func TestAllDebridCheckHashesPositional(t *testing.T) {
	hashes := []string{"h0", "h1", "h2", "h3", "h4"}
	instant := []bool{true, false, true, true, false}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, hashes, r.PostForm["magnets[]"])

		fmt.Fprint(w, `{"status":"success","data":{"magnets":[`)
		for i, ok := range instant {
			if i > 0 {
				fmt.Fprint(w, ",")
			}
			fmt.Fprintf(w, `{"magnet":%q,"instant":%t,"files":[{"n":"file.mkv","s":100}]}`, hashes[i], ok)
		}
		fmt.Fprint(w, `]}}`)
	}))
	defer srv.Close()

	c := newTestAllDebrid(srv, &stubAuth{token: "tok"})

	records, err := c.CheckHashes(context.Background(), hashes)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for i, ok := range instant {
		if ok {
			assert.Contains(t, records, hashes[i], "position %d", i)
		} else {
			assert.NotContains(t, records, hashes[i], "position %d", i)
		}
	}
}

func TestAllDebridCheckHashesCountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"magnets":[{"magnet":"h0","instant":true}]}}`)
	}))
	defer srv.Close()

	c := newTestAllDebrid(srv, &stubAuth{token: "tok"})

	_, err := c.CheckHashes(context.Background(), []string{"h0", "h1"})
	require.ErrorIs(t, err, ErrInvalidResponse)
}

func TestAllDebridMultiFileBecomesBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"success","data":{"magnets":[
			{"magnet":"h0","instant":true,"files":[{"n":"e01.mkv","s":10},{"n":"e02.mkv","s":20}]}
		]}}`)
	}))
	defer srv.Close()

	c := newTestAllDebrid(srv, &stubAuth{token: "tok"})

	records, err := c.CheckHashes(context.Background(), []string{"h0"})
	require.NoError(t, err)
	record := records["h0"]
	require.NotNil(t, record)
	assert.Len(t, record.Files, 2)
	require.Len(t, record.Batches, 1)
	assert.Len(t, record.Batches[0].Files, 2)
}

func TestAllDebridUploadAndStatus(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/magnet/upload", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "DebridArr", r.PostForm.Get("agent"))
		fmt.Fprint(w, `{"status":"success","data":{"magnets":[{"id":42}]}}`)
	})
	mux.HandleFunc("/magnet/status", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "42", r.URL.Query().Get("id"))
		fmt.Fprint(w, `{"status":"success","data":{"magnets":{
			"id":42,"hash":"h0","status":"Ready","statusCode":4,
			"links":[{"link":"https://alldebrid.com/f/abc","filename":"movie.mkv","size":1000}]
		}}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := newTestAllDebrid(srv, &stubAuth{token: "tok"})
	ctx := context.Background()

	id, err := c.AddMagnet(ctx, "magnet:?xt=urn:btih:h0")
	require.NoError(t, err)
	assert.Equal(t, "42", id)

	torrent, err := c.PollStatus(ctx, id)
	require.NoError(t, err)
	assert.True(t, torrent.Ready)
	require.Len(t, torrent.Files, 1)
	assert.Equal(t, "https://alldebrid.com/f/abc", torrent.Files[0].Link)

	// Status links are already direct downloads.
	result, err := c.ResolveLink(ctx, torrent.Links[0])
	require.NoError(t, err)
	assert.Equal(t, "https://alldebrid.com/f/abc", result.URL)
}

func TestAllDebridErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","error":{"code":"MAGNET_INVALID_ID","message":"magnet not found"}}`)
	}))
	defer srv.Close()

	c := newTestAllDebrid(srv, &stubAuth{token: "tok"})

	_, err := c.PollStatus(context.Background(), "999")
	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "magnet not found", reqErr.Description)
}
