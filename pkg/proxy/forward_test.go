package proxy

import (
	"testing"

	"github.com/stretchr/testify/require"

	"wayfare/pkg/model"
)

func TestRewriteAddsConfiguredHeadersAndAuth(t *testing.T) {
	req := &model.Request{
		Method: "GET",
		URL:    model.URL{Scheme: "http", Host: "example.com", Port: 80, Target: "/x"},
		Header: model.Header{{Name: "Accept", Value: "*/*"}},
	}

	out := Rewrite(req, Config{
		Headers: map[string]string{"X-Proxy": "yes"},
		Auth:    "user:pass",
	})

	require.NotSame(t, req, out)
	require.Len(t, req.Header, 1, "original request must not be mutated")

	v, ok := out.Header.Get("X-Proxy")
	require.True(t, ok)
	require.Equal(t, "yes", v)

	auth, ok := out.Header.Get("Proxy-Authorization")
	require.True(t, ok)
	require.Equal(t, "Basic dXNlcjpwYXNz", auth)

	accept, ok := out.Header.Get("Accept")
	require.True(t, ok)
	require.Equal(t, "*/*", accept)
}

func TestRewriteWithNoAuthOrHeaders(t *testing.T) {
	req := &model.Request{
		Method: "GET",
		URL:    model.URL{Scheme: "http", Host: "example.com", Port: 80, Target: "/"},
	}
	out := Rewrite(req, Config{})
	require.False(t, out.Header.Has("Proxy-Authorization"))
}
