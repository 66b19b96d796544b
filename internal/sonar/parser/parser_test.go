package parser

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRequest(method, target, contentType string, body []byte) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestClientIP_ForwardedFor(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.1, 198.51.100.2")

	assert.Equal(t, "203.0.113.1", ClientIP(req))
}

func TestClientIP_RemoteAddr(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "192.168.1.100:54321"
	assert.Equal(t, "192.168.1.100", ClientIP(req))

	req.RemoteAddr = "10.0.0.1"
	assert.Equal(t, "10.0.0.1", ClientIP(req))

	req.RemoteAddr = ""
	assert.Equal(t, "", ClientIP(req))
}

func TestIsAjax(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	assert.False(t, IsAjax(req))

	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	assert.True(t, IsAjax(req))

	req.Header.Set("X-Requested-With", "fetch")
	assert.False(t, IsAjax(req))
}

func TestHeadersAndGetPayload(t *testing.T) {
	req := httptest.NewRequest("GET", "/search/?q=test&page=1&q=other", nil)
	req.Header.Add("Accept", "text/html")
	req.Header.Add("Accept", "application/json")

	headers := Headers(req)
	assert.Equal(t, "text/html, application/json", headers["Accept"])
	assert.Equal(t, "example.com", headers["Host"])

	get := GetPayload(req)
	assert.Equal(t, "test", get["q"])
	assert.Equal(t, "1", get["page"])
}

func TestBodyPayload_Get(t *testing.T) {
	req := newRequest("GET", "/", "application/json", []byte(`{"a":1}`))
	assert.Empty(t, BodyPayload(req, 0))
}

func TestBodyPayload_PostForm(t *testing.T) {
	req := newRequest("POST", "/login/", "application/x-www-form-urlencoded",
		[]byte("username=john&password=secret123&tag=a&tag=b"))

	payload := BodyPayload(req, 0)

	assert.Equal(t, "john", payload["username"])
	assert.Equal(t, "secret123", payload["password"])
	assert.Equal(t, "a", payload["tag"])

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, "username=john&password=secret123&tag=a&tag=b", string(body))
}

func TestBodyPayload_PostMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("title", "report"))
	fw, err := mw.CreateFormFile("attachment", "a.txt")
	require.NoError(t, err)
	fw.Write([]byte("file body"))
	require.NoError(t, mw.Close())

	req := newRequest("POST", "/upload/", mw.FormDataContentType(), buf.Bytes())
	payload := BodyPayload(req, 0)

	assert.Equal(t, map[string]any{"title": "report"}, payload)
}

func TestBodyPayload_PostJSON(t *testing.T) {
	req := newRequest("POST", "/api/", "application/json", []byte(`{"name":"x"}`))
	assert.Equal(t, map[string]any{"name": "x"}, BodyPayload(req, 0))
}

func TestBodyPayload_PutJSON(t *testing.T) {
	req := newRequest("PUT", "/items/1/", "application/json; charset=utf-8",
		[]byte(`{"name":"Updated","price":99.99}`))

	payload := BodyPayload(req, 0)

	assert.Equal(t, "Updated", payload["name"])
	assert.Equal(t, 99.99, payload["price"])
}

func TestBodyPayload_JSONNonObject(t *testing.T) {
	req := newRequest("PATCH", "/", "application/json", []byte(`[1,2]`))
	assert.Equal(t, map[string]any{KeyJSON: []any{float64(1), float64(2)}}, BodyPayload(req, 0))
}

func TestBodyPayload_EmptyJSON(t *testing.T) {
	req := newRequest("PATCH", "/", "application/json", nil)
	assert.Empty(t, BodyPayload(req, 0))
}

func TestBodyPayload_InvalidJSON(t *testing.T) {
	req := newRequest("PUT", "/", "application/json", []byte(`{"name": "trunc`))

	payload := BodyPayload(req, 0)

	assert.Contains(t, payload, KeyParseError)
	assert.Equal(t, `{"name": "trunc`, payload[KeyRawBody])
	assert.Equal(t, "application/json", payload[KeyContentType])
}

func TestBodyPayload_InvalidUTF8JSON(t *testing.T) {
	req := newRequest("PUT", "/", "application/json", []byte{'{', 0xff, 0xfe, '}'})

	payload := BodyPayload(req, 0)

	assert.Equal(t, errInvalidUTF8.Error(), payload[KeyParseError])
	assert.Equal(t, "{\uFFFD}", payload[KeyRawBody])
}

func TestBodyPayload_ErrorSnippetTruncated(t *testing.T) {
	body := "{" + strings.Repeat("x", 5000)
	req := newRequest("DELETE", "/", "application/json", []byte(body))

	payload := BodyPayload(req, 0)

	assert.Len(t, []rune(payload[KeyRawBody].(string)), 1000)
}

func TestBodyPayload_PutFormEncoded(t *testing.T) {
	req := newRequest("PUT", "/", "application/x-www-form-urlencoded", []byte("a=1&b=2&b=3"))

	payload := BodyPayload(req, 0)

	assert.Equal(t, "1", payload["a"])
	assert.Equal(t, []string{"2", "3"}, payload["b"])
}

func TestBodyPayload_PatchMultipart(t *testing.T) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "hello")
	fw, _ := mw.CreateFormFile("avatar", "me.png")
	fw.Write([]byte{0x89, 'P', 'N', 'G'})
	require.NoError(t, mw.Close())

	req := newRequest("PATCH", "/profile/", mw.FormDataContentType(), buf.Bytes())

	assert.Equal(t, map[string]any{KeyFiles: []string{"avatar"}}, BodyPayload(req, 0))
}

func TestBodyPayload_OtherContentType(t *testing.T) {
	req := newRequest("PUT", "/", "text/plain", []byte("plain text"))

	payload := BodyPayload(req, 0)

	assert.Equal(t, "plain text", payload[KeyRawBody])
	assert.Equal(t, "text/plain", payload[KeyContentType])
}

func TestBodyPayload_RawBodyTruncated(t *testing.T) {
	req := newRequest("PUT", "/", "text/plain", []byte(strings.Repeat("a", 15000)))

	raw := BodyPayload(req, 0)[KeyRawBody].(string)

	assert.True(t, strings.HasSuffix(raw, "... (truncated)"))
	assert.Equal(t, 10000+len("... (truncated)"), len(raw))
}

func TestBodyPayload_BodyStillReadableByHandler(t *testing.T) {
	req := newRequest("PUT", "/", "application/json", []byte(`{"a":1}`))
	BodyPayload(req, 0)

	body, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(body))
}

func TestBodyPayload_LargeBodyCappedButPreserved(t *testing.T) {
	body := strings.Repeat("z", 64)
	req := newRequest("PUT", "/", "text/plain", []byte(body))

	payload := BodyPayload(req, 16)
	assert.Equal(t, strings.Repeat("z", 16), payload[KeyRawBody])

	rest, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	assert.Equal(t, body, string(rest))
}

func TestBodyPayload_NeverPanics(t *testing.T) {
	methods := []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	contentTypes := []string{
		"", "application/json", "application/x-www-form-urlencoded",
		"multipart/form-data", "multipart/form-data; boundary=xyz", "text/plain", "%%%bad",
	}
	bodies := [][]byte{
		nil,
		[]byte(`{"a":`),
		{0xff, 0xfe, 0xfd},
		[]byte("a=%zz&b"),
		[]byte("--xyz\r\nbroken"),
	}
	for _, m := range methods {
		for _, ct := range contentTypes {
			for _, b := range bodies {
				req := newRequest(m, "/", ct, b)
				assert.NotPanics(t, func() { BodyPayload(req, 0) }, "%s %q %q", m, ct, b)
			}
		}
	}
}
