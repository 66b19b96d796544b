// Package parser extracts client details and a normalized body payload from
// inbound requests. Every function here is total: malformed input degrades
// into diagnostic fields instead of errors.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/pysugar/go-sonar/internal/util"
)

// Reserved payload keys.
const (
	KeyFiles       = "_files"
	KeyRawBody     = "_raw_body"
	KeyContentType = "_content_type"
	KeyParseError  = "_parse_error"
	KeyJSON        = "_json"
)

const (
	// DefaultMaxBodyBytes caps how much of a body is buffered for capture.
	DefaultMaxBodyBytes = 10 << 20

	maxRawBodyRunes   = 10000
	maxErrorBodyRunes = 1000
	truncatedMarker   = "... (truncated)"

	maxMultipartMemory = 32 << 20
)

var errInvalidUTF8 = errors.New("body is not valid UTF-8")

// ClientIP prefers the first X-Forwarded-For entry and falls back to the
// peer address. No syntax validation is done. An empty result means the
// address could not be determined.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// IsAjax reports whether the request was sent by XMLHttpRequest.
func IsAjax(r *http.Request) bool {
	return r.Header.Get("X-Requested-With") == "XMLHttpRequest"
}

// Headers flattens request headers, joining repeated values with ", ".
// The Host header lives on the request itself in net/http and is added back.
func Headers(r *http.Request) map[string]string {
	out := make(map[string]string, len(r.Header)+1)
	for k, v := range r.Header {
		out[k] = strings.Join(v, ", ")
	}
	if r.Host != "" {
		out["Host"] = r.Host
	}
	return out
}

// GetPayload returns query parameters, keeping the first value of each key.
func GetPayload(r *http.Request) map[string]any {
	values := r.URL.Query()
	out := make(map[string]any, len(values))
	for k := range values {
		out[k] = values.Get(k)
	}
	return out
}

// ContentType returns the lowercased Content-Type header.
func ContentType(r *http.Request) string {
	return strings.ToLower(r.Header.Get("Content-Type"))
}

// BodyPayload returns the parsed request body. The body is buffered (up to
// maxBytes, DefaultMaxBodyBytes when <= 0) and r.Body is replaced with a
// fresh reader, so handlers downstream still see the complete body.
func BodyPayload(r *http.Request, maxBytes int64) (payload map[string]any) {
	if r.Method == http.MethodGet {
		return map[string]any{}
	}

	contentType := ContentType(r)
	var raw []byte
	defer func() {
		if rec := recover(); rec != nil {
			payload = failure(fmt.Errorf("%v", rec), raw, contentType)
		}
	}()

	raw, err := ReadBody(r, maxBytes)
	if err != nil {
		return failure(err, raw, contentType)
	}

	if r.Method == http.MethodPost && isForm(contentType) {
		return postForm(r, raw, contentType)
	}

	switch {
	case strings.Contains(contentType, "application/json"):
		if len(raw) == 0 {
			return map[string]any{}
		}
		tree, err := decodeJSON(raw)
		if err != nil {
			return failure(err, raw, contentType)
		}
		if m, ok := tree.(map[string]any); ok {
			return m
		}
		return map[string]any{KeyJSON: tree}

	case strings.Contains(contentType, "application/x-www-form-urlencoded"):
		if len(raw) == 0 {
			return map[string]any{}
		}
		if !utf8.Valid(raw) {
			return failure(errInvalidUTF8, raw, contentType)
		}
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return failure(err, raw, contentType)
		}
		return collapse(values)

	case strings.Contains(contentType, "multipart/form-data"):
		files, err := multipartFileFields(raw, r.Header.Get("Content-Type"))
		if err != nil {
			return failure(err, raw, contentType)
		}
		data := map[string]any{}
		if len(files) > 0 {
			data[KeyFiles] = files
		}
		return data

	default:
		if len(raw) == 0 {
			return map[string]any{}
		}
		body := strings.ToValidUTF8(string(raw), "")
		return map[string]any{
			KeyRawBody:     util.TruncateRunes(body, maxRawBodyRunes, truncatedMarker),
			KeyContentType: contentType,
		}
	}
}

// ReadBody buffers the request body and puts an equivalent reader back on
// the request. Bodies longer than maxBytes are cut; the remainder is still
// handed to the handler untouched.
func ReadBody(r *http.Request, maxBytes int64) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBytes))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(raw), rest), rest}
	if err != nil {
		return raw, fmt.Errorf("read body: %w", err)
	}
	return raw, nil
}

func isForm(contentType string) bool {
	return strings.Contains(contentType, "application/x-www-form-urlencoded") ||
		strings.Contains(contentType, "multipart/form-data")
}

// postForm mirrors what the handler would get from r.PostForm, using a
// throwaway clone so the live request keeps its body.
func postForm(r *http.Request, raw []byte, contentType string) map[string]any {
	clone := r.Clone(r.Context())
	clone.Body = io.NopCloser(bytes.NewReader(raw))
	clone.Form, clone.PostForm, clone.MultipartForm = nil, nil, nil

	var err error
	if strings.Contains(contentType, "multipart/form-data") {
		err = clone.ParseMultipartForm(maxMultipartMemory)
		if clone.MultipartForm != nil {
			defer clone.MultipartForm.RemoveAll()
		}
	} else {
		err = clone.ParseForm()
	}
	if err != nil {
		return failure(err, raw, contentType)
	}

	out := make(map[string]any, len(clone.PostForm))
	for k := range clone.PostForm {
		out[k] = clone.PostForm.Get(k)
	}
	return out
}

func decodeJSON(raw []byte) (any, error) {
	if !utf8.Valid(raw) {
		return nil, errInvalidUTF8
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

// collapse keeps single values as scalars and repeated keys as lists.
func collapse(values url.Values) map[string]any {
	out := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = append([]string(nil), v...)
		}
	}
	return out
}

// multipartFileFields lists the field names of uploaded files. Non-file
// parts are not decoded. contentType must keep its original case because
// the boundary is case-sensitive.
func multipartFileFields(raw []byte, contentType string) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, err
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, errors.New("multipart body without boundary")
	}

	var files []string
	seen := map[string]bool{}
	reader := multipart.NewReader(bytes.NewReader(raw), boundary)
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return files, nil
		}
		if err != nil {
			return nil, err
		}
		name := part.FormName()
		if part.FileName() != "" && name != "" && !seen[name] {
			seen[name] = true
			files = append(files, name)
		}
		part.Close()
	}
}

func failure(err error, raw []byte, contentType string) map[string]any {
	if contentType == "" {
		contentType = "unknown"
	}
	snippet := strings.ToValidUTF8(string(raw), "\uFFFD")
	return map[string]any{
		KeyParseError:  err.Error(),
		KeyRawBody:     util.TruncateRunes(snippet, maxErrorBodyRunes, ""),
		KeyContentType: contentType,
	}
}
