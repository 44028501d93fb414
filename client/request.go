package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
)

// Response is a buffered successful response
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Decode unmarshals the JSON body into v
func (r *Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return io.EOF
	}
	return json.Unmarshal(r.Body, v)
}

// Data returns the "data" member of the standard response envelope, or the whole
// decoded body when there is no envelope
func (r *Response) Data() any {
	data := decodeBody(r.Body)
	if obj, ok := data.(map[string]any); ok {
		if inner, ok := obj["data"]; ok {
			return inner
		}
	}
	return data
}

type requestOptions struct {
	header          http.Header
	query           url.Values
	body            any
	contentType     string
	omitCredentials bool
}

func newRequestOptions() *requestOptions {
	return &requestOptions{
		header: make(http.Header),
		query:  make(url.Values),
	}
}

// RequestOption customizes a single request
type RequestOption func(*requestOptions)

// WithHeader sets a request header
func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.header.Set(key, value)
	}
}

// WithQuery adds a query parameter
func WithQuery(key, value string) RequestOption {
	return func(o *requestOptions) {
		o.query.Add(key, value)
	}
}

// WithQueryValues adds all the given query parameters
func WithQueryValues(values url.Values) RequestOption {
	return func(o *requestOptions) {
		for k, vs := range values {
			for _, v := range vs {
				o.query.Add(k, v)
			}
		}
	}
}

// WithContentType overrides the content type derived from the body
func WithContentType(contentType string) RequestOption {
	return func(o *requestOptions) {
		o.contentType = contentType
	}
}

// WithBody sets the request body. Supported bodies are []byte, string, io.Reader,
// url.Values (form encoded), *FormData (multipart) and anything else as JSON.
func WithBody(body any) RequestOption {
	return func(o *requestOptions) {
		o.body = body
	}
}

// WithoutCredentials sends the request without cookies. Bearer and CSRF
// decoration still apply.
func WithoutCredentials() RequestOption {
	return func(o *requestOptions) {
		o.omitCredentials = true
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, ro *requestOptions) (*http.Request, error) {
	target := c.URL(path)
	if len(ro.query) > 0 {
		u, err := url.Parse(target)
		if err != nil {
			return nil, fmt.Errorf("invalid request URL %q: %w", target, err)
		}
		q := u.Query()
		for k, vs := range ro.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		target = u.String()
	}

	body, contentType, err := encodeBody(ro.body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for k, vs := range ro.header {
		req.Header[k] = vs
	}
	if ro.contentType != "" {
		contentType = ro.contentType
	}
	if contentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", contentType)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}
	return req, nil
}

// encodeBody converts a request body into a reader and its content type
func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case []byte:
		return bytes.NewReader(b), "", nil
	case string:
		return strings.NewReader(b), "", nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded", nil
	case *FormData:
		return b.encode()
	case io.Reader:
		return b, "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

// FormData is a multipart/form-data body
type FormData struct {
	fields [][2]string
	files  []formFile
}

type formFile struct {
	field    string
	filename string
	content  []byte
}

// NewFormData creates an empty multipart body
func NewFormData() *FormData {
	return &FormData{}
}

// Set adds a form field
func (f *FormData) Set(name, value string) *FormData {
	f.fields = append(f.fields, [2]string{name, value})
	return f
}

// AddFile adds a file part
func (f *FormData) AddFile(field, filename string, content []byte) *FormData {
	f.files = append(f.files, formFile{field: field, filename: filename, content: content})
	return f
}

func (f *FormData) encode() (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, kv := range f.fields {
		if err := w.WriteField(kv[0], kv[1]); err != nil {
			return nil, "", err
		}
	}
	for _, file := range f.files {
		part, err := w.CreateFormFile(file.field, file.filename)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(file.content); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return bytes.NewReader(buf.Bytes()), w.FormDataContentType(), nil
}
