package record

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const contentTypeJSON = "application/json"

// Record is the unit persisted per request/response cycle. The request
// side is captured before the handler runs, the response side after it
// returns; Tags and Fields render the two halves in the shape the sink
// stores.
type Record struct {
	Start time.Time

	Namespace   string
	Method      string
	Path        string
	FullPath    string
	QueryString string
	RemoteAddr  string
	Headers     string
	Payload     string

	StatusCode          int
	Response            string
	ResponseContentType string
	ResponseTime        time.Duration
}

// Capture snapshots the request half of a cycle, before handler code can
// mutate request state. The body is consumed and restored so the handler
// still gets to read it.
func Capture(r *http.Request, namespace string) *Record {
	var body []byte
	if r.Body != nil {
		body, _ = io.ReadAll(r.Body)
		r.Body.Close()
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	return &Record{
		Start:       time.Now().UTC(),
		Namespace:   namespace,
		Method:      r.Method,
		Path:        r.URL.Path,
		FullPath:    r.URL.Path + "?" + r.URL.RawQuery,
		QueryString: r.URL.RawQuery,
		RemoteAddr:  r.RemoteAddr,
		Headers:     encodeHeaders(r.Header),
		Payload:     encodeBody(body, r.Header.Get("Content-Type")),
	}
}

// Complete fills in the response half and computes the elapsed time.
func (rec *Record) Complete(status int, body []byte, contentType string, now time.Time) {
	rec.StatusCode = status
	rec.Response = encodeBody(body, contentType)
	rec.ResponseContentType = contentType
	rec.ResponseTime = now.Sub(rec.Start)
	if rec.ResponseTime < 0 {
		rec.ResponseTime = 0
	}
}

// Tags returns the indexed dimensions of the record.
func (rec *Record) Tags() map[string]string {
	return map[string]string{
		"namespace": rec.Namespace,
		"path":      rec.Path,
		"method":    rec.Method,
	}
}

// Fields returns the value payload of the record. response_time is
// stored in milliseconds.
func (rec *Record) Fields() map[string]interface{} {
	return map[string]interface{}{
		"remote_addr":           rec.RemoteAddr,
		"headers":               rec.Headers,
		"full_path":             rec.FullPath,
		"query_string":          rec.QueryString,
		"payload":               rec.Payload,
		"status_code":           rec.StatusCode,
		"response":              rec.Response,
		"response_content_type": rec.ResponseContentType,
		"response_time":         float64(rec.ResponseTime) / float64(time.Millisecond),
	}
}

// encodeHeaders renders headers as a flat JSON object, not a framework
// header structure. Multi-valued headers fold into one comma-separated
// value.
func encodeHeaders(h http.Header) string {
	flat := make(map[string]string, len(h))
	for k, vs := range h {
		flat[k] = strings.Join(vs, ", ")
	}
	out, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(out)
}

// encodeBody produces a best-effort textual rendering of a body: JSON
// bodies are compacted, anything that is not valid UTF-8 falls back to
// base64. Encoding never fails.
func encodeBody(body []byte, contentType string) string {
	if len(body) == 0 {
		return ""
	}
	if isJSON(contentType) {
		var buf bytes.Buffer
		if err := json.Compact(&buf, body); err == nil {
			return buf.String()
		}
	}
	if utf8.Valid(body) {
		return string(body)
	}
	return base64.StdEncoding.EncodeToString(body)
}

func isJSON(contentType string) bool {
	mediaType := contentType
	if i := strings.Index(mediaType, ";"); i >= 0 {
		mediaType = mediaType[:i]
	}
	return strings.TrimSpace(mediaType) == contentTypeJSON
}
