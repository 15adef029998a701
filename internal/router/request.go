package router

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"

	"dispatch_engine/internal/dispatch"
)

// newRequestContext copies everything the pipeline may read out of req.
// The body is buffered once; form fields are parsed from the buffer so the
// raw body stays available to handlers.
func newRequestContext(req *http.Request) (*dispatch.RequestContext, error) {
	var body []byte
	if req.Body != nil {
		var err error
		body, err = io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
	}

	rc := dispatch.NewRequestContext(req.Context(), req.Method, req.URL.Path)
	rc.Header = req.Header.Clone()
	rc.Query = req.URL.Query()
	rc.Body = body
	for _, c := range req.Cookies() {
		rc.Cookies[c.Name] = c.Value
	}

	form, err := parseForm(req.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		rc.Form = form
	}
	return rc, nil
}

func parseForm(contentType string, body []byte) (url.Values, error) {
	if contentType == "" || len(body) == 0 {
		return nil, nil
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, nil
	}

	switch mediaType {
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, fmt.Errorf("form: %w", err)
		}
		return values, nil
	case "multipart/form-data":
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart: missing boundary")
		}
		mf, err := multipart.NewReader(bytes.NewReader(body), boundary).ReadForm(DefaultMaxMultipartMemory)
		if err != nil {
			return nil, fmt.Errorf("multipart: %w", err)
		}
		defer mf.RemoveAll()
		return url.Values(mf.Value), nil
	}
	return nil, nil
}

// writeResponse copies the response side of rc onto w
func writeResponse(w http.ResponseWriter, req *http.Request, rc *dispatch.RequestContext) {
	h := w.Header()
	for k, vs := range rc.ResponseHeader {
		h[k] = append([]string(nil), vs...)
	}
	if rc.ContentType != "" {
		h.Set("Content-Type", rc.ContentType)
	}

	status := rc.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	if req.Method == http.MethodHead || len(rc.ResponseBody) == 0 {
		return
	}
	_, _ = w.Write(rc.ResponseBody)
}
