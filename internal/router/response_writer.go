package router

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"sync"
)

// responseWriterWrapper captures status and size while keeping the
// optional interfaces of the underlying writer reachable for event streams
// (Flush) and websocket upgrades (Hijack)
type responseWriterWrapper struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

var responseWriterPool = sync.Pool{
	New: func() any {
		return &responseWriterWrapper{}
	},
}

func acquireResponseWriter(w http.ResponseWriter) *responseWriterWrapper {
	rw := responseWriterPool.Get().(*responseWriterWrapper)
	rw.ResponseWriter = w
	rw.statusCode = http.StatusOK
	rw.bytesWritten = 0
	rw.wroteHeader = false
	return rw
}

func releaseResponseWriter(rw *responseWriterWrapper) {
	rw.ResponseWriter = nil
	responseWriterPool.Put(rw)
}

func (rw *responseWriterWrapper) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriterWrapper) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

// Unwrap supports http.ResponseController
func (rw *responseWriterWrapper) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

func (rw *responseWriterWrapper) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriterWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		// a hijacked connection reports 101 for accounting
		rw.statusCode = http.StatusSwitchingProtocols
		rw.wroteHeader = true
		return h.Hijack()
	}
	return nil, nil, fmt.Errorf("hijacking not supported by underlying ResponseWriter")
}
