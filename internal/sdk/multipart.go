package sdk

import (
	"io"
	"mime/multipart"
	"os"
)

// multipartWriter wraps mime/multipart.Writer; split out mainly so
// client.go reads as one linear request-building sequence.
type multipartWriter struct {
	w *multipart.Writer
}

func newMultipartWriter(dst io.Writer) *multipartWriter {
	return &multipartWriter{w: multipart.NewWriter(dst)}
}

func (m *multipartWriter) writeField(name, value string) error {
	return m.w.WriteField(name, value)
}

func (m *multipartWriter) writeFile(field, filename string, src io.Reader) error {
	part, err := m.w.CreateFormFile(field, filename)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

func (m *multipartWriter) close() error {
	return m.w.Close()
}

func (m *multipartWriter) contentType() string {
	return m.w.FormDataContentType()
}

func openForUpload(path string) (*os.File, error) {
	return os.Open(path)
}
