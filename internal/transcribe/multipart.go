package transcribe

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// formField is one non-file multipart field, written in order.
type formField struct {
	name, value string
}

// postMedia streams a multipart/form-data request with the media file under
// fileField followed by fields. Media can be large, so the body is produced
// through a pipe rather than buffered. Non-200 responses become errors named
// after the engine, carrying the response body.
func postMedia(ctx context.Context, client *http.Client, engine, url, apiKey, fileField, mediaPath string, fields []formField) ([]byte, error) {
	f, err := os.Open(mediaPath)
	if err != nil {
		return nil, fmt.Errorf("open media file: %w", err)
	}
	defer f.Close()

	pr, pw := io.Pipe()
	defer pr.Close()
	w := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeForm(w, f, fileField, filepath.Base(mediaPath), fields))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, pr)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", engine, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error (status %d): %s", engine, resp.StatusCode, string(body))
	}
	return body, nil
}

func writeForm(w *multipart.Writer, media io.Reader, fileField, filename string, fields []formField) error {
	part, err := w.CreateFormFile(fileField, filename)
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, media); err != nil {
		return fmt.Errorf("copy media data: %w", err)
	}
	for _, fld := range fields {
		if err := w.WriteField(fld.name, fld.value); err != nil {
			return err
		}
	}
	return w.Close()
}
