package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"strconv"
)

var errUploadTooLarge = errors.New("upload too large")

// readUpload reads an uploaded file, refusing more than limit bytes even
// when the multipart header understates the size. limit <= 0 disables the
// check.
func readUpload(fh *multipart.FileHeader, limit int64) ([]byte, error) {
	if limit > 0 && fh.Size > limit {
		return nil, errUploadTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	var r io.Reader = f
	if limit > 0 {
		r = io.LimitReader(f, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errUploadTooLarge
	}
	return data, nil
}

// formatUploadLimit renders a byte limit with the largest whole unit,
// keeping one decimal when needed (1536 -> "1.5KB").
func formatUploadLimit(bytes int64) string {
	if bytes <= 0 {
		return "0B"
	}
	units := []struct {
		size int64
		name string
	}{
		{1 << 30, "GB"},
		{1 << 20, "MB"},
		{1 << 10, "KB"},
	}
	for _, u := range units {
		if bytes >= u.size {
			tenths := bytes * 10 / u.size
			return strconv.FormatFloat(float64(tenths)/10, 'f', -1, 64) + u.name
		}
	}
	return strconv.FormatInt(bytes, 10) + "B"
}
