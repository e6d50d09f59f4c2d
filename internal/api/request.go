package api

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/mybadgelife/internal/types"
)

// multipartOverhead leaves room for form fields around the image part
const multipartOverhead = 1 << 20

// parsePagination reads limit and offset; services clamp the values
func parsePagination(r *http.Request) (types.Pagination, error) {
	var page types.Pagination
	var err error
	if page.Limit, err = intQuery(r, "limit"); err != nil {
		return page, err
	}
	if page.Offset, err = intQuery(r, "offset"); err != nil {
		return page, err
	}
	return page, nil
}

// intQuery returns 0 when the parameter is absent
func intQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, invalidParam(name, "must be an integer")
	}
	return n, nil
}

// readImage reads an image from a multipart field or a raw image/* body.
// Other form values of a multipart request are returned alongside.
func (s *Server) readImage(w http.ResponseWriter, r *http.Request, field string) ([]byte, map[string]string, error) {
	maxBytes := s.config.MaxUploadBytes
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+multipartOverhead)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch {
	case mediaType == "multipart/form-data":
		if err := r.ParseMultipartForm(maxBytes + multipartOverhead); err != nil {
			return nil, nil, bodyError(err)
		}
		if r.MultipartForm != nil {
			defer func() { _ = r.MultipartForm.RemoveAll() }()
		}
		file, _, err := r.FormFile(field)
		if err != nil {
			return nil, nil, invalidParam(field, "image file is required")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, nil, bodyError(err)
		}
		fields := make(map[string]string)
		for k, v := range r.MultipartForm.Value {
			if len(v) > 0 {
				fields[k] = v[0]
			}
		}
		return data, fields, nil

	case strings.HasPrefix(mediaType, "image/"), mediaType == "application/octet-stream":
		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, nil, bodyError(err)
		}
		return data, map[string]string{}, nil
	}
	return nil, nil, types.NewServiceError(types.CodeUnsupportedMediaType, "send the image as multipart/form-data or an image/* body")
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return &types.ServiceError{
			Code:    types.CodePayloadTooLarge,
			Message: "request body is too large",
			Details: map[string]interface{}{"limit": tooLarge.Limit},
		}
	}
	return invalidParam("body", err.Error())
}

// optionalString returns nil for an empty form value
func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
