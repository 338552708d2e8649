package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/formrelay/go-formrelay-server/types"
	"github.com/gin-gonic/gin"
)

// ParseSubmissionFields reads the request body into order preserving fields.
// Supported content types: application/json, application/x-www-form-urlencoded and multipart/form-data.
// File parts of multipart bodies are skipped.
func ParseSubmissionFields(c *gin.Context, maxBytes int64) (types.Fields, error) {
	body := http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
	defer body.Close()

	mediaType, params, err := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if err != nil {
		mediaType = gin.MIMEPOSTForm
	}
	switch mediaType {
	case gin.MIMEJSON:
		fields, err := types.DecodeOrderedJSON(body)
		if err != nil {
			return fields, bodyError(err)
		}
		return fields, nil
	case gin.MIMEPOSTForm, gin.MIMEPlain:
		raw, err := io.ReadAll(body)
		if err != nil {
			return types.NewFields(), bodyError(err)
		}
		return parseURLEncoded(string(raw))
	case gin.MIMEMultipartPOSTForm:
		boundary := params["boundary"]
		if boundary == "" {
			return types.NewFields(), fmt.Errorf("%w: missing multipart boundary", types.ErrValidation)
		}
		return parseMultipart(multipart.NewReader(body, boundary))
	default:
		return types.NewFields(), fmt.Errorf("%w: unsupported content type %s", types.ErrValidation, mediaType)
	}
}

func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return err
	}
	return fmt.Errorf("%w: %w", types.ErrValidation, err)
}

func parseURLEncoded(raw string) (types.Fields, error) {
	fields := types.NewFields()
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		k, err := url.QueryUnescape(key)
		if err != nil {
			return fields, fmt.Errorf("%w: invalid form key: %w", types.ErrValidation, err)
		}
		v, err := url.QueryUnescape(value)
		if err != nil {
			return fields, fmt.Errorf("%w: invalid form value of %s: %w", types.ErrValidation, k, err)
		}
		if k == "" {
			continue
		}
		fields.Add(k, v)
	}
	return fields, nil
}

func parseMultipart(reader *multipart.Reader) (types.Fields, error) {
	fields := types.NewFields()
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			return fields, nil
		}
		if err != nil {
			return fields, bodyError(err)
		}
		name := part.FormName()
		if name == "" || part.FileName() != "" {
			if _, dErr := io.Copy(io.Discard, part); dErr != nil {
				return fields, bodyError(dErr)
			}
			continue
		}
		var buf bytes.Buffer
		if _, rErr := io.Copy(&buf, part); rErr != nil {
			return fields, bodyError(rErr)
		}
		fields.Add(name, buf.String())
	}
}
