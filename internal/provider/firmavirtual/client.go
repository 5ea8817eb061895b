// Package firmavirtual implements the signature provider interface against
// the FirmaVirtual advanced-signature API.
package firmavirtual

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TUPATRIMONIO/core-sub003/internal/provider"
)

const defaultTimeout = 45 * time.Second

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: timeout},
	}
}

type signPayload struct {
	LegalID        string  `json:"rut"`
	Password       string  `json:"password"`
	OTP            string  `json:"otp,omitempty"`
	FileName       string  `json:"file_name"`
	FileBase64     string  `json:"file_base64"`
	Page           int     `json:"page"`
	X1             float64 `json:"x1"`
	Y1             float64 `json:"y1"`
	X2             float64 `json:"x2"`
	Y2             float64 `json:"y2"`
	CustomCoords   bool    `json:"custom_coords"`
	QRStamped      bool    `json:"qr_stamped"`
	OrganizationID string  `json:"organization_id"`
}

type signResponse struct {
	Status          string `json:"status"`
	TransactionCode string `json:"transaction_code"`
	SignedFile      string `json:"signed_file"`
	ErrorCode       string `json:"error_code"`
	Comment         string `json:"comment"`
	DocumentState   string `json:"document_state"`
}

func (c *Client) Sign(ctx context.Context, req provider.SignRequest) (provider.SignResult, error) {
	payload := signPayload{
		LegalID:        req.LegalID,
		Password:       req.Credential,
		OTP:            req.SecondFactor,
		FileName:       req.DocumentName,
		FileBase64:     base64.StdEncoding.EncodeToString(req.DocumentBytes),
		Page:           req.Page,
		X1:             req.X1,
		Y1:             req.Y1,
		X2:             req.X2,
		Y2:             req.Y2,
		CustomCoords:   req.CustomCoordinates,
		QRStamped:      req.QRStamped,
		OrganizationID: req.OrganizationID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return provider.SignResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/v2/signatures", bytes.NewReader(body))
	if err != nil {
		return provider.SignResult{}, err
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return provider.SignResult{}, fmt.Errorf("firmavirtual request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return provider.SignResult{}, fmt.Errorf("firmavirtual response read failed: %w", err)
	}

	var out signResponse
	decodeErr := json.Unmarshal(raw, &out)

	if resp.StatusCode >= 300 {
		// The vendor sends its own comment on error bodies; surface it even
		// when the HTTP status alone would do.
		ve := &provider.VendorError{
			Code:    out.ErrorCode,
			Comment: out.Comment,
			State:   out.DocumentState,
		}
		if ve.Comment == "" {
			ve.Comment = bestEffortComment(raw, resp.StatusCode)
		}
		return provider.SignResult{TransactionCode: out.TransactionCode, Err: ve}, nil
	}
	if decodeErr != nil {
		return provider.SignResult{}, fmt.Errorf("firmavirtual returned malformed response: %w", decodeErr)
	}

	switch strings.ToUpper(out.Status) {
	case "OK", "SIGNED":
		signed, err := base64.StdEncoding.DecodeString(out.SignedFile)
		if err != nil {
			return provider.SignResult{}, fmt.Errorf("firmavirtual signed file is not valid base64: %w", err)
		}
		return provider.SignResult{TransactionCode: out.TransactionCode, SignedBytes: signed}, nil
	case "PENDING", "IN_PROGRESS":
		return provider.SignResult{TransactionCode: out.TransactionCode, Pending: true}, nil
	default:
		return provider.SignResult{
			TransactionCode: out.TransactionCode,
			Err: &provider.VendorError{
				Code:    out.ErrorCode,
				Comment: out.Comment,
				State:   out.DocumentState,
			},
		}, nil
	}
}

// bestEffortComment digs diagnostic text out of a body that did not parse as
// the expected shape, so transport-level failures still carry vendor words.
func bestEffortComment(raw []byte, status int) string {
	var generic map[string]any
	if err := json.Unmarshal(raw, &generic); err == nil {
		for _, key := range []string{"comment", "message", "error", "detail"} {
			if v, ok := generic[key].(string); ok && strings.TrimSpace(v) != "" {
				return v
			}
		}
	}
	if s := strings.TrimSpace(string(raw)); s != "" && len(s) <= 512 {
		return s
	}
	return fmt.Sprintf("provider returned HTTP %d", status)
}
