package paymob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mentorlink/settlement/internal/payment/providers"
)

const defaultBaseURL = "https://accept.paymob.com/v1"

type Provider struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

func New(secretKey string) (*Provider, error) {
	secretKey = strings.TrimSpace(secretKey)
	if secretKey == "" {
		return nil, providers.ErrInvalidConfig
	}
	return &Provider{
		secretKey: secretKey,
		baseURL:   defaultBaseURL,
		client:    &http.Client{},
	}, nil
}

func (p *Provider) Name() string { return "paymob" }

func (p *Provider) CreateIntent(ctx context.Context, req providers.IntentRequest) (*providers.IntentResult, error) {
	body := map[string]any{
		"amount":            req.Amount,
		"currency":          strings.ToUpper(req.Currency),
		"special_reference": req.Reference,
	}
	if req.Method != "" {
		body["payment_methods"] = []string{req.Method}
	}

	var intent intentObject
	if err := p.do(ctx, http.MethodPost, "/intention/", body, &intent); err != nil {
		return nil, err
	}
	return &providers.IntentResult{
		ProviderReference: intent.ID,
		ClientSecret:      intent.ClientSecret,
		Metadata:          map[string]string{"status": intent.Status},
	}, nil
}

func (p *Provider) VerifyCapture(ctx context.Context, providerReference string) (*providers.CaptureResult, error) {
	var intent intentObject
	if err := p.do(ctx, http.MethodGet, "/intention/"+providerReference, nil, &intent); err != nil {
		return nil, err
	}
	capturedAt := time.Time{}
	if intent.PaidAt != "" {
		if parsed, err := time.Parse(time.RFC3339, intent.PaidAt); err == nil {
			capturedAt = parsed.UTC()
		}
	}
	return &providers.CaptureResult{
		Captured:      intent.Status == "paid",
		TransactionID: intent.TransactionID,
		Amount:        intent.Amount,
		Currency:      strings.ToUpper(intent.Currency),
		CapturedAt:    capturedAt,
	}, nil
}

func (p *Provider) Refund(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error) {
	body := map[string]any{
		"transaction_id":    req.TransactionID,
		"amount_cents":      req.Amount,
		"special_reference": req.Reference,
	}
	var refund refundObject
	if err := p.do(ctx, http.MethodPost, "/refund/", body, &refund); err != nil {
		return nil, err
	}
	return &providers.RefundResult{ProviderRefundID: refund.ID}, nil
}

func (p *Provider) Transfer(ctx context.Context, req providers.TransferRequest) (*providers.TransferResult, error) {
	body := map[string]any{
		"beneficiary":       req.MentorID,
		"amount_cents":      req.Amount,
		"currency":          strings.ToUpper(req.Currency),
		"special_reference": req.Reference,
	}
	var transfer transferObject
	if err := p.do(ctx, http.MethodPost, "/disbursement/", body, &transfer); err != nil {
		return nil, err
	}
	return &providers.TransferResult{ProviderTransferID: transfer.ID}, nil
}

func (p *Provider) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+p.secretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", providers.ErrTransient, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", providers.ErrTransient, err)
	}

	switch {
	case res.StatusCode >= 500, res.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: paymob status %d", providers.ErrTransient, res.StatusCode)
	case res.StatusCode >= 400:
		return fmt.Errorf("%w: paymob status %d", providers.ErrDeclined, res.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", providers.ErrTransient, err)
	}
	return nil
}

type intentObject struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	ClientSecret  string `json:"client_secret"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	PaidAt        string `json:"paid_at"`
}

type refundObject struct {
	ID string `json:"id"`
}

type transferObject struct {
	ID string `json:"id"`
}
