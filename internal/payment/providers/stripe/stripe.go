package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mentorlink/settlement/internal/payment/providers"
)

const defaultBaseURL = "https://api.stripe.com/v1"

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

func (p *Provider) Name() string { return "stripe" }

func (p *Provider) CreateIntent(ctx context.Context, req providers.IntentRequest) (*providers.IntentResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	if req.Method != "" {
		form.Set("payment_method_types[]", req.Method)
	}

	var intent paymentIntent
	if err := p.do(ctx, http.MethodPost, "/payment_intents", req.Reference, form, &intent); err != nil {
		return nil, err
	}
	return &providers.IntentResult{
		ProviderReference: intent.ID,
		ClientSecret:      intent.ClientSecret,
		Metadata:          map[string]string{"status": intent.Status},
	}, nil
}

func (p *Provider) VerifyCapture(ctx context.Context, providerReference string) (*providers.CaptureResult, error) {
	var intent paymentIntent
	if err := p.do(ctx, http.MethodGet, "/payment_intents/"+url.PathEscape(providerReference), "", nil, &intent); err != nil {
		return nil, err
	}
	return &providers.CaptureResult{
		Captured:      intent.Status == "succeeded",
		TransactionID: intent.LatestCharge,
		Amount:        intent.AmountReceived,
		Currency:      strings.ToUpper(intent.Currency),
		CapturedAt:    time.Unix(intent.Created, 0).UTC(),
	}, nil
}

func (p *Provider) Refund(ctx context.Context, req providers.RefundRequest) (*providers.RefundResult, error) {
	form := url.Values{}
	form.Set("charge", req.TransactionID)
	form.Set("amount", strconv.FormatInt(req.Amount, 10))

	var refund refundObject
	if err := p.do(ctx, http.MethodPost, "/refunds", req.Reference, form, &refund); err != nil {
		return nil, err
	}
	return &providers.RefundResult{ProviderRefundID: refund.ID}, nil
}

func (p *Provider) Transfer(ctx context.Context, req providers.TransferRequest) (*providers.TransferResult, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", strings.ToLower(req.Currency))
	form.Set("destination", req.MentorID)

	var transfer transferObject
	if err := p.do(ctx, http.MethodPost, "/transfers", req.Reference, form, &transfer); err != nil {
		return nil, err
	}
	return &providers.TransferResult{ProviderTransferID: transfer.ID}, nil
}

func (p *Provider) do(ctx context.Context, method, path, idempotencyKey string, form url.Values, out any) error {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
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
		return fmt.Errorf("%w: stripe status %d", providers.ErrTransient, res.StatusCode)
	case res.StatusCode >= 400:
		return fmt.Errorf("%w: stripe status %d", providers.ErrDeclined, res.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", providers.ErrTransient, err)
	}
	return nil
}

type paymentIntent struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	ClientSecret   string `json:"client_secret"`
	LatestCharge   string `json:"latest_charge"`
	Amount         int64  `json:"amount"`
	AmountReceived int64  `json:"amount_received"`
	Currency       string `json:"currency"`
	Created        int64  `json:"created"`
}

type refundObject struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type transferObject struct {
	ID string `json:"id"`
}
