package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// Result of a slip check.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Verifier checks a payment slip against the expected amount. Any error means
// "could not verify", never "verified".
type Verifier interface {
	Verify(ctx context.Context, slipRef string, expectedCents int64) (Result, error)
}

// HTTPVerifier calls the external slip verification service.
type HTTPVerifier struct {
	URL    string
	Client *http.Client
	Tracer trace.Tracer
}

func NewHTTPVerifier(url string, tracer trace.Tracer) *HTTPVerifier {
	// timeout dikontrol lewat context per request
	return &HTTPVerifier{
		URL: url,
		Client: &http.Client{Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 32,
		}},
		Tracer: tracer,
	}
}

type verifyRequest struct {
	SlipRef     string `json:"slip_ref"`
	AmountCents int64  `json:"amount_cents"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, slipRef string, expectedCents int64) (Result, error) {
	tracer := v.Tracer
	if tracer == nil {
		tracer = otel.Tracer("payment")
	}
	ctx, span := tracer.Start(ctx, "slip-verifier.Verify", trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	body, err := json.Marshal(verifyRequest{SlipRef: slipRef, AmountCents: expectedCents})
	if err != nil {
		return Result{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	span.SetAttributes(attribute.String("http.url", v.URL), attribute.Int64("payment.amount_cents", expectedCents))
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := v.Client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("slip verifier returned %s: %s", resp.Status, bytes.TrimSpace(snippet))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}
	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		span.RecordError(err)
		return Result{}, fmt.Errorf("decode verifier response: %w", err)
	}
	span.SetAttributes(attribute.Bool("payment.verified", res.Success))
	return res, nil
}

// VerifierFunc adapts a function (tests, stubs).
type VerifierFunc func(ctx context.Context, slipRef string, expectedCents int64) (Result, error)

func (f VerifierFunc) Verify(ctx context.Context, slipRef string, expectedCents int64) (Result, error) {
	return f(ctx, slipRef, expectedCents)
}
