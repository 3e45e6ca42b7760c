package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/drivingschool/internal/model"
)

const testInvoiceID = "4f1c2a8e-6a7b-4f0e-9a51-2b7d3c9e0f11"

func TestParseSwish(t *testing.T) {
	cb, err := ParseSwish([]byte(`{
		"id": "AB23D7406ECE4542A80152D909EF9F6B",
		"payeePaymentReference": "4f1c2a8e6a7b4f0e9a512b7d3c9e0f11",
		"paymentReference": "1E2FC19E5E5E4E18916609B7F8911C12",
		"status": "PAID",
		"amount": 500.00,
		"currency": "SEK"
	}`))
	require.NoError(t, err)

	assert.Equal(t, ProviderSwish, cb.Provider)
	assert.Equal(t, KindSettlement, cb.Kind)
	assert.Equal(t, "AB23D7406ECE4542A80152D909EF9F6B", cb.ProviderReference)
	assert.Equal(t, "4f1c2a8e6a7b4f0e9a512b7d3c9e0f11", cb.InvoiceRef)
	assert.True(t, cb.Settled)
	require.NotNil(t, cb.Amount)
	assert.True(t, amountMatches(*cb.Amount, 50000))
}

func TestParseSwish_Declined(t *testing.T) {
	cb, err := ParseSwish([]byte(`{"id":"X1","payeePaymentReference":"r","status":"DECLINED"}`))
	require.NoError(t, err)
	assert.False(t, cb.Settled)
	assert.Nil(t, cb.Amount)
}

func TestParseQliroStatus(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		wantSettled bool
	}{
		{
			name:        "successful preauthorization",
			body:        `{"OrderId":123,"MerchantReference":"` + testInvoiceID + `","PaymentTransactionId":9,"Status":"Success","NotificationType":"Preauthorization"}`,
			wantSettled: true,
		},
		{
			name:        "successful capture",
			body:        `{"OrderId":123,"MerchantReference":"` + testInvoiceID + `","Status":"Success","NotificationType":"Capture"}`,
			wantSettled: true,
		},
		{
			name:        "in process",
			body:        `{"OrderId":123,"MerchantReference":"` + testInvoiceID + `","Status":"InProcess","NotificationType":"Preauthorization"}`,
			wantSettled: false,
		},
		{
			name:        "successful refund",
			body:        `{"OrderId":123,"MerchantReference":"` + testInvoiceID + `","Status":"Success","NotificationType":"Refund"}`,
			wantSettled: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cb, err := ParseQliroStatus([]byte(tt.body))
			require.NoError(t, err)

			assert.Equal(t, ProviderQliro, cb.Provider)
			assert.Equal(t, "123", cb.ProviderReference)
			assert.Equal(t, testInvoiceID, cb.InvoiceRef)
			assert.Equal(t, tt.wantSettled, cb.Settled)
		})
	}
}

func TestParse_Malformed(t *testing.T) {
	bodies := []string{
		"",
		"   ",
		"not json at all",
		"<xml/>",
		`{"OrderId":`,
	}

	for _, body := range bodies {
		_, err := ParseQliroStatus([]byte(body))
		assert.ErrorIs(t, err, ErrCallbackMalformed, "status body %q", body)

		_, err = ParseQliroValidation([]byte(body))
		assert.ErrorIs(t, err, ErrCallbackMalformed, "validate body %q", body)

		_, err = ParseSwish([]byte(body))
		assert.ErrorIs(t, err, ErrCallbackMalformed, "swish body %q", body)
	}
}

func TestParse_JSONWithoutReferenceIsParsed(t *testing.T) {
	parsers := map[string]func([]byte) (Callback, error){
		"qliro status":   ParseQliroStatus,
		"qliro validate": ParseQliroValidation,
		"swish":          ParseSwish,
	}
	bodies := []string{
		`{}`,
		`null`,
		`[1,2]`,
		`{"OrderId":5}`,
		`{"OrderId":5,"MerchantReference":"","Status":"Success"}`,
		`{"OrderId":"abc","MerchantReference":"` + testInvoiceID + `"}`,
		`{"OrderId":0,"MerchantReference":"x"}`,
		`{"status":"PAID"}`,
		`{"id":"S1","payeePaymentReference":"` + testInvoiceID + `","status":"PAID","amount":"lots"}`,
	}

	for name, parse := range parsers {
		for _, body := range bodies {
			t.Run(name+" "+body, func(t *testing.T) {
				cb, err := parse([]byte(body))
				require.NoError(t, err)

				engine := &stubEngine{invoice: sentInvoice()}
				res := NewAdapter(engine, zap.NewNop()).Process(context.Background(), cb)

				assert.ErrorIs(t, res.Err, ErrCallbackUnroutable)
				assert.Equal(t, OutcomeFailed, res.Outcome)
				assert.Empty(t, engine.paid)
			})
		}
	}
}

type paidCall struct {
	id        string
	method    model.PaymentMethod
	reference string
}

type stubEngine struct {
	invoice *model.Invoice
	getErr  error
	payErr  error
	paid    []paidCall
}

func (e *stubEngine) GetInvoice(ctx context.Context, id string) (*model.Invoice, error) {
	if e.getErr != nil {
		return nil, e.getErr
	}
	cp := *e.invoice
	return &cp, nil
}

func (e *stubEngine) MarkAsPaid(ctx context.Context, id string, method model.PaymentMethod, reference string) (*model.Invoice, error) {
	e.paid = append(e.paid, paidCall{id: id, method: method, reference: reference})
	if e.payErr != nil {
		return nil, e.payErr
	}
	cp := *e.invoice
	cp.Status = model.InvoiceStatusPaid
	cp.PaymentMethod = method
	cp.PaymentReference = reference
	return &cp, nil
}

func sentInvoice() *model.Invoice {
	return &model.Invoice{ID: testInvoiceID, CustomerID: 1, AmountMinor: 50000, Status: model.InvoiceStatusSent}
}

func TestAdapter_SettlementMarksPaid(t *testing.T) {
	engine := &stubEngine{invoice: sentInvoice()}
	a := NewAdapter(engine, zap.NewNop())

	cb, err := ParseQliroStatus([]byte(`{"OrderId":123,"MerchantReference":"` + testInvoiceID + `","Status":"Success","NotificationType":"Capture","TotalPrice":500}`))
	require.NoError(t, err)

	res := a.Process(context.Background(), cb)
	require.NoError(t, res.Err)

	assert.Equal(t, OutcomePaid, res.Outcome)
	assert.Equal(t, model.InvoiceStatusPaid, res.Invoice.Status)
	require.Len(t, engine.paid, 1)
	assert.Equal(t, paidCall{id: testInvoiceID, method: model.PaymentMethodQliro, reference: "123"}, engine.paid[0])
}

func TestAdapter_UnsettledIsIgnored(t *testing.T) {
	engine := &stubEngine{invoice: sentInvoice()}
	a := NewAdapter(engine, zap.NewNop())

	cb, err := ParseSwish([]byte(`{"id":"S1","payeePaymentReference":"` + testInvoiceID + `","status":"DECLINED"}`))
	require.NoError(t, err)

	res := a.Process(context.Background(), cb)
	assert.NoError(t, res.Err)
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Empty(t, engine.paid)
}

func TestAdapter_AmountMismatch(t *testing.T) {
	engine := &stubEngine{invoice: sentInvoice()}
	a := NewAdapter(engine, zap.NewNop())

	cb, err := ParseSwish([]byte(`{"id":"S1","payeePaymentReference":"` + testInvoiceID + `","status":"PAID","amount":499.99}`))
	require.NoError(t, err)

	res := a.Process(context.Background(), cb)
	assert.ErrorIs(t, res.Err, ErrAmountMismatch)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Empty(t, engine.paid)
}

func TestAdapter_EngineErrorsAreReported(t *testing.T) {
	conflict := errors.New("conflict: already paid with reference 1")
	engine := &stubEngine{invoice: sentInvoice(), payErr: conflict}
	a := NewAdapter(engine, zap.NewNop())

	cb, err := ParseSwish([]byte(`{"id":"S2","payeePaymentReference":"` + testInvoiceID + `","status":"PAID"}`))
	require.NoError(t, err)

	res := a.Process(context.Background(), cb)
	assert.ErrorIs(t, res.Err, conflict)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	engine = &stubEngine{getErr: errors.New("not found")}
	res = NewAdapter(engine, zap.NewNop()).Process(context.Background(), cb)
	assert.Error(t, res.Err)
	assert.Nil(t, res.Invoice)
}

func TestAdapter_Validation(t *testing.T) {
	body := []byte(`{"OrderId":123,"MerchantReference":"` + testInvoiceID + `","TotalPrice":500.00}`)
	cb, err := ParseQliroValidation(body)
	require.NoError(t, err)

	engine := &stubEngine{invoice: sentInvoice()}
	res := NewAdapter(engine, zap.NewNop()).Process(context.Background(), cb)
	assert.NoError(t, res.Err)
	assert.Equal(t, OutcomeValidated, res.Outcome)
	assert.Empty(t, engine.paid)

	cancelled := sentInvoice()
	cancelled.Status = model.InvoiceStatusCancelled
	engine = &stubEngine{invoice: cancelled}
	res = NewAdapter(engine, zap.NewNop()).Process(context.Background(), cb)
	assert.ErrorIs(t, res.Err, ErrNotPayable)
	assert.Empty(t, engine.paid)
}

func TestProviderMethod(t *testing.T) {
	assert.Equal(t, model.PaymentMethodSwish, ProviderSwish.Method())
	assert.Equal(t, model.PaymentMethodQliro, ProviderQliro.Method())
}
