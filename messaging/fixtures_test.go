package messaging

import (
	"context"
	"encoding/json"

	"github.com/glimte/mmate-router/contracts"
)

type orderPlaced struct {
	contracts.BaseEvent
	OrderID string `json:"orderId"`
}

func (orderPlaced) MessageTypeID() string { return "Sales.OrderPlaced" }

type paymentReceived struct {
	contracts.BaseEvent
	Amount int64 `json:"amount"`
}

func (paymentReceived) MessageTypeID() string { return "Billing.PaymentReceived" }

// legacyInvoice decodes a wire format that differs from its struct layout.
type legacyInvoice struct {
	contracts.BaseCommand
	Number string
}

func (legacyInvoice) MessageTypeID() string { return "Billing.LegacyInvoice" }

func (l *legacyInvoice) ExtractPayload(body []byte) error {
	var wire struct {
		InvoiceNo string `json:"invoice_no"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return err
	}
	l.Number = wire.InvoiceNo
	return nil
}

// impostor claims the identifier of orderPlaced.
type impostor struct {
	contracts.BaseEvent
}

func (impostor) MessageTypeID() string { return "Sales.OrderPlaced" }

type unnamedMessage struct {
	contracts.BaseEvent
}

func (unnamedMessage) MessageTypeID() string { return "" }

type notAMessage struct {
	Name string
}

type orderState struct {
	Status string
	Paid   bool
}

type orderSaga struct {
	SagaBase[orderState, string]
}

func (s *orderSaga) HandleOrderPlaced(ctx context.Context, msg *orderPlaced) error { return nil }

func (s *orderSaga) HandlePayment(ctx context.Context, msg *paymentReceived) error { return nil }

// Helper is not a handler: it does not start with Handle.
func (s *orderSaga) Helper(ctx context.Context, msg *orderPlaced) error { return nil }

// HandleNothing has the wrong shape.
func (s *orderSaga) HandleNothing(msg *orderPlaced) error { return nil }

type auditHandler struct{}

func (auditHandler) HandleOrderPlaced(ctx context.Context, msg orderPlaced) error { return nil }

type invoiceState struct {
	Total int64
}

type invoiceSaga struct {
	SagaBase[invoiceState, int]
}

func (s *invoiceSaga) HandleInvoice(ctx context.Context, msg *legacyInvoice) error { return nil }

func (s *invoiceSaga) HandleInvoiceAgain(ctx context.Context, msg legacyInvoice) error { return nil }
