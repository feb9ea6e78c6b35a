package messaging

import (
	"reflect"
	"testing"

	"github.com/glimte/mmate-router/contracts"
	"github.com/glimte/mmate-router/routing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiscoveryFixture() (*TypeRegistry, *SagaRegistry, *Discovery) {
	types := NewTypeRegistry()
	sagas := NewSagaRegistry(types)
	return types, sagas, NewDiscovery(types, sagas)
}

func TestHandledMessageTypes(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want []reflect.Type
	}{
		{"saga handlers", orderSagaType, []reflect.Type{orderPlacedType, paymentReceivedType}},
		{"value receiver handler", reflect.TypeOf(auditHandler{}), []reflect.Type{orderPlacedType}},
		{"pointer and value parameters collapse", reflect.TypeOf(invoiceSaga{}), []reflect.Type{reflect.TypeOf(legacyInvoice{})}},
		{"plain struct", reflect.TypeOf(notAMessage{}), nil},
		{"interface", reflect.TypeOf((*contracts.Message)(nil)).Elem(), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HandledMessageTypes(tt.typ)
			assert.ElementsMatch(t, tt.want, got)
		})
	}
}

func TestDiscovery_Discover(t *testing.T) {
	t.Run("classifies the candidate universe", func(t *testing.T) {
		types, sagas, discovery := newDiscoveryFixture()

		result, err := discovery.Discover(TypesOf(
			&orderSaga{},
			&orderPlaced{},
			paymentReceived{},
			&legacyInvoice{},
			&invoiceSaga{},
			auditHandler{},
			notAMessage{},
		))
		require.NoError(t, err)

		assert.Len(t, result.MessageTypes, 3)
		assert.Len(t, result.Sagas, 2)
		assert.Equal(t, []reflect.Type{reflect.TypeOf(auditHandler{})}, result.Handlers)
		assert.Equal(t, 1, result.Skipped)

		placed, ok := types.LookupByIdentifier("Sales.OrderPlaced")
		require.True(t, ok)
		assert.Equal(t, orderSagaType, placed.SagaType)

		invoice, ok := types.LookupByIdentifier("Billing.LegacyInvoice")
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(invoiceSaga{}), invoice.SagaType)
		assert.True(t, invoice.HasCustomExtractor)

		saga, ok := sagas.GetSagaDescriptor(reflect.TypeOf(invoiceSaga{}))
		require.True(t, ok)
		assert.Equal(t, reflect.TypeOf(0), saga.KeyType)
		assert.Equal(t, reflect.TypeOf(invoiceState{}), saga.StateType)

		_, ok = sagas.GetSagaDescriptor(reflect.TypeOf(auditHandler{}))
		assert.False(t, ok)
	})

	t.Run("repeated candidates are scanned once", func(t *testing.T) {
		types, _, discovery := newDiscoveryFixture()

		result, err := discovery.Discover(TypesOf(&orderPlaced{}, orderPlaced{}, &orderPlaced{}))
		require.NoError(t, err)

		assert.Len(t, result.MessageTypes, 1)
		assert.Len(t, types.Descriptors(), 1)
	})

	t.Run("skips interfaces and unnamed types", func(t *testing.T) {
		_, _, discovery := newDiscoveryFixture()

		result, err := discovery.Discover([]reflect.Type{
			reflect.TypeOf((*contracts.Event)(nil)).Elem(),
			reflect.TypeOf(struct{ contracts.BaseEvent }{}),
			reflect.TypeOf([]int(nil)),
			nil,
		})
		require.NoError(t, err)

		assert.Empty(t, result.MessageTypes)
		assert.Equal(t, 4, result.Skipped)
	})

	t.Run("identifier collision aborts", func(t *testing.T) {
		_, _, discovery := newDiscoveryFixture()

		_, err := discovery.Discover(TypesOf(&orderPlaced{}, &impostor{}))

		assert.ErrorIs(t, err, routing.ErrDuplicateRegistration)
	})

	t.Run("second pass over the same universe fails", func(t *testing.T) {
		_, _, discovery := newDiscoveryFixture()
		_, err := discovery.Discover(TypesOf(&orderSaga{}))
		require.NoError(t, err)

		_, err = discovery.Discover(TypesOf(&orderSaga{}))

		assert.ErrorIs(t, err, routing.ErrDuplicateRegistration)
	})
}
