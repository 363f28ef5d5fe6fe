package orders

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWire(t *testing.T) {
	assert.Equal(t, "OUT_OF_STOCK:Widget", outOfStock("op", "Widget").Wire())
	assert.Equal(t, "OUT_OF_STOCK", (&Error{Code: CodeOutOfStock}).Wire())
	assert.Equal(t, "MIXED_COMPANIES", newError("op", CodeMixedCompanies, "x").Wire())
}

func TestErrorMessage(t *testing.T) {
	assert.Equal(t, "orders.Place: one or more products do not exist",
		newError("orders.Place", CodeInvalidProducts, "one or more products do not exist").Error())
	assert.Equal(t, "orders.Place: OUT_OF_STOCK:Widget", outOfStock("orders.Place", "Widget").Error())
}

func TestIsCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", newError("op", CodeInvalidTransition, "nope"))
	assert.True(t, IsCode(err, CodeInvalidTransition))
	assert.False(t, IsCode(err, CodeOutOfStock))
	assert.False(t, IsCode(errors.New("plain"), CodeInvalidTransition))

	var oe *Error
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, "op", oe.Op)
}
