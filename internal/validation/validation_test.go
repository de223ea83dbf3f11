package validation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRejectsMissingPayment(t *testing.T) {
	svc := &Service{}
	resp := svc.Validate(context.Background(), Request{})
	assert.False(t, resp.IsValid)
	assert.Equal(t, "missing_payment", resp.ErrorReason)
}
