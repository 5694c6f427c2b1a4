package servicebus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestNewBroker_RequiresConnectionString(t *testing.T) {
	_, err := NewBroker("", zap.NewNop())
	assert.Error(t, err)
}

func TestNewBroker_RejectsMalformedConnectionString(t *testing.T) {
	_, err := NewBroker("not-a-connection-string", zap.NewNop())
	assert.Error(t, err)
}
