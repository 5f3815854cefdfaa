package mq

import (
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
)

func TestSendMessage(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageWithCheckerFunctionAndSucceed(func(val []byte) error {
		if string(val) != `{"user_id":1}` {
			return errors.New("unexpected payload")
		}
		return nil
	})

	p := NewProducerWithSync(sp)
	assert.NoError(t, p.SendMessage("credit_ledger", "TXN1", `{"user_id":1}`))
	assert.NoError(t, p.Close())
}

func TestSendMessageFailure(t *testing.T) {
	sp := mocks.NewSyncProducer(t, nil)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	p := NewProducerWithSync(sp)
	assert.ErrorIs(t, p.SendMessage("credit_ledger", "TXN1", "{}"), sarama.ErrOutOfBrokers)
	assert.NoError(t, p.Close())
}
