package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/bartek5186/hurtownia/internal/orders"
)

const EventOrderAccepted = "order.accepted"

// OrderAcceptedEvent to treść rekordu w topicu zamówień.
type OrderAcceptedEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	OrderID   uint      `json:"order_id"`
	UserID    uint      `json:"user_id"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	Lines     []string  `json:"lines"`
	OrderSum  string    `json:"order_sum"`
	CreatedAt time.Time `json:"created_at"`
}

type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

type KafkaNotifier struct {
	client producer
	topic  string
}

func NewKafkaNotifier(brokers []string, topic string) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.ProducerBatchMaxBytes(1<<20),
		kgo.RecordDeliveryTimeout(30*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return &KafkaNotifier{client: client, topic: topic}, nil
}

// Send publikuje zdarzenie z kluczem = id zamówienia (kolejność w obrębie zamówienia).
func (k *KafkaNotifier) Send(ctx context.Context, m Message) error {
	ev := OrderAcceptedEvent{
		ID:        EventID(m.OrderID),
		Type:      EventOrderAccepted,
		OrderID:   m.OrderID,
		UserID:    m.UserID,
		Email:     m.To,
		Subject:   m.Subject,
		Body:      m.Body,
		Lines:     m.Lines,
		OrderSum:  m.OrderSum,
		CreatedAt: time.Now().UTC(),
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	rec := &kgo.Record{
		Topic: k.topic,
		Key:   []byte(strconv.FormatUint(uint64(m.OrderID), 10)),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "type", Value: []byte(EventOrderAccepted)},
		},
	}
	return k.client.ProduceSync(ctx, rec).FirstErr()
}

// EventID jest stałe dla zamówienia: ponowienie zadania daje to samo id,
// więc konsument może odrzucić duplikat.
func EventID(orderID uint) string {
	key := fmt.Sprintf("%s:%d", orders.ConfirmationTask, orderID)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(key)).String()
}

func (k *KafkaNotifier) Close() {
	k.client.Close()
}
