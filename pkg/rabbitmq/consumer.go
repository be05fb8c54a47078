package rabbitmq

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// HandleResult tells the consumer what to do with a delivery.
type HandleResult int

const (
	// Ack acknowledges the delivery; processing succeeded or the message
	// was recognized as a duplicate.
	Ack HandleResult = iota
	// Retry requeues the delivery with an incremented retry header, after
	// a backoff. Exhausted retries are dead-lettered.
	Retry
	// Reject dead-letters the delivery immediately without consuming a
	// retry attempt. Used for malformed messages that can never succeed.
	Reject
)

const (
	retryCountHeader = "x-retry-count"
	maxRetries       = 3
	retryBackoffUnit = time.Second
)

// Handler processes one message body and reports what should happen to it.
type Handler func(routingKey string, body []byte) HandleResult

type Consumer struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func sanitizeURL(raw string) (string, error) {
	clean := strings.TrimSpace(raw)
	clean = strings.Trim(clean, "\"'")
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	if parsed.Scheme != "amqp" && parsed.Scheme != "amqps" {
		return "", fmt.Errorf("invalid AMQP scheme: %s", parsed.Scheme)
	}
	return clean, nil
}

func NewConsumer(amqpURL string) (*Consumer, error) {
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	// One unacked message at a time; processing order within the queue is
	// preserved and a slow handler cannot hoard deliveries.
	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &Consumer{conn: conn, ch: ch}, nil
}

// ConsumeWithBindings declares a durable queue bound to the exchange with the
// given routing key patterns, plus a companion dead-letter queue, and starts a
// goroutine dispatching deliveries to the handler.
//
// A handler returning Retry gets the message republished to the exchange
// under its original routing key with an incremented x-retry-count header
// after a linear backoff. Once the
// count reaches the retry ceiling the message is nacked without requeue,
// which routes it to the dead-letter queue.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, routingKeys []string, handler Handler) error {
	if handler == nil {
		return fmt.Errorf("no handler provided")
	}
	if len(routingKeys) == 0 {
		return fmt.Errorf("no routing keys provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}

	dlxName := exchange + ".dlx"
	dlqName := queueName + ".dlq"
	if err := c.ch.ExchangeDeclare(dlxName, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	dlq, err := c.ch.QueueDeclare(dlqName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	if err := c.ch.QueueBind(dlq.Name, "#", dlxName, false, nil); err != nil {
		return err
	}

	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange": dlxName,
	})
	if err != nil {
		return err
	}

	for _, key := range routingKeys {
		if err := c.ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return err
		}
	}

	msgs, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}

	go func() {
		for d := range msgs {
			switch handler(d.RoutingKey, d.Body) {
			case Ack:
				d.Ack(false)
			case Reject:
				log.Printf("level=warn component=rabbitmq_consumer msg=\"rejecting malformed message\" queue=%s routing_key=%s", q.Name, d.RoutingKey)
				d.Nack(false, false)
			case Retry:
				c.retryOrDeadLetter(d, exchange, q.Name)
			}
		}
	}()

	return nil
}

// retryOrDeadLetter republishes the delivery to the original exchange under
// its original routing key, so the redelivery is indistinguishable from the
// first delivery apart from the incremented retry header.
func (c *Consumer) retryOrDeadLetter(d amqp.Delivery, exchange, queueName string) {
	attempt := retryCount(d.Headers) + 1
	if attempt > maxRetries {
		log.Printf("level=error component=rabbitmq_consumer msg=\"retries exhausted; dead-lettering\" queue=%s routing_key=%s message_id=%s attempts=%d", queueName, d.RoutingKey, d.MessageId, attempt-1)
		d.Nack(false, false)
		return
	}

	// Linear backoff scaled by the attempt number.
	time.Sleep(time.Duration(attempt) * retryBackoffUnit)

	headers := amqp.Table{}
	for k, v := range d.Headers {
		headers[k] = v
	}
	headers[retryCountHeader] = int32(attempt)

	err := c.ch.Publish(exchange, d.RoutingKey, false, false, amqp.Publishing{
		ContentType:  d.ContentType,
		DeliveryMode: amqp.Persistent,
		MessageId:    d.MessageId,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         d.Body,
	})
	if err != nil {
		log.Printf("level=error component=rabbitmq_consumer msg=\"retry republish failed; requeueing original\" queue=%s err=%v", queueName, err)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

func retryCount(headers amqp.Table) int {
	if headers == nil {
		return 0
	}
	switch v := headers[retryCountHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
