package testutil

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	rabbitTC "github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// TestQueue holds test message broker resources
type TestQueue struct {
	Conn      *amqp.Connection
	container *rabbitTC.RabbitMQContainer
}

// SetupTestQueue creates a new test RabbitMQ container
func SetupTestQueue(ctx context.Context) (*TestQueue, error) {
	container, err := rabbitTC.Run(ctx,
		"rabbitmq:3.12-alpine",
		rabbitTC.WithAdminUsername("guest"),
		rabbitTC.WithAdminPassword("guest"),
	)
	if err != nil {
		return nil, err
	}

	amqpURL, err := container.AmqpURL(ctx)
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		if terr := container.Terminate(ctx); terr != nil {
			err = terr
		}
		return nil, err
	}

	return &TestQueue{Conn: conn, container: container}, nil
}

// Teardown closes connections and terminates container
func (t *TestQueue) Teardown(ctx context.Context) {
	if t.Conn != nil {
		t.Conn.Close()
	}
	if t.container != nil {
		if err := t.container.Terminate(ctx); err != nil {
			return
		}
	}
}
