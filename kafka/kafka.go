// Package kafka provides a producer factory for Kafka built on top of
// confluent-kafka-go.
//
// The factory manages producer connections in one of two modes:
//   - Without a transactional id prefix, every CreateProducer call returns one
//     shared producer, created on first use.
//   - With a prefix, every call returns a dedicated transactional producer,
//     reused from a pool of closed producers or created with a unique
//     transactional id and already initialized transactions.
//
// Producers handed out by the factory are used like raw producers. Their
// Close never releases the connection: a shared producer ignores it and a
// transactional producer goes back to the pool. Connections are released by
// Stop or Destroy, each bounded by the physical close timeout.
//
// Quick Start:
//
//	configs, err := kafka.NewConfigMap(
//	    kafka.WithBrokers("localhost:9092"),
//	    kafka.WithClientID("my-app"),
//	)
//
//	factory := kafka.NewProducerFactory(configs,
//	    kafka.WithValueSerializer(kafka.JSONSerializer{}),
//	)
//	factory.Start()
//	defer factory.Stop()
//
//	producer, err := factory.CreateProducer(ctx)
//	defer producer.Close()
//
//	_, err = producer.Send(ctx, &kafka.Record{
//	    Topic: "topic",
//	    Key:   "key",
//	    Value: map[string]string{"hello": "world"},
//	})
//
// Transactions:
//
//	_ = factory.SetTransactionIDPrefix("orders-tx-")
//
//	producer, err := factory.CreateProducer(ctx)
//	defer producer.Close() // returns the producer to the pool
//
//	_ = producer.BeginTransaction()
//	_, err = producer.Send(ctx, record)
//	err = producer.CommitTransaction(ctx)
//
// The default connections use confluent-kafka-go. NewSaramaProducerBuilder
// with WithProducerBuilder switches to IBM/sarama.
package kafka

// Version of the library
const Version = "1.0.0"
