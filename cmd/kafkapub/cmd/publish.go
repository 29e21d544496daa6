package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loipv/kafka-producer-factory/kafka"
)

func newPublishCmd(v *viper.Viper) *cobra.Command {
	var (
		key     string
		headers map[string]string
	)

	cmd := &cobra.Command{
		Use:   "publish <topic> [value...]",
		Short: "Publish records to a topic",
		Long: `Publish one record per value. Without values, each line of stdin is a record.

When a transactional id prefix is configured all records are written in a
single transaction, which is aborted if any send fails.

Records without --key get a random UUID key.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(v)
			if err != nil {
				return err
			}

			values := args[1:]
			if len(values) == 0 {
				values, err = readLines(cmd.InOrStdin())
				if err != nil {
					return err
				}
			}

			logger := newLogger(s.LogLevel)
			factory, err := newFactory(s, logger)
			if err != nil {
				return err
			}
			factory.Start()
			defer factory.Stop()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			p := &publisher{
				factory: factory,
				topic:   args[0],
				key:     key,
				headers: headers,
				out:     cmd.OutOrStdout(),
			}
			return p.publish(ctx, values)
		},
	}

	cmd.Flags().StringVarP(&key, "key", "k", "", "Record key (default: random UUID per record)")
	cmd.Flags().StringToStringVarP(&headers, "header", "H", nil, "Record header as key=value, repeatable")
	return cmd
}

// publisher sends values through a single borrowed producer
type publisher struct {
	factory kafka.Factory
	topic   string
	key     string
	headers map[string]string
	out     io.Writer
}

func (p *publisher) publish(ctx context.Context, values []string) (err error) {
	producer, err := p.factory.CreateProducer(ctx)
	if err != nil {
		return err
	}
	defer producer.Close()

	transactional := p.factory.TransactionCapable()
	if transactional {
		if err := producer.BeginTransaction(); err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() {
			if err == nil {
				err = producer.CommitTransaction(ctx)
				return
			}
			if abortErr := producer.AbortTransaction(ctx); abortErr != nil {
				err = errors.Join(err, fmt.Errorf("failed to abort transaction: %w", abortErr))
			}
		}()
	}

	for _, value := range values {
		md, err := producer.Send(ctx, p.record(value))
		if err != nil {
			return err
		}
		fmt.Fprintf(p.out, "%s [%d] @ %d\n", md.Topic, md.Partition, md.Offset)
	}
	return nil
}

func (p *publisher) record(value string) *kafka.Record {
	key := p.key
	if key == "" {
		key = uuid.NewString()
	}

	var headers kafka.Headers
	if len(p.headers) > 0 {
		headers = make(kafka.Headers, len(p.headers))
		for k, v := range p.headers {
			headers[k] = []byte(v)
		}
	}

	return &kafka.Record{
		Topic:   p.topic,
		Key:     key,
		Value:   value,
		Headers: headers,
	}
}

func readLines(r io.Reader) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if line := scanner.Text(); line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return lines, nil
}
