package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jacentio/trellis/config"
	"github.com/jacentio/trellis/remote"
	"github.com/jacentio/trellis/store"
	"github.com/jacentio/trellis/stream"
)

// loopBuffer bounds the deliveries queued for the printing goroutine.
const loopBuffer = 1024

func addStreamFlags(cmd *cobra.Command) {
	cmd.Flags().String("stream-arn", "", "ARN of the table's stream")
	cmd.Flags().Duration("poll-interval", stream.DefaultPollInterval, "How often the stream is polled")
}

// session is the DynamoDB side of a command: the store backend whose
// listener deliveries run on one loop goroutine, fed by the table stream.
type session struct {
	ctx      context.Context
	stop     context.CancelFunc
	defaults *config.Defaults
	clients  *awsClients
	backend  *store.Backend
	logger   *logrus.Entry
}

func openSession(cmd *cobra.Command) (*session, error) {
	logger := getLogger(cmd)

	d, err := loadDefaults(cmd)
	if err != nil {
		return nil, err
	}
	if err := applyQueryFlags(cmd, d); err != nil {
		return nil, err
	}
	applyDynamoFlags(cmd, d)

	flags := cmd.Flags()
	if flags.Changed("stream-arn") {
		d.Stream.ARN, _ = flags.GetString("stream-arn")
	}
	if flags.Changed("poll-interval") || d.Stream.PollInterval == 0 {
		d.Stream.PollInterval, _ = flags.GetDuration("poll-interval")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)

	clients, err := newAWSClients(ctx, d.DynamoDB)
	if err != nil {
		stop()
		return nil, err
	}

	loop := remote.NewLoop(loopBuffer)
	go func() { _ = loop.Run(ctx) }()

	backend := store.New(clients.dynamo, store.Config{
		Table:     d.DynamoDB.Table,
		NumShards: d.DynamoDB.NumShards,
	}, store.WithDispatcher(loop))

	return &session{
		ctx:      ctx,
		stop:     stop,
		defaults: d,
		clients:  clients,
		backend:  backend,
		logger:   logger,
	}, nil
}

// follow tails the table stream so changes of other writers reach the
// backend's listeners.
func (s *session) follow() {
	arn := s.defaults.Stream.ARN
	if arn == "" {
		s.logger.Warn("no stream ARN configured, only writes made by this process are seen")
		return
	}

	// deletes are cascaded by the table's stream consumer, not here
	handler := stream.NewHandler(s.backend, nil, s.logger)
	poller := stream.NewPoller(s.clients.streams, arn, s.defaults.Stream.PollInterval, handler, s.logger)
	go func() {
		if err := poller.Run(s.ctx); err != nil {
			s.logger.WithError(err).Error("stream poller stopped")
		}
	}()
}

func (s *session) close() {
	s.stop()
}
