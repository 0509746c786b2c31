package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jacentio/trellis/collection"
	"github.com/jacentio/trellis/config"
)

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Mirror a collection stored in DynamoDB",
		Long: `Mirror the children of a path stored in the DynamoDB node table and print
the ordered collection after every change.

Changes made by other writers are picked up from the table's stream when
--stream-arn (or stream.arn in the config file) is set. Type "more" on
stdin to load another page and "quit" to stop.`,
		Args: cobra.NoArgs,
	}

	addQueryFlags(cmd)
	addDynamoFlags(cmd)
	addStreamFlags(cmd)
	cmd.Flags().Bool("follow-config", false, "Re-apply order and limits when the config file changes")

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts := getOptions(cmd)

		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer sess.close()
		logger := sess.logger

		fallback, err := sess.defaults.CollectionConfig(sess.backend.Source(), logger)
		if err != nil {
			return err
		}
		s, err := collection.New(collection.Config{}, fallback)
		if err != nil {
			return err
		}

		p := newPrinter(cmd.OutOrStdout(), opts.JSONOutput)
		cancel := s.Watch(func(snap collection.Snapshot) { p.snapshot(s.Path(), snap) })
		defer cancel()

		if err := s.Mount(); err != nil {
			return err
		}
		defer s.Unmount()

		logger.WithFields(logrus.Fields{
			"path":  s.Path(),
			"query": s.Query().String(),
			"table": sess.backend.Config().Table,
		}).Info("watching collection")

		sess.follow()

		if opts.ConfigFile != "" {
			if follow, _ := cmd.Flags().GetBool("follow-config"); follow {
				if err := followConfig(sess.ctx, opts.ConfigFile, s, sess.defaults, logger); err != nil {
					return err
				}
			}
		}

		go readCommands(cmd.InOrStdin(), s, p, sess.stop, logger)

		<-sess.ctx.Done()
		return nil
	}

	return cmd
}

// readCommands runs the commands typed on r until it is exhausted.
func readCommands(r io.Reader, s *collection.Synchronizer, p *printer, stop context.CancelFunc, logger *logrus.Entry) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "":
		case "more", "m":
			if err := s.ScrollMore(); err != nil {
				logger.WithError(err).Warn("scroll more failed")
			}
		case "show", "s":
			p.snapshot(s.Path(), s.Snapshot())
		case "quit", "q", "exit":
			stop()
			return
		default:
			p.line("commands: more, show, quit")
		}
	}
}

// followConfig re-applies the query options of the config file to s
// whenever the file changes.
func followConfig(ctx context.Context, file string, s *collection.Synchronizer, current *config.Defaults, logger *logrus.Entry) error {
	var mu sync.Mutex
	prev := *current
	w, err := config.NewWatcher(file, 200*time.Millisecond, func(next *config.Defaults, err error) {
		if err != nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if err := reconfigure(s, &prev, next); err != nil {
			logger.WithError(err).Warn("config change not applied")
			return
		}
		prev = *next
	})
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}
	go w.Start(ctx)
	return nil
}
