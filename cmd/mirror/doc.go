package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jacentio/trellis/document"
)

func newDocCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doc",
		Short: "Mirror a single document stored in DynamoDB",
		Long: `Open a document cache on --path, print its first value and then every
change until interrupted. With --set the given JSON value is written first.`,
		Args: cobra.NoArgs,
	}

	cmd.Flags().String("path", "", "Path of the document")
	cmd.Flags().String("set", "", "JSON value to write before watching")
	addDynamoFlags(cmd)
	addStreamFlags(cmd)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		opts := getOptions(cmd)

		sess, err := openSession(cmd)
		if err != nil {
			return err
		}
		defer sess.close()

		path := sess.defaults.Path
		if path == "" {
			return errors.New("a path is required, use --path or path in the config file")
		}

		doc := document.Open(sess.backend.Source(), path, document.WithLogger(sess.logger))
		defer doc.Close()

		p := newPrinter(cmd.OutOrStdout(), opts.JSONOutput)
		doc.AddListener("print", func() error {
			if err := doc.Err(); err != nil {
				p.value(path, nil, err)
				return nil
			}
			v, err := doc.Peek()
			p.value(path, v, err)
			return nil
		})

		if _, err := doc.FirstValue().Await(sess.ctx); err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}

		if raw, _ := cmd.Flags().GetString("set"); raw != "" {
			var value any
			if err := json.Unmarshal([]byte(raw), &value); err != nil {
				return fmt.Errorf("--set: %w", err)
			}
			if _, err := doc.Set(value).Await(sess.ctx); err != nil {
				return fmt.Errorf("set %s: %w", path, err)
			}
		}

		sess.follow()
		<-sess.ctx.Done()
		return nil
	}

	return cmd
}
