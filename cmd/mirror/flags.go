package main

import (
	"github.com/spf13/cobra"

	"github.com/jacentio/trellis/config"
)

func addQueryFlags(cmd *cobra.Command) {
	cmd.Flags().String("path", "", "Path of the collection")
	cmd.Flags().String("order-by", "", "Order: key, value, child:<name> or none")
	cmd.Flags().Int("limit-to-last", 0, "Keep only the last N children")
	cmd.Flags().Int("limit-to-first", 0, "Keep only the first N children")
	cmd.Flags().Int("page-size", 0, "How many children \"more\" loads")
}

// applyQueryFlags overrides d with the query flags given on the command
// line. A limit flag clears the opposite limit of the config file.
func applyQueryFlags(cmd *cobra.Command, d *config.Defaults) error {
	flags := cmd.Flags()
	if flags.Changed("path") {
		d.Path, _ = flags.GetString("path")
	}
	if flags.Changed("order-by") {
		d.OrderBy, _ = flags.GetString("order-by")
	}
	if flags.Changed("limit-to-last") {
		d.LimitToLast, _ = flags.GetInt("limit-to-last")
		if !flags.Changed("limit-to-first") {
			d.LimitToFirst = 0
		}
	}
	if flags.Changed("limit-to-first") {
		d.LimitToFirst, _ = flags.GetInt("limit-to-first")
		if !flags.Changed("limit-to-last") {
			d.LimitToLast = 0
		}
	}
	if flags.Changed("page-size") {
		d.PageSize, _ = flags.GetInt("page-size")
	}
	return d.Validate()
}

func addDynamoFlags(cmd *cobra.Command) {
	cmd.Flags().String("table", "", "DynamoDB node table")
	cmd.Flags().Int("num-shards", 0, "Shards per parent the table was written with")
	cmd.Flags().String("region", "", "AWS region")
	cmd.Flags().String("profile", "", "AWS shared config profile")
	cmd.Flags().String("endpoint", "", "DynamoDB endpoint, for DynamoDB Local")
}

func applyDynamoFlags(cmd *cobra.Command, d *config.Defaults) {
	flags := cmd.Flags()
	if flags.Changed("table") {
		d.DynamoDB.Table, _ = flags.GetString("table")
	}
	if flags.Changed("num-shards") {
		d.DynamoDB.NumShards, _ = flags.GetInt("num-shards")
	}
	if flags.Changed("region") {
		d.DynamoDB.Region, _ = flags.GetString("region")
	}
	if flags.Changed("profile") {
		d.DynamoDB.Profile, _ = flags.GetString("profile")
	}
	if flags.Changed("endpoint") {
		d.DynamoDB.Endpoint, _ = flags.GetString("endpoint")
	}
}
