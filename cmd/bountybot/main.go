package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bountybot",
	Short: "GitHub issue pricing automation",
	Long: `bountybot keeps issue pricing labels consistent across repositories.

It receives GitHub webhooks and maintains three label families on issues:
Time (estimated effort), Priority (urgency), and Price (the derived payout).
Humans set time and priority; the bot derives the price, reverts label
changes from users without permission, and propagates configuration changes
across an organization.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
