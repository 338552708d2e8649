package main

import (
	"fmt"

	"github.com/formrelay/go-formrelay-server/util"
	"github.com/spf13/cobra"
)

var salt string

func init() {
	hashEmailCmd.Flags().StringVar(&salt, "salt", "", "forms.emailSalt of the server configuration")
	rootCmd.AddCommand(hashEmailCmd)
}

// hashEmailCmd prints the routing hash (f/<hash>) of a recipient email
var hashEmailCmd = &cobra.Command{
	Use:   "hash-email <email>",
	Short: "Print the routing hash of a recipient email",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		normalized, err := util.NormalizeEmail(args[0])
		check(err)
		hash, err := util.ScryptEmail(normalized, salt)
		check(err)
		fmt.Printf("%s\nf/%s\n", normalized, hash)
	},
}
