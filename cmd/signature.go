package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/formrelay/go-formrelay-server/util"
	"github.com/spf13/cobra"
)

var (
	secret    string
	bodyFile  string
	timestamp int64
	header    string
	tolerance time.Duration
)

func init() {
	signCmd.Flags().StringVarP(&secret, "secret", "s", "", "webhook signing secret")
	signCmd.Flags().StringVarP(&bodyFile, "body", "b", "", "file with the payload (default is stdin)")
	signCmd.Flags().Int64VarP(&timestamp, "timestamp", "t", 0, "unix timestamp (default is now)")
	signCmd.MarkFlagRequired("secret")

	verifySignatureCmd.Flags().StringVarP(&secret, "secret", "s", "", "webhook signing secret")
	verifySignatureCmd.Flags().StringVarP(&bodyFile, "body", "b", "", "file with the received payload (default is stdin)")
	verifySignatureCmd.Flags().StringVar(&header, "header", "", "value of the received X-Signature header")
	verifySignatureCmd.Flags().DurationVar(&tolerance, "tolerance", util.SignatureTolerance, "accepted clock difference")
	verifySignatureCmd.MarkFlagRequired("secret")
	verifySignatureCmd.MarkFlagRequired("header")

	rootCmd.AddCommand(signCmd)
	rootCmd.AddCommand(verifySignatureCmd)
}

func readBody() ([]byte, error) {
	if bodyFile == "" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(bodyFile)
}

// signCmd prints the X-Signature header value for a payload
var signCmd = &cobra.Command{
	Use:   "sign",
	Short: "Compute the X-Signature header of a webhook payload",
	Run: func(cmd *cobra.Command, args []string) {
		body, err := readBody()
		check(err)
		ts := timestamp
		if ts == 0 {
			ts = time.Now().Unix()
		}
		fmt.Println(util.SignatureHeader(secret, ts, body))
	},
}

// verifySignatureCmd checks a received webhook the way a receiver should
var verifySignatureCmd = &cobra.Command{
	Use:   "verify-signature",
	Short: "Verify the X-Signature header of a received webhook payload",
	Run: func(cmd *cobra.Command, args []string) {
		body, err := readBody()
		check(err)
		check(util.VerifySignature(secret, header, body, time.Now(), tolerance))
		fmt.Println("signature is valid")
	},
}
