package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jmcleod/simpleca/ca"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show a summary of the CA",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := ca.New(caDir)
		info, err := c.Info()
		if err != nil {
			return err
		}

		fmt.Printf("Subject:      %s\n", info.Subject)
		fmt.Printf("Not before:   %s\n", info.NotBefore)
		fmt.Printf("Not after:    %s\n", info.NotAfter)
		fmt.Printf("Next serial:  %d\n", info.NextSerial)
		fmt.Printf("Certificates: %d\n", info.CertCount)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}
