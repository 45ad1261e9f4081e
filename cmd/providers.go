package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/pvondra/facefinder/internal/config"
	"github.com/pvondra/facefinder/internal/facerec"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List the available face recognition providers",
	Run: func(cmd *cobra.Command, args []string) {
		active := config.Load().Provider
		for _, name := range facerec.Names() {
			marker := " "
			if name == active {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, name)
		}
	},
}

func init() {
	rootCmd.AddCommand(providersCmd)
}
