package commands

import (
	"github.com/mosaicnetworks/ursula/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for Ursula
var RootCmd = &cobra.Command{
	Use:              "ursula",
	Short:            "proxy node of a threshold access control network",
	TraverseChildren: true,
}
