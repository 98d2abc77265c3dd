package commands

import (
	"github.com/auriter/voicecore/internal/config"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "voicecore",
	Short: "Talk to a conversational backend with your voice",
	Long: `voicecore streams microphone audio to a transcription service, sends each
finished utterance to a chat endpoint and plays the spoken reply.

Configuration is read from an optional YAML file, a .env file in the working
directory and VOICECORE_* environment variables, in that order.

Examples:
  # Start a conversation
  voicecore --config voicecore.yaml run

  # Print the configuration schema
  voicecore config schema
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Command returns the root command for mounting into a parent CLI.
func Command() *cobra.Command {
	return rootCmd
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig() (config.Config, error) {
	return config.Load(cfgFile)
}
