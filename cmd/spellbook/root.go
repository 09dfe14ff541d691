package main

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/go-go-golems/spellbook/pkg/llm"
	"github.com/go-go-golems/spellbook/pkg/personas"
	"github.com/go-go-golems/spellbook/pkg/snippets"
	"github.com/go-go-golems/spellbook/pkg/store"
)

var rootCmd = &cobra.Command{
	Use:   "spellbook",
	Short: "Cell-aware LLM chat sessions with personas, snippets and persistence",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("api-key", "", "OpenAI API key")
	rootCmd.PersistentFlags().String("api-base", "", "OpenAI-compatible base URL")
	rootCmd.PersistentFlags().String("model", "gpt-4o-mini", "default model")
	rootCmd.PersistentFlags().String("personas-dir", "", "directory with persona YAML files")
	rootCmd.PersistentFlags().String("snippets-dir", "", "directory with snippet files")
	rootCmd.PersistentFlags().String("db", "", "SQLite database for conversation persistence")

	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newPersonasCommand())
	rootCmd.AddCommand(newConversationsCommand())
}

// initConfig wires flags, SPELLBOOK_* environment variables and an optional
// .env file together, flags winning.
func initConfig(cmd *cobra.Command) error {
	_ = godotenv.Load()

	viper.SetEnvPrefix("SPELLBOOK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindPFlags(cmd.Root().PersistentFlags()); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	return nil
}

func newClient() (*llm.OpenAIClient, error) {
	apiKey := viper.GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return llm.NewOpenAIClient(apiKey, viper.GetString("api-base"))
}

func newPersonaProvider() (personas.Provider, error) {
	dir := viper.GetString("personas-dir")
	if dir == "" {
		return nil, nil
	}
	return personas.NewYAMLDirStore(dir)
}

func newSnippetProvider() (snippets.Provider, error) {
	dir := viper.GetString("snippets-dir")
	if dir == "" {
		return nil, nil
	}
	return snippets.NewDirProvider(dir)
}

func newStore() (store.Store, error) {
	dsn := viper.GetString("db")
	if dsn == "" {
		return nil, nil
	}
	return store.NewSQLiteStore(dsn)
}
