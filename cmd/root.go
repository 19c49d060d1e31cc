/*
Package cmd implements the command-line interface for the mnemo memory
service. It provides commands for serving the memory API and managing
snapshots.
*/
package cmd

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

/*
Embed a mini filesystem into the binary to hold the default config file.
This will be written to the home directory of the user running the service,
which allows a developer to easily override the config file.
*/
//go:embed cfg/*
var embedded embed.FS

/*
rootCmd represents the base command when called without any subcommands
*/
var (
	projectName  = "mnemo"
	cfgFile      string
	openaiAPIKey string

	rootCmd = &cobra.Command{
		Use:   "mnemo",
		Short: "A tiered memory service for autonomous agents",
		Long:  longRoot,
	}
)

/*
Execute is the main entry point for the mnemo CLI. It initializes the root
command and executes it.
*/
func Execute() error {
	return rootCmd.Execute()
}

/*
init initializes the root command and sets up the persistent flags.
*/
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"config.yml",
		"config file (default is $HOME/."+projectName+"/config.yml)",
	)

	rootCmd.PersistentFlags().StringVar(
		&openaiAPIKey,
		"openai-api-key",
		os.Getenv("OPENAI_API_KEY"),
		"API key for the OpenAI embedding provider",
	)
}

/*
initConfig writes the default config file to the user's home directory if it
doesn't exist, and then reads the config file from the user's home directory.
*/
func initConfig() {
	var err error

	if err = writeConfig(); err != nil {
		log.Fatal(err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	// Add user config directory (~/.mnemo)
	home, _ := os.UserHomeDir()
	viper.AddConfigPath(home + "/." + projectName)

	if err = viper.ReadInConfig(); err != nil {
		log.Fatal(err)
		return
	}

	// An API key given via flag reaches the embedding provider through the
	// environment
	if openaiAPIKey != "" {
		_ = os.Setenv("OPENAI_API_KEY", openaiAPIKey)
	}
}

/*
writeConfig writes the default config file to the user's home directory.
*/
func writeConfig() (err error) {
	var (
		home, _ = os.UserHomeDir()
		fh      fs.File
		buf     bytes.Buffer
	)

	configDir := home + "/." + projectName
	if !checkFileExists(configDir) {
		if err = os.MkdirAll(configDir, os.ModePerm); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}

	for _, file := range []string{cfgFile} {
		fullPath := configDir + "/" + file

		if checkFileExists(fullPath) {
			continue
		}

		if fh, err = embedded.Open("cfg/" + file); err != nil {
			return fmt.Errorf("failed to open embedded config file: %w", err)
		}

		if _, err = io.Copy(&buf, fh); err != nil {
			fh.Close()
			return fmt.Errorf("failed to read embedded config file: %w", err)
		}

		if err = os.WriteFile(fullPath, buf.Bytes(), 0644); err != nil {
			fh.Close()
			return fmt.Errorf("failed to write config file: %w", err)
		}

		log.Println("wrote config file to", fullPath)
		buf.Reset()
		fh.Close()
	}

	return nil
}

func checkFileExists(filePath string) bool {
	_, err := os.Stat(filePath)
	return !errors.Is(err, os.ErrNotExist)
}

/*
longRoot contains the detailed help text for the root command.
*/
var longRoot = `
mnemo is a persistent, tiered memory service for autonomous agents.
It keeps working, episodic and semantic stores, consolidates memories
between tiers on a schedule, and serves storage and recall over HTTP.
`
