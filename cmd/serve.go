package cmd

import (
	"context"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/theapemachine/mnemo/pkg/embedding"
	"github.com/theapemachine/mnemo/pkg/memory"
	"github.com/theapemachine/mnemo/pkg/persist"
	"github.com/theapemachine/mnemo/pkg/service"
)

var (
	addrFlag     string
	providerFlag string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the memory service",
		Long:  longServe,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := memory.DefaultConfig()

			if err := viper.UnmarshalKey("memory", &cfg); err != nil {
				return err
			}

			options := []memory.ManagerOption{}

			if embedder := chooseEmbedder(); embedder != nil {
				options = append(options, memory.WithEmbedder(embedder))
			}

			manager, err := memory.NewManager(cfg, options...)
			if err != nil {
				return err
			}

			serverOptions := []service.MemoryServerOption{
				service.WithAddr(addrFlag),
			}

			if viper.GetBool("snapshots.enabled") {
				conn := persist.NewConn(
					persist.WithBucket(viper.GetString("snapshots.bucket")),
				)

				if err := conn.Connect(cmd.Context()); err != nil {
					return err
				}

				serverOptions = append(serverOptions, service.WithSnapshots(
					persist.NewSnapshotStore(conn, persist.WithPrefix(
						viper.GetString("snapshots.prefix"),
					)),
				))
			}

			maintenance := service.NewMaintenance(manager)
			maintenance.Start(context.Background())
			defer maintenance.Stop()

			return service.NewMemoryServer(manager, serverOptions...).Run()
		},
	}
)

/*
chooseEmbedder picks the embedding provider named in the configuration.
Without one the semantic store falls back to hash embeddings.
*/
func chooseEmbedder() memory.Embedder {
	provider := providerFlag
	if provider == "" {
		provider = viper.GetString("embedding.provider")
	}

	model := viper.GetString("embedding.model")
	dimension := viper.GetInt("memory.embedding_dimension")

	switch provider {
	case "openai":
		options := []embedding.OpenAIServiceOption{
			embedding.WithOpenAIClient(),
			embedding.WithOpenAIDimension(dimension),
		}
		if model != "" {
			options = append(options, embedding.WithOpenAIModel(model))
		}
		return embedding.NewOpenAIService(options...)
	case "ollama":
		options := []embedding.OllamaServiceOption{
			embedding.WithOllamaClient(),
			embedding.WithOllamaDimension(dimension),
		}
		if model != "" {
			options = append(options, embedding.WithOllamaModel(model))
		}
		return embedding.NewOllamaService(options...)
	case "cohere":
		options := []embedding.CohereServiceOption{
			embedding.WithCohereClient(),
			embedding.WithCohereDimension(dimension),
		}
		if model != "" {
			options = append(options, embedding.WithCohereModel(model))
		}
		return embedding.NewCohereService(options...)
	case "mock":
		return embedding.NewMockService(embedding.WithMockDimension(dimension))
	case "", "none":
		return nil
	default:
		log.Warn("unknown embedding provider, using hash fallback", "provider", provider)
		return nil
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&addrFlag, "addr", "a", ":3211", "Address to serve on")
	serveCmd.Flags().StringVarP(&providerFlag, "embedder", "e", "", "Embedding provider (overrides config)")
}

var longServe = `
Serve the memory API over HTTP. The service exposes storage, recall,
stats and maintenance endpoints, and runs scheduled consolidation and
decay passes in the background.
`
