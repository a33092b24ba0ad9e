package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func gloveCMD(cfgPath *string) *cobra.Command {
	var file string
	load := &cobra.Command{
		Use:   "glove",
		Short: "Load a pretrained word embedding file into the word table",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file is required")
			}
			ctx := cmd.Context()
			cfg, _, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			st, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			return loadGloveFile(ctx, file, st, cfg.Ranking.Dimensions)
		},
	}
	load.Flags().StringVar(&file, "file", "glove.840B.300d.txt", "embedding file with one word and its vector per line")
	return load
}
