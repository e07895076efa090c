package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wethinkt/go-timegrid/internal/config"
	"github.com/wethinkt/go-timegrid/internal/i18n"
)

var languageCmd = &cobra.Command{
	Use:   "language [lang]",
	Short: "Get or set the display language",
	Long: `Get or set the display language. Use a BCP 47 tag (e.g., en, de, fr).

Examples:
  timegrid language          # show current language
  timegrid language de       # set to German`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			lang := i18n.ResolveLocale(settings.Language)
			fmt.Printf("Current language: %s\n", lang)
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		cfg.Language = args[0]
		if err := config.Save(cfg); err != nil {
			return err
		}
		fmt.Printf("Language set to: %s\n", args[0])
		return nil
	},
}
