package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"sheetdesk/api/internal/app"
	"sheetdesk/api/internal/checklist"
	"sheetdesk/api/internal/sheet"
)

var parseAllSheets bool

// parseCmd runs the upload pipeline on a local file without touching the database.
var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Decode a spreadsheet and print the reconstructed checklist as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		raws, err := sheet.Decode(filepath.Base(args[0]), data)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}

		sheets := make([]sheet.Sheet, len(raws))
		for i, raw := range raws {
			sheets[i] = sheet.Normalize(raw)
		}
		sections := []checklist.Section{}
		if len(sheets) > 0 {
			sections = checklist.Import(sheets[0], cfg.Teams)
		}
		viewMode := app.ViewChecklist
		if len(sections) == 0 {
			viewMode = app.ViewRaw
		}

		out := map[string]any{"viewMode": viewMode, "sections": sections}
		if parseAllSheets {
			out["sheets"] = sheets
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

func init() {
	parseCmd.Flags().BoolVar(&parseAllSheets, "sheets", false, "include every normalized sheet in the output")
}
