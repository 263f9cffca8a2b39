package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/leadpipe/leadpipe/internal/model"
)

// importRecord is the wire shape of one business record in an import file.
type importRecord struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Street       string  `json:"street"`
	City         string  `json:"city"`
	State        string  `json:"state"`
	Zip          string  `json:"zip"`
	Phone        string  `json:"phone"`
	Email        string  `json:"email"`
	Website      string  `json:"website"`
	Source       string  `json:"source"`
	QualityScore float64 `json:"quality_score"`
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import business records from a JSON file",
		Long: `Import business records from a JSON file (an array of objects, or one
object per line). Records without an id are assigned one; records whose id
already exists are left untouched.

Examples:
  leadpipe import leads.json
  leadpipe import --source yelp scraped.jsonl
  cat leads.json | leadpipe import -`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}

	cmd.Flags().String("source", "", "Source label applied to records that lack one")

	return cmd
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	defaultSource, _ := cmd.Flags().GetString("source")

	var reader io.Reader
	if args[0] == "-" {
		reader = os.Stdin
	} else {
		file, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open import file: %w", err)
		}
		defer func() { _ = file.Close() }()
		reader = file
	}

	records, err := decodeRecords(reader)
	if err != nil {
		return fmt.Errorf("failed to parse import file: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No records to import")
		return nil
	}

	store, err := initStorage(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			slog.Error("Failed to close database", "error", closeErr)
		}
	}()

	now := time.Now()
	businesses := make([]model.Business, 0, len(records))
	skipped := 0
	for _, r := range records {
		if strings.TrimSpace(r.Name) == "" {
			skipped++
			continue
		}
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		if r.Source == "" {
			r.Source = defaultSource
		}
		businesses = append(businesses, model.Business{
			ID:           r.ID,
			Name:         r.Name,
			Street:       r.Street,
			City:         r.City,
			State:        r.State,
			Zip:          r.Zip,
			Phone:        r.Phone,
			Email:        r.Email,
			Website:      r.Website,
			Status:       model.BusinessActive,
			Source:       r.Source,
			QualityScore: r.QualityScore,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	if len(businesses) == 0 {
		fmt.Printf("No importable records (%d skipped: missing name)\n", skipped)
		return nil
	}
	if err := store.SaveBusinesses(ctx, businesses); err != nil {
		return fmt.Errorf("failed to save businesses: %w", err)
	}

	fmt.Printf("Imported %d records", len(businesses))
	if skipped > 0 {
		fmt.Printf(" (%d skipped: missing name)", skipped)
	}
	fmt.Println()

	return nil
}

// decodeRecords accepts both a top-level JSON array and newline-delimited
// objects, since upstream scrapers produce both.
func decodeRecords(r io.Reader) ([]importRecord, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var records []importRecord
		if err := json.Unmarshal([]byte(trimmed), &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var records []importRecord
	dec := json.NewDecoder(strings.NewReader(trimmed))
	for dec.More() {
		var rec importRecord
		if err := dec.Decode(&rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}
