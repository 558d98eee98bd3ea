package importer

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/inventory-sync/internal/event"
	"github.com/example/inventory-sync/internal/infrastructure/store"
)

var ErrEmptyFile = errors.New("import file has no data rows")

// expected CSV header, in order
var expectedColumns = []string{"sku", "name", "price", "inventory_quantity", "description"}

// Row is one parsed and validated import line
type Row struct {
	SKU         string
	Name        string
	PriceCents  int64
	Quantity    int
	Description string
}

// RowError records why one line was rejected; the rest of the file still runs
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Result summarizes one import run
type Result struct {
	Checksum string     `json:"checksum"`
	Total    int        `json:"total_rows"`
	Created  int        `json:"created"`
	Updated  int        `json:"updated"`
	Enqueued int        `json:"enqueued"`
	Rejected []RowError `json:"rejected,omitempty"`
}

// Publisher enqueues inventory events for the worker
type Publisher interface {
	Publish(ctx context.Context, key string, payload any) error
}

// Importer runs bulk catalog imports. Import files come from operators and
// are trusted: unknown SKUs create products, known SKUs get their catalog
// details updated in place. Quantity changes still go through the queue so
// they are versioned and logged like every other mutation.
type Importer struct {
	products  store.ProductStore
	publisher Publisher
	logger    *zap.Logger
}

func New(products store.ProductStore, publisher Publisher, logger *zap.Logger) *Importer {
	return &Importer{products: products, publisher: publisher, logger: logger}
}

// Run parses the CSV, upserts catalog rows and enqueues one import event per
// valid row. The file checksum makes row keys deterministic: re-submitting
// the same file enqueues events that the engine discards as duplicates.
func (imp *Importer) Run(ctx context.Context, file io.Reader) (*Result, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	sum := sha256.Sum256(data)
	checksum := hex.EncodeToString(sum[:])

	rows, rejected, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	result := &Result{
		Checksum: checksum,
		Total:    len(rows) + len(rejected),
		Rejected: rejected,
	}

	for _, row := range rows {
		productID, created, err := imp.upsertCatalog(ctx, row)
		if err != nil {
			imp.logger.Error("failed to upsert import row",
				zap.String("sku", row.SKU), zap.Error(err))
			result.Rejected = append(result.Rejected, RowError{Reason: fmt.Sprintf("sku %s: %v", row.SKU, err)})
			continue
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}

		quantity := row.Quantity
		ev := &event.InventoryEvent{
			Source:         event.SourceImport,
			ProductID:      productID,
			SKU:            row.SKU,
			NewQuantity:    &quantity,
			IdempotencyKey: event.ImportKey(checksum, row.SKU),
			OccurredAt:     time.Now(),
			Notes:          fmt.Sprintf("bulk import %s", checksum[:12]),
		}

		if err := imp.publisher.Publish(ctx, ev.ProductID.String(), ev); err != nil {
			return result, fmt.Errorf("failed to enqueue import event for %s: %w", row.SKU, err)
		}
		result.Enqueued++
	}

	imp.logger.Info("import processed",
		zap.String("checksum", checksum[:12]),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("enqueued", result.Enqueued),
		zap.Int("rejected", len(result.Rejected)))

	return result, nil
}

// Parse reads and validates the CSV. Individual bad rows are collected, not
// fatal; a missing or wrong header is.
func Parse(r io.Reader) ([]Row, []RowError, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil, ErrEmptyFile
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read csv header: %w", err)
	}
	if err := checkHeader(header); err != nil {
		return nil, nil, err
	}

	var rows []Row
	var rejected []RowError
	seen := make(map[string]int)

	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			rejected = append(rejected, RowError{Line: line, Reason: err.Error()})
			continue
		}

		row, err := parseRow(record)
		if err != nil {
			rejected = append(rejected, RowError{Line: line, Reason: err.Error()})
			continue
		}
		if prev, dup := seen[row.SKU]; dup {
			rejected = append(rejected, RowError{Line: line, Reason: fmt.Sprintf("duplicate sku %s (first on line %d)", row.SKU, prev)})
			continue
		}
		seen[row.SKU] = line
		rows = append(rows, row)
	}

	if len(rows) == 0 && len(rejected) == 0 {
		return nil, nil, ErrEmptyFile
	}
	return rows, rejected, nil
}

func checkHeader(header []string) error {
	if len(header) != len(expectedColumns) {
		return fmt.Errorf("expected columns %v, got %d columns", expectedColumns, len(header))
	}
	for i, col := range expectedColumns {
		if strings.TrimSpace(strings.ToLower(header[i])) != col {
			return fmt.Errorf("expected column %d to be %q, got %q", i+1, col, header[i])
		}
	}
	return nil
}

func parseRow(record []string) (Row, error) {
	if len(record) != len(expectedColumns) {
		return Row{}, fmt.Errorf("expected %d fields, got %d", len(expectedColumns), len(record))
	}

	sku := strings.TrimSpace(record[0])
	if sku == "" {
		return Row{}, errors.New("empty sku")
	}
	name := strings.TrimSpace(record[1])
	if name == "" {
		return Row{}, errors.New("empty name")
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(record[2]), 64)
	if err != nil || price < 0 {
		return Row{}, fmt.Errorf("invalid price %q", record[2])
	}

	quantity, err := strconv.Atoi(strings.TrimSpace(record[3]))
	if err != nil || quantity < 0 {
		return Row{}, fmt.Errorf("invalid inventory_quantity %q", record[3])
	}

	return Row{
		SKU:         sku,
		Name:        name,
		PriceCents:  int64(price*100 + 0.5),
		Quantity:    quantity,
		Description: strings.TrimSpace(record[4]),
	}, nil
}

// upsertCatalog creates the product if the SKU is new, otherwise refreshes
// its catalog details. Quantity is deliberately not touched here.
func (imp *Importer) upsertCatalog(ctx context.Context, row Row) (uuid.UUID, bool, error) {
	existing, err := imp.products.GetBySKU(ctx, row.SKU)
	if errors.Is(err, store.ErrProductNotFound) {
		p := &store.Product{
			ID:          uuid.New(),
			Name:        row.Name,
			SKU:         row.SKU,
			PriceCents:  row.PriceCents,
			Description: row.Description,
		}
		if err := imp.products.Create(ctx, p); err != nil {
			// Lost a race with a concurrent import of the same SKU
			if errors.Is(err, store.ErrSKUExists) {
				winner, getErr := imp.products.GetBySKU(ctx, row.SKU)
				if getErr != nil {
					return uuid.Nil, false, getErr
				}
				return winner.ID, false, imp.products.UpdateDetails(ctx, winner.ID, row.Name, row.PriceCents, row.Description)
			}
			return uuid.Nil, false, err
		}
		return p.ID, true, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}

	return existing.ID, false, imp.products.UpdateDetails(ctx, existing.ID, row.Name, row.PriceCents, row.Description)
}
