// Package main seeds the drug catalog and, on request, opening stock.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"pharmaledger/internal/core/id"
	"pharmaledger/internal/core/types"
	"pharmaledger/internal/domain/ledger"
	"pharmaledger/internal/infrastructure/storage/postgres"
	"pharmaledger/internal/infrastructure/storage/postgres/ledger_repo"
	"pharmaledger/pkg/logger"
)

// seedDrug is one catalog entry of the seed file.
type seedDrug struct {
	Name             string      `json:"name"`
	SaleUnit         string      `json:"saleUnit"`
	ConversionFactor int64       `json:"conversionFactor"`
	UnitPrice        types.Money `json:"unitPrice"`
	VATRate          types.Rate  `json:"vatRate"`
	OpeningStock     []seedBatch `json:"openingStock"`
}

type seedBatch struct {
	Quantity   int64       `json:"quantity"`
	UnitCost   types.Money `json:"unitCost"`
	ExpiryDate string      `json:"expiryDate"`
}

var demoCatalog = []seedDrug{
	{
		Name: "Paracetamol 500mg", SaleUnit: "tablet", ConversionFactor: 20,
		UnitPrice: types.MustMoney("0.15"), VATRate: types.MustMoney("10"),
		OpeningStock: []seedBatch{
			{Quantity: 400, UnitCost: types.MustMoney("0.08"), ExpiryDate: "2027-03-31"},
			{Quantity: 600, UnitCost: types.MustMoney("0.07"), ExpiryDate: "2027-09-30"},
		},
	},
	{
		Name: "Amoxicillin 250mg", SaleUnit: "capsule", ConversionFactor: 21,
		UnitPrice: types.MustMoney("0.40"), VATRate: types.MustMoney("10"),
		OpeningStock: []seedBatch{
			{Quantity: 210, UnitCost: types.MustMoney("0.22"), ExpiryDate: "2027-01-31"},
		},
	},
	{
		Name: "Saline 0.9% 500ml", SaleUnit: "bottle", ConversionFactor: 1,
		UnitPrice: types.MustMoney("2.10"), VATRate: types.MustMoney("5"),
	},
}

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
		Service:     "pharmaledger-seed",
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := logger.WithLogger(context.Background(), log)

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dbURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	catalog := demoCatalog
	if path := os.Getenv("SEED_FILE"); path != "" {
		if catalog, err = loadCatalog(path); err != nil {
			log.Fatalw("failed to read seed file", "path", path, "error", err)
		}
	}

	txManager := postgres.NewTxManager(pool)
	drugs := ledger_repo.NewDrugRepo(txManager)

	for _, d := range catalog {
		drug := ledger.Drug{
			ID:               id.Named(d.Name),
			Name:             d.Name,
			SaleUnit:         d.SaleUnit,
			ConversionFactor: d.ConversionFactor,
			UnitPrice:        d.UnitPrice,
			VATRate:          d.VATRate,
		}
		if err := drugs.UpsertDrug(ctx, drug); err != nil {
			log.Fatalw("failed to upsert drug", "name", d.Name, "error", err)
		}
		log.Infow("drug seeded", "id", drug.ID, "name", drug.Name)
	}

	if os.Getenv("SEED_OPENING_STOCK") != "true" {
		log.Info("seed completed")
		return
	}

	repos, err := ledger_repo.NewRepositories(txManager)
	if err != nil {
		log.Fatalw("failed to build repositories", "error", err)
	}
	service := ledger.NewService(repos, txManager, ledger.DefaultConfig())

	for _, d := range catalog {
		for _, sb := range d.OpeningStock {
			batch, err := toBatch(id.Named(d.Name), d.VATRate, sb)
			if err != nil {
				log.Fatalw("invalid opening batch", "drug", d.Name, "error", err)
			}
			stored, snap, err := service.ReceiveBatch(ctx, batch)
			if err != nil {
				log.Fatalw("failed to receive opening batch", "drug", d.Name, "error", err)
			}
			log.Infow("opening batch received",
				"drug", d.Name,
				"batch_id", stored.ID,
				"arrival_order", stored.ArrivalOrder,
				"remaining", snap.Remaining,
			)
		}
	}

	log.Info("seed completed")
}

func loadCatalog(path string) ([]seedDrug, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var catalog []seedDrug
	if err := json.Unmarshal(data, &catalog); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return catalog, nil
}

// toBatch converts an opening batch; the batch ID is derived from drug and expiry so
// a rerun fails on the duplicate instead of receiving the stock twice.
func toBatch(drugID id.ID, vat types.Rate, sb seedBatch) (ledger.Batch, error) {
	expiry, err := time.Parse("2006-01-02", sb.ExpiryDate)
	if err != nil {
		return ledger.Batch{}, err
	}
	return ledger.Batch{
		ID:               id.Named(drugID.String() + "/" + sb.ExpiryDate),
		DrugID:           drugID,
		ReceivedQuantity: types.Quantity(sb.Quantity),
		UnitCost:         sb.UnitCost,
		VATRate:          vat,
		ExpiryDate:       expiry,
	}, nil
}
