// simulate evaluates a fixture of orders against a supplied price without
// executing anything: a pure dry run for diagnosing trigger behavior.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"trigger-engine-go/engine"
	"trigger-engine-go/executor"
	"trigger-engine-go/oracle"
	"trigger-engine-go/order"
	"trigger-engine-go/store"
)

type fixtureOrder struct {
	ID               string `yaml:"id"`
	Owner            string `yaml:"owner"`
	Direction        string `yaml:"direction"`
	FromToken        string `yaml:"fromToken"`
	ToToken          string `yaml:"toToken"`
	Amount           string `yaml:"amount"`
	TriggerPrice     string `yaml:"triggerPrice"`
	TriggerCondition string `yaml:"triggerCondition"`
	MaxRetries       int    `yaml:"maxRetries"`
	ExpiresAt        string `yaml:"expiresAt"` // RFC3339, empty = +24h
}

// noExecutor guards the dry run: simulation must never reach the executor.
type noExecutor struct{}

func (noExecutor) Execute(context.Context, *order.Order) (executor.Result, error) {
	return executor.Result{}, fmt.Errorf("simulation must not execute")
}

func main() {
	fixturePath := flag.String("orders", "orders.yaml", "order fixture file")
	priceStr := flag.String("price", "", "mock price to evaluate against")
	flag.Parse()

	price, err := decimal.NewFromString(*priceStr)
	if err != nil {
		log.Fatalf("bad -price %q: %v", *priceStr, err)
	}

	raw, err := os.ReadFile(*fixturePath)
	if err != nil {
		log.Fatalf("read fixture: %v", err)
	}
	var fixtures []fixtureOrder
	if err := yaml.Unmarshal(raw, &fixtures); err != nil {
		log.Fatalf("parse fixture: %v", err)
	}

	now := time.Now().UTC()
	st := store.NewMemory()
	for i, f := range fixtures {
		o, err := toOrder(f, now, i)
		if err != nil {
			log.Fatalf("fixture entry %d: %v", i, err)
		}
		if err := st.Create(context.Background(), o); err != nil {
			log.Fatalf("fixture entry %d: %v", i, err)
		}
	}

	m := engine.New(oracle.Fixed{Price: price}, st, noExecutor{})
	fired, err := m.Simulate(context.Background(), price)
	if err != nil {
		log.Fatalf("simulate: %v", err)
	}

	firedSet := make(map[string]bool, len(fired))
	for _, id := range fired {
		firedSet[id] = true
	}
	fmt.Printf("price %s: %d of %d orders would fire\n\n", price, len(fired), len(fixtures))
	for _, f := range fixtures {
		mark := " "
		if firedSet[f.ID] {
			mark = "*"
		}
		fmt.Printf("%s %-20s %s %s @ %s\n", mark, f.ID, f.TriggerCondition, f.TriggerPrice, f.Amount)
	}
}

func toOrder(f fixtureOrder, now time.Time, i int) (*order.Order, error) {
	amount, err := decimal.NewFromString(f.Amount)
	if err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	trigger, err := decimal.NewFromString(f.TriggerPrice)
	if err != nil {
		return nil, fmt.Errorf("triggerPrice: %w", err)
	}
	expiresAt := now.Add(24 * time.Hour)
	if f.ExpiresAt != "" {
		if expiresAt, err = time.Parse(time.RFC3339, f.ExpiresAt); err != nil {
			return nil, fmt.Errorf("expiresAt: %w", err)
		}
	}
	id := f.ID
	if id == "" {
		id = fmt.Sprintf("fixture-%d", i)
	}
	maxRetries := f.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &order.Order{
		ID:               id,
		Owner:            f.Owner,
		Direction:        order.Direction(f.Direction),
		FromToken:        f.FromToken,
		ToToken:          f.ToToken,
		Amount:           amount,
		TriggerPrice:     trigger,
		TriggerCondition: order.Condition(f.TriggerCondition),
		Status:           order.StatusActive,
		MaxRetries:       maxRetries,
		ExpiresAt:        expiresAt,
		CreatedAt:        now.Add(time.Duration(i) * time.Millisecond),
	}, nil
}
