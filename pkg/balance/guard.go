package balance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"market-pipeline/pkg/provider"
)

// ErrRetrievalFailed is returned when the balance read itself fails
var ErrRetrievalFailed = errors.New("balance retrieval failed")

// Requirement is an amount of one asset a transaction needs
type Requirement struct {
	Asset  string
	Amount decimal.Decimal
}

// Shortfall describes the first requirement the account cannot cover
type Shortfall struct {
	Asset     string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (s *Shortfall) String() string {
	return fmt.Sprintf("need %s %s, have %s", s.Required.String(), s.Asset, s.Available.String())
}

// Guard decides whether an account holds enough of an asset
type Guard struct {
	reader provider.BalanceReader
}

// NewGuard creates a balance guard over a balance reader
func NewGuard(reader provider.BalanceReader) *Guard {
	return &Guard{reader: reader}
}

// CheckSufficientBalance returns false if the balance is strictly below required
func (g *Guard) CheckSufficientBalance(ctx context.Context, signerRef string, required decimal.Decimal, asset string) (bool, error) {
	available, err := g.reader.GetBalance(ctx, signerRef, asset)
	if err != nil {
		log.WithError(err).WithField("asset", asset).Error("balance read failed")
		return false, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
	}

	log.WithFields(log.Fields{
		"asset":     asset,
		"required":  required.String(),
		"available": available.String(),
	}).Debug("balance checked")

	return !available.LessThan(required), nil
}

// CheckRequirements checks every asset requirement and returns the first shortfall,
// or nil when all are covered
func (g *Guard) CheckRequirements(ctx context.Context, signerRef string, reqs []Requirement) (*Shortfall, error) {
	for _, req := range Merge(reqs...) {
		available, err := g.reader.GetBalance(ctx, signerRef, req.Asset)
		if err != nil {
			log.WithError(err).WithField("asset", req.Asset).Error("balance read failed")
			return nil, fmt.Errorf("%w: %v", ErrRetrievalFailed, err)
		}
		if available.LessThan(req.Amount) {
			return &Shortfall{
				Asset:     req.Asset,
				Required:  req.Amount,
				Available: available,
			}, nil
		}
	}
	return nil, nil
}

// Merge sums requirements that share an asset, keeping first-seen order
func Merge(reqs ...Requirement) []Requirement {
	merged := make([]Requirement, 0, len(reqs))
	index := make(map[string]int)

	for _, req := range reqs {
		asset := strings.ToUpper(req.Asset)
		if i, ok := index[asset]; ok {
			merged[i].Amount = merged[i].Amount.Add(req.Amount)
			continue
		}
		index[asset] = len(merged)
		merged = append(merged, Requirement{Asset: asset, Amount: req.Amount})
	}
	return merged
}
