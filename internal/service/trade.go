package service

import (
	"context"
	"regexp"

	"github.com/efreitasn/miniswap/internal/domain"
	"github.com/efreitasn/miniswap/internal/engine"
)

var (
	partyRegex        = regexp.MustCompile(`^[a-zA-Z0-9:._-]{1,64}$`)
	registryNameRegex = regexp.MustCompile(`^[a-z0-9_-]{1,32}$`)
	assetIDRegex      = regexp.MustCompile(`^[a-zA-Z0-9:._-]{1,128}$`)
)

// AssetRefInput is an asset reference as submitted by a caller.
type AssetRefInput struct {
	Registry string
	AssetID  string
}

// ProposeTradeRequest represents the input for trade proposal. Party is
// the caller and becomes the trade's from side.
type ProposeTradeRequest struct {
	Party   string
	ToParty string
}

// AgreeTradeRequest represents the input for trade agreement. The two
// references name the trade's sides positionally: FromAsset is the
// proposer's asset, ToAsset the counterpart's.
type AgreeTradeRequest struct {
	Party     string
	FromAsset AssetRefInput
	ToAsset   AssetRefInput
}

// TradeService validates requests and drives the lifecycle engine.
type TradeService struct {
	lifecycle *engine.Lifecycle
}

// NewTradeService creates a TradeService over the given lifecycle.
func NewTradeService(lifecycle *engine.Lifecycle) *TradeService {
	return &TradeService{lifecycle: lifecycle}
}

// Propose validates the request and creates a new trade.
func (s *TradeService) Propose(req ProposeTradeRequest) (domain.Trade, error) {
	if err := validateParty("party", req.Party); err != nil {
		return domain.Trade{}, err
	}
	if err := validateParty("to_party", req.ToParty); err != nil {
		return domain.Trade{}, err
	}
	return s.lifecycle.Propose(domain.Party(req.Party), domain.Party(req.ToParty))
}

// Agree validates the request and records the caller's agreement.
func (s *TradeService) Agree(ctx context.Context, id uint64, req AgreeTradeRequest) (domain.Trade, error) {
	if err := validateParty("party", req.Party); err != nil {
		return domain.Trade{}, err
	}
	fromRef, err := validateAssetRef("from_asset", req.FromAsset)
	if err != nil {
		return domain.Trade{}, err
	}
	toRef, err := validateAssetRef("to_asset", req.ToAsset)
	if err != nil {
		return domain.Trade{}, err
	}
	return s.lifecycle.Agree(ctx, id, domain.Party(req.Party), fromRef, toRef)
}

// Confirm validates the caller identity and records the confirmation.
func (s *TradeService) Confirm(ctx context.Context, id uint64, party string) (domain.Trade, error) {
	if err := validateParty("party", party); err != nil {
		return domain.Trade{}, err
	}
	return s.lifecycle.Confirm(ctx, id, domain.Party(party))
}

// Cancel validates the caller identity and cancels the trade.
func (s *TradeService) Cancel(id uint64, party string) (domain.Trade, error) {
	if err := validateParty("party", party); err != nil {
		return domain.Trade{}, err
	}
	return s.lifecycle.Cancel(id, domain.Party(party))
}

// Get returns the trade by id.
func (s *TradeService) Get(id uint64) (domain.Trade, error) {
	return s.lifecycle.Get(id)
}

// ListOpen returns non-terminal trades ordered by expiration deadline.
func (s *TradeService) ListOpen() []domain.Trade {
	return s.lifecycle.ListOpen()
}

func validateParty(field, v string) error {
	if !partyRegex.MatchString(v) {
		return &domain.ValidationError{
			Message: field + " must match ^[a-zA-Z0-9:._-]{1,64}$",
		}
	}
	return nil
}

func validateAssetRef(field string, in AssetRefInput) (domain.AssetRef, error) {
	if !registryNameRegex.MatchString(in.Registry) {
		return domain.AssetRef{}, &domain.ValidationError{
			Message: field + ".registry must match ^[a-z0-9_-]{1,32}$",
		}
	}
	if !assetIDRegex.MatchString(in.AssetID) {
		return domain.AssetRef{}, &domain.ValidationError{
			Message: field + ".asset_id must match ^[a-zA-Z0-9:._-]{1,128}$",
		}
	}
	return domain.AssetRef{Registry: in.Registry, AssetID: in.AssetID}, nil
}
