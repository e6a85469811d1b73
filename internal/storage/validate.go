package storage

import (
	"fmt"

	"github.com/PilotDAO/lendpilot-sub000/internal/domain"
)

// ValidateRawSnapshot checks the key fields of a raw snapshot.
func ValidateRawSnapshot(s *domain.RawMarketSnapshot) error {
	if s == nil || s.MarketKey == "" {
		return ErrInvalidInput
	}
	if !s.Source.IsValid() {
		return fmt.Errorf("%w: source %q", ErrInvalidInput, s.Source)
	}
	return validateDate(s.Date)
}

// ValidateAssetSnapshot checks the key fields of an asset snapshot.
func ValidateAssetSnapshot(s *domain.AssetSnapshot) error {
	if s == nil || s.MarketKey == "" || s.Asset == "" {
		return ErrInvalidInput
	}
	if !s.Source.IsValid() {
		return fmt.Errorf("%w: source %q", ErrInvalidInput, s.Source)
	}
	return validateDate(s.Date)
}

// ValidateTimeseriesPoint checks the key fields of a market timeseries point.
func ValidateTimeseriesPoint(p *domain.MarketTimeseriesPoint) error {
	if p == nil || p.MarketKey == "" {
		return ErrInvalidInput
	}
	return validateDate(p.Date)
}

func validateDate(date string) error {
	if _, err := domain.ParseDate(date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
