package engine

import (
	"github.com/shopspring/decimal"

	"affiliate-engine/internal/model"
)

// DefaultLevels is the standard promotion ladder, seeded on startup when
// the catalog is empty. Rates are fractions of the purchase amount.
// Minimum indirect counts follow the 3^n growth of a full 3x3 network.
func DefaultLevels() []*model.Level {
	mk := func(name string, order int, rate string, minIndirect int, color, icon string) *model.Level {
		return &model.Level{
			Name:                 name,
			Order:                order,
			CommissionRate:       decimal.RequireFromString(rate),
			MinDirectReferrals:   3,
			MinIndirectReferrals: minIndirect,
			Color:                color,
			Icon:                 icon,
		}
	}

	return []*model.Level{
		mk("Visionario Primeros 3", 1, "0.15", 0, "#3B82F6", "eye"),
		mk("Mentor 3 de 3", 2, "0.20", 9, "#10B981", "graduation-cap"),
		mk("Guia", 3, "0.25", 27, "#8B5CF6", "compass"),
		mk("Master", 4, "0.30", 81, "#F59E0B", "crown"),
		mk("Guerrero", 5, "0.32", 243, "#EF4444", "swords"),
		mk("Gladiador", 6, "0.35", 729, "#DC2626", "shield"),
		mk("Lider", 7, "0.38", 2187, "#7C3AED", "rocket"),
		mk("Oro", 8, "0.40", 6561, "#EAB308", "medal"),
	}
}
