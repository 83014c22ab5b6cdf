// Copyright (c) 2025, the syncwell contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package services

// Pricing tiers, driven purely by subscription device quantity.
const (
	TierStarter    = "starter"
	TierTeam       = "team"
	TierBusiness   = "business"
	TierEnterprise = "enterprise"
)

type tierThreshold struct {
	maxDevices int
	tier       string
}

// Thresholds are ordered and non-overlapping; the first bucket whose upper
// bound covers the quantity wins.
var tierThresholds = []tierThreshold{
	{5, TierStarter},
	{25, TierTeam},
	{100, TierBusiness},
}

// TierForQuantity maps a subscription's device quantity to a pricing tier.
func TierForQuantity(quantity int) string {
	for _, t := range tierThresholds {
		if quantity <= t.maxDevices {
			return t.tier
		}
	}
	return TierEnterprise
}
