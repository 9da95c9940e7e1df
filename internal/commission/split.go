package commission

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/shophub-settlement/pkg/db/models"
	"github.com/angelmondragon/shophub-settlement/pkg/money"
	"github.com/angelmondragon/shophub-settlement/pkg/outbox/payloads"
)

// VendorShare is one vendor's part of an order: what it sold, what the
// marketplace keeps and what the vendor earns.
type VendorShare struct {
	VendorID   uuid.UUID
	Rate       decimal.Decimal
	Gross      decimal.Decimal
	Commission decimal.Decimal
	Earning    decimal.Decimal
}

func (s VendorShare) payload() payloads.VendorShare {
	return payloads.VendorShare{
		VendorID:   s.VendorID,
		Gross:      s.Gross,
		Commission: s.Commission,
		Earning:    s.Earning,
	}
}

// Split groups items by vendor in first-appearance order and applies each
// vendor's commission rate. Vendors missing from rates are left out.
func Split(items []models.OrderItem, rates map[uuid.UUID]decimal.Decimal) []VendorShare {
	order := make([]uuid.UUID, 0)
	gross := make(map[uuid.UUID]decimal.Decimal)
	for _, item := range items {
		if _, ok := rates[item.VendorID]; !ok {
			continue
		}
		if _, seen := gross[item.VendorID]; !seen {
			order = append(order, item.VendorID)
			gross[item.VendorID] = decimal.Zero
		}
		gross[item.VendorID] = gross[item.VendorID].Add(item.LineTotal())
	}

	shares := make([]VendorShare, 0, len(order))
	for _, vendorID := range order {
		amount := money.Round(gross[vendorID])
		rate := rates[vendorID]
		commission := money.Percent(amount, rate)
		shares = append(shares, VendorShare{
			VendorID:   vendorID,
			Rate:       rate,
			Gross:      amount,
			Commission: commission,
			Earning:    amount.Sub(commission),
		})
	}
	return shares
}

func sharePayloads(shares []VendorShare) []payloads.VendorShare {
	out := make([]payloads.VendorShare, 0, len(shares))
	for _, share := range shares {
		out = append(out, share.payload())
	}
	return out
}
