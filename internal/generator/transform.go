package generator

import (
	"fmt"
	"strings"

	"github.com/bidautoweb/post-generator-service/internal/catalog"
)

// DescribedLot pairs a lot with the assistant's image description.
type DescribedLot struct {
	Lot            catalog.Lot
	Description    string
	ConditionScore int
}

func lotPromptText(lot catalog.Lot) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#Lot ID: %d\n", lot.LotID)
	fmt.Fprintf(&b, "Auction: %s\n", lot.BaseSite)
	fmt.Fprintf(&b, "Make: %s\n", lot.Make)
	fmt.Fprintf(&b, "Model: %s\n", lot.Model)
	fmt.Fprintf(&b, "Series: %s\n", lot.Series)
	fmt.Fprintf(&b, "Damage primary: %s\n", lot.DamagePrimary)
	fmt.Fprintf(&b, "Damage secondary: %s\n", orNA(lot.DamageSecondary))
	fmt.Fprintf(&b, "Year: %d\n", lot.Year)
	fmt.Fprintf(&b, "Keys: %s\n", yesNo(lot.Keys))
	fmt.Fprintf(&b, "Seller: %s\n", orNA(lot.Seller))
	fmt.Fprintf(&b, "Odometer(odometer status: %s): %d miles\n", lot.OdoBrand, lot.Odometer)
	fmt.Fprintf(&b, "Document: %s, Document old: %s\n", lot.Document, lot.DocumentOld)
	fmt.Fprintf(&b, "Transmission: %s\n", lot.Transmission)
	fmt.Fprintf(&b, "Status: %s\n", lot.Status)
	if lot.PriceReserve > 0 {
		fmt.Fprintf(&b, "Price reserve: %d", lot.PriceReserve)
	} else {
		b.WriteString("Price reserve: N/A")
	}

	return b.String()
}

// lotsPrompt serializes every candidate into one numbered text block for the
// shortlist assistant.
func lotsPrompt(lots []catalog.Lot) string {
	var b strings.Builder
	for i, lot := range lots {
		fmt.Fprintf(&b, "%d. %s\n\n", i+1, lotPromptText(lot))
	}
	return b.String()
}

// describedLotsPrompt serializes the surviving lots together with their
// image descriptions for the finalize assistant.
func describedLotsPrompt(lots []DescribedLot) string {
	var b strings.Builder
	for i, described := range lots {
		fmt.Fprintf(&b, "%d. %s\n", i+1, lotPromptText(described.Lot))
		fmt.Fprintf(&b, "INFO ABOUT LOT IMAGES:\n")
		fmt.Fprintf(&b, "Description: %s\n", described.Description)
		fmt.Fprintf(&b, "Images Score: %d/10\n\n", described.ConditionScore)
	}
	return b.String()
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
